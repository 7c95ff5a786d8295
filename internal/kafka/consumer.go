package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"github.com/go-playground/validator/v10"
	"github.com/nikusha1446/real-time-leaderboard/internal/config"
	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
	"github.com/nikusha1446/real-time-leaderboard/internal/metrics"
	"github.com/nikusha1446/real-time-leaderboard/internal/service"
)

// ScoreHandler processes score submissions
type ScoreHandler interface {
	SubmitScore(ctx context.Context, sub domain.ScoreSubmission, source string) (*domain.SubmissionResult, error)
}

// ScoreMessage is the JSON layout of a submission published to Kafka.
// Producers are trusted services that already authenticated the user.
type ScoreMessage struct {
	UserID   string `json:"user_id" validate:"required"`
	Username string `json:"username" validate:"required"`
	Game     string `json:"game" validate:"required,game"`
	Score    *int64 `json:"score" validate:"required,min=0,max=9007199254740992"`
}

// Consumer consumes score messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       ScoreHandler
	metrics       *metrics.Manager
	validate      *validator.Validate
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer. m may be nil.
func NewConsumer(cfg *config.KafkaConfig, handler ScoreHandler, m *metrics.Manager, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	return newConsumer(cfg, handler, m, logger, consumerGroup), nil
}

func newConsumer(cfg *config.KafkaConfig, handler ScoreHandler, m *metrics.Manager, logger *slog.Logger, group sarama.ConsumerGroup) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		handler:       handler,
		metrics:       m,
		validate:      domain.NewValidator(),
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}
}

// Start begins consuming messages from Kafka. It returns once the first
// session is set up or ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	first := c.ready
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ready := first
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			ready = make(chan bool)
		}
	}()

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	select {
	case <-first:
		c.logger.Info("Kafka consumer ready")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// decode parses and validates one message value.
func (c *Consumer) decode(value []byte) (domain.ScoreSubmission, error) {
	var msg ScoreMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return domain.ScoreSubmission{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.validate.Struct(msg); err != nil {
		return domain.ScoreSubmission{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return domain.ScoreSubmission{
		UserID:   msg.UserID,
		Username: msg.Username,
		Game:     msg.Game,
		Score:    *msg.Score,
	}, nil
}

// process submits one message. Every message is processed at most once:
// failures are logged and counted, never retried.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) string {
	sub, err := c.decode(message.Value)
	if err != nil {
		c.logger.Warn("invalid score message",
			"error", err,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return c.record(metrics.OutcomeInvalid)
	}

	if c.config.MessageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.MessageTimeout)
		defer cancel()
	}

	if _, err := c.handler.SubmitScore(ctx, sub, service.SourceKafka); err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, domain.ErrStoreUnavailable) {
			outcome = metrics.OutcomeUnavailable
		}
		c.logger.Error("failed to submit score from kafka",
			"user_id", sub.UserID,
			"game", sub.Game,
			"offset", message.Offset,
			"partition", message.Partition,
			"error", err,
		)
		return c.record(outcome)
	}
	return c.record(metrics.OutcomeSuccess)
}

func (c *Consumer) record(outcome string) string {
	if c.metrics != nil {
		c.metrics.RecordKafkaMessage(outcome)
	}
	return outcome
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
	once     sync.Once
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition in order
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.process(session.Context(), message)
			session.MarkMessage(message, "")
		}
	}
}
