package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nikusha1446/real-time-leaderboard/internal/config"
	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
	"github.com/nikusha1446/real-time-leaderboard/internal/metrics"
)

// Submission sources.
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// ScoreStore is the ranked score store.
type ScoreStore interface {
	IsReady() bool
	State() string
	Submit(ctx context.Context, sub domain.ScoreSubmission) (*domain.SubmissionResult, error)
	TopN(ctx context.Context, idx domain.Index, n int) ([]domain.LeaderboardEntry, error)
	RankOf(ctx context.Context, idx domain.Index, userID string) (*domain.UserRank, error)
	Count(ctx context.Context, idx domain.Index) (int64, error)
}

// HistoryReader reads a user's submission ledger.
type HistoryReader interface {
	History(ctx context.Context, userID string, limit int) ([]domain.HistoryRecord, error)
}

// EventRecorder keeps an audit copy of accepted submissions.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event domain.ScoreEvent) error
}

// Broadcaster notifies live subscribers of accepted submissions.
type Broadcaster interface {
	BroadcastSubmission(sub domain.ScoreSubmission, at time.Time)
}

// Option configures optional collaborators of the service.
type Option func(*LeaderboardService)

// WithEventRecorder mirrors accepted submissions into an audit log.
func WithEventRecorder(recorder EventRecorder) Option {
	return func(s *LeaderboardService) {
		s.events = recorder
	}
}

// WithBroadcaster publishes accepted submissions to live subscribers.
func WithBroadcaster(broadcaster Broadcaster) Option {
	return func(s *LeaderboardService) {
		s.broadcaster = broadcaster
	}
}

// WithMetrics records operation counts and latencies.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *LeaderboardService) {
		s.metrics = m
	}
}

// LeaderboardService answers ranking queries and accepts submissions on top
// of the score store and the history ledger. It holds no state of its own.
type LeaderboardService struct {
	store       ScoreStore
	history     HistoryReader
	config      *config.LeaderboardConfig
	logger      *slog.Logger
	events      EventRecorder
	broadcaster Broadcaster
	metrics     *metrics.Manager
	validate    *validator.Validate
	now         func() time.Time
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(
	store ScoreStore,
	history HistoryReader,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
	opts ...Option,
) *LeaderboardService {
	s := &LeaderboardService{
		store:    store,
		history:  history,
		config:   cfg,
		logger:   logger,
		validate: domain.NewValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitScore records a score for an identified user. The store is the
// source of truth; the audit copy and the broadcast happen only after it
// accepted the write and never fail the call.
func (s *LeaderboardService) SubmitScore(ctx context.Context, sub domain.ScoreSubmission, source string) (*domain.SubmissionResult, error) {
	if err := s.validate.Struct(sub); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	start := s.now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.store.Submit(ctx, sub)
	s.observe("submit_score", start, err)
	if err != nil {
		return nil, fmt.Errorf("submitting score: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordSubmission(source)
	}

	if s.events != nil {
		event := domain.ScoreEvent{
			ID:          uuid.NewString(),
			UserID:      sub.UserID,
			Username:    sub.Username,
			Game:        sub.Game,
			Score:       sub.Score,
			Source:      source,
			SubmittedAt: start,
		}
		if err := s.events.RecordEvent(ctx, event); err != nil {
			s.logger.Warn("failed to record score event",
				"user_id", sub.UserID,
				"game", sub.Game,
				"error", err,
			)
		}
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastSubmission(sub, start)
	}

	return result, nil
}

// GetTopGlobal returns the top of the global index.
func (s *LeaderboardService) GetTopGlobal(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	return s.getTop(ctx, "get_top_global", domain.GlobalIndex(), limit)
}

// GetTopGame returns the top of a game's index.
func (s *LeaderboardService) GetTopGame(ctx context.Context, game string, limit int) ([]domain.LeaderboardEntry, error) {
	if !domain.ValidGame(game) {
		return nil, fmt.Errorf("%w: game %q", domain.ErrInvalidInput, game)
	}
	return s.getTop(ctx, "get_top_game", domain.GameIndex(game), limit)
}

func (s *LeaderboardService) getTop(ctx context.Context, op string, idx domain.Index, limit int) ([]domain.LeaderboardEntry, error) {
	start := s.now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entries, err := s.store.TopN(ctx, idx, s.clampLimit(limit))
	s.observe(op, start, err)
	if err != nil {
		return nil, fmt.Errorf("getting top of %s: %w", idx, err)
	}
	return entries, nil
}

// GetBoard returns the top of idx together with the number of users in it.
func (s *LeaderboardService) GetBoard(ctx context.Context, idx domain.Index, limit int) (*domain.Board, error) {
	start := s.now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entries, err := s.store.TopN(ctx, idx, s.clampLimit(limit))
	if err == nil {
		var total int64
		total, err = s.store.Count(ctx, idx)
		if err == nil {
			s.observe("get_board", start, nil)
			return &domain.Board{
				Index:   idx.String(),
				Entries: entries,
				Total:   total,
			}, nil
		}
	}
	s.observe("get_board", start, err)
	return nil, fmt.Errorf("getting board %s: %w", idx, err)
}

// GetUserRank returns the user's position in the global index.
func (s *LeaderboardService) GetUserRank(ctx context.Context, userID string) (*domain.UserRank, error) {
	return s.getRank(ctx, "get_user_rank", domain.GlobalIndex(), userID)
}

// GetUserGameRank returns the user's position in a game's index.
func (s *LeaderboardService) GetUserGameRank(ctx context.Context, userID, game string) (*domain.UserRank, error) {
	if !domain.ValidGame(game) {
		return nil, fmt.Errorf("%w: game %q", domain.ErrInvalidInput, game)
	}
	return s.getRank(ctx, "get_user_game_rank", domain.GameIndex(game), userID)
}

func (s *LeaderboardService) getRank(ctx context.Context, op string, idx domain.Index, userID string) (*domain.UserRank, error) {
	start := s.now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rank, err := s.store.RankOf(ctx, idx, userID)
	s.observe(op, start, err)
	if err != nil {
		return nil, fmt.Errorf("getting rank in %s: %w", idx, err)
	}
	return rank, nil
}

// GetUserHistory returns the user's most recent submissions, newest first.
// A non-positive limit selects the default; larger limits are capped.
func (s *LeaderboardService) GetUserHistory(ctx context.Context, userID string, limit int) ([]domain.HistoryRecord, error) {
	start := s.now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = s.config.HistoryDefaultLimit
	}
	if limit > s.config.HistoryMaxLimit {
		limit = s.config.HistoryMaxLimit
	}

	records, err := s.history.History(ctx, userID, limit)
	s.observe("get_user_history", start, err)
	if err != nil {
		return nil, fmt.Errorf("getting history: %w", err)
	}
	return records, nil
}

// Health reports liveness. It never fails; readiness is part of the report.
func (s *LeaderboardService) Health() domain.Health {
	return domain.Health{
		Status:    "OK",
		Message:   "Real-time Leaderboard API is running",
		Ready:     s.store.IsReady(),
		Store:     s.store.State(),
		Timestamp: s.now().UTC(),
	}
}

// IsReady reports whether the score store can serve requests.
func (s *LeaderboardService) IsReady() bool {
	return s.store.IsReady()
}

func (s *LeaderboardService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		return s.config.MaxLimit
	}
	return limit
}

func (s *LeaderboardService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

func (s *LeaderboardService) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOperation(op, outcome(err), time.Since(start))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, domain.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return metrics.OutcomeInvalid
	case errors.Is(err, domain.ErrStoreUnavailable):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeError
	}
}
