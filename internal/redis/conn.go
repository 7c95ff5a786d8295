package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nikusha1446/real-time-leaderboard/internal/config"
	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
	"github.com/redis/go-redis/v9"
)

// State is the lifecycle state of a Conn.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

var (
	// ErrNotReady is returned by Handle when the connection is not Ready.
	ErrNotReady = fmt.Errorf("%w: redis connection not ready", domain.ErrStoreUnavailable)

	// ErrInvalidState is returned when Connect is called more than once.
	ErrInvalidState = errors.New("redis connection already started")
)

// Conn owns the single session to Redis shared by the score store and the
// ledger. It connects once and never reconnects: after a transport failure
// it stays Errored until the process is restarted.
type Conn struct {
	cfg    *config.RedisConfig
	logger *slog.Logger

	state  atomic.Int32
	mu     sync.Mutex
	client *redis.Client
}

// NewConn creates a disconnected Conn.
func NewConn(cfg *config.RedisConfig, logger *slog.Logger) *Conn {
	return &Conn{
		cfg:    cfg,
		logger: logger,
	}
}

// Connect establishes the session and checks liveness with PING.
func (c *Conn) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("%w: state %s", ErrInvalidState, c.State())
	}

	client := redis.NewClient(&redis.Options{
		Addr:         c.cfg.Addr,
		Password:     c.cfg.Password,
		DB:           c.cfg.DB,
		PoolSize:     c.cfg.PoolSize,
		MinIdleConns: c.cfg.MinIdleConns,
		DialTimeout:  c.cfg.DialTimeout,
		ReadTimeout:  c.cfg.ReadTimeout,
		WriteTimeout: c.cfg.WriteTimeout,
		PoolTimeout:  c.cfg.PoolTimeout,
		MaxRetries:   -1,
	})
	client.AddHook(&failureHook{conn: c})

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	if err := client.Ping(ctx).Err(); err != nil {
		c.state.Store(int32(StateErrored))
		c.logger.Error("redis connection failed", "addr", c.cfg.Addr, "error", err)
		return fmt.Errorf("connecting to redis: %w: %w", domain.ErrStoreUnavailable, err)
	}

	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateReady)) {
		return fmt.Errorf("connecting to redis: %w", ErrNotReady)
	}
	c.logger.Info("redis connection ready", "addr", c.cfg.Addr)
	return nil
}

// IsReady reports whether the connection is Ready. It never touches the network.
func (c *Conn) IsReady() bool {
	return c.State() == StateReady
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Handle returns the active client.
func (c *Conn) Handle() (*redis.Client, error) {
	if !c.IsReady() {
		return nil, ErrNotReady
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, ErrNotReady
	}
	return c.client, nil
}

// Disconnect closes the session. It is safe to call more than once.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))
	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("closing redis connection: %w", err)
	}
	c.logger.Info("redis connection closed")
	return nil
}

// markFailed moves a live connection to Errored.
func (c *Conn) markFailed(err error) {
	for _, from := range []State{StateReady, StateConnecting} {
		if c.state.CompareAndSwap(int32(from), int32(StateErrored)) {
			c.logger.Error("redis transport failure", "previous_state", from.String(), "error", err)
			return
		}
	}
}

// isTransportError separates broken connections from ordinary replies:
// missing keys, server-side errors and the caller's own cancellation do not
// say anything about the health of the session.
func isTransportError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, redis.ErrClosed) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	return !isPoolContention(err)
}

// isPoolContention reports the client-side pool errors raised while waiting
// for a free connection. go-redis keeps these values in an internal package,
// so they can only be recognised by message.
func isPoolContention(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection pool timeout") ||
		strings.Contains(msg, "connection pool exhausted")
}

// failureHook watches every dial, command and pipeline on the client.
type failureHook struct {
	conn *Conn
}

func (h *failureHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		nc, err := next(ctx, network, addr)
		if isTransportError(err) {
			h.conn.markFailed(err)
		}
		return nc, err
	}
}

func (h *failureHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if isTransportError(err) {
			h.conn.markFailed(err)
		}
		return err
	}
}

func (h *failureHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if isTransportError(err) {
			h.conn.markFailed(err)
		}
		return err
	}
}
