package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikusha1446/real-time-leaderboard/internal/config"
	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
)

// Repository keeps the durable side of the leaderboard: an audit log of
// accepted submissions and periodic snapshots of the ranking indices.
// Redis stays authoritative for rankings and history.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 {
		poolConfig.MinConns = int32(cfg.MinConnections)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS score_events (
			id UUID PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			username VARCHAR(255) NOT NULL,
			game VARCHAR(50) NOT NULL,
			score BIGINT NOT NULL,
			source VARCHAR(16) NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ranking_snapshots (
			board VARCHAR(64) NOT NULL,
			user_id VARCHAR(128) NOT NULL,
			score BIGINT NOT NULL,
			snapshot_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (board, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_score_events_user ON score_events(user_id, submitted_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_score_events_game ON score_events(game, submitted_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// RecordEvent stores the audit copy of an accepted submission. Recording
// the same event twice is a no-op.
func (r *Repository) RecordEvent(ctx context.Context, event domain.ScoreEvent) error {
	query := `
		INSERT INTO score_events (id, user_id, username, game, score, source, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.UserID,
		event.Username,
		event.Game,
		event.Score,
		event.Source,
		event.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// BatchUpsertScores writes the snapshot of one board.
func (r *Repository) BatchUpsertScores(ctx context.Context, board string, scores map[string]int64) error {
	if len(scores) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO ranking_snapshots (board, user_id, score, snapshot_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (board, user_id)
		DO UPDATE SET score = EXCLUDED.score, snapshot_at = EXCLUDED.snapshot_at
	`
	now := time.Now().UTC()

	for userID, score := range scores {
		batch.Queue(query, board, userID, score, now)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range scores {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting scores: %w", err)
		}
	}
	return nil
}

// GetAllScores returns the snapshot of one board.
func (r *Repository) GetAllScores(ctx context.Context, board string) (map[string]int64, error) {
	query := `SELECT user_id, score FROM ranking_snapshots WHERE board = $1`
	rows, err := r.pool.Query(ctx, query, board)
	if err != nil {
		return nil, fmt.Errorf("getting all scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]int64)
	for rows.Next() {
		var userID string
		var score int64
		if err := rows.Scan(&userID, &score); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		scores[userID] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting all scores: %w", err)
	}
	return scores, nil
}

// ListBoards returns the names of all snapshotted boards.
func (r *Repository) ListBoards(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT board FROM ranking_snapshots ORDER BY board`)
	if err != nil {
		return nil, fmt.Errorf("listing boards: %w", err)
	}
	boards, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning boards: %w", err)
	}
	return boards, nil
}
