package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nikusha1446/real-time-leaderboard/internal/config"
	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
	"github.com/nikusha1446/real-time-leaderboard/internal/metrics"
)

// RankingStore is the live side of the ranking indices.
type RankingStore interface {
	Boards(ctx context.Context) ([]domain.Index, error)
	Snapshot(ctx context.Context, idx domain.Index) (map[string]int64, error)
	Restore(ctx context.Context, idx domain.Index, scores map[string]int64) (int64, error)
}

// SnapshotRepository is the durable side of the ranking indices.
type SnapshotRepository interface {
	BatchUpsertScores(ctx context.Context, board string, scores map[string]int64) error
	GetAllScores(ctx context.Context, board string) (map[string]int64, error)
	ListBoards(ctx context.Context) ([]string, error)
}

// SyncWorker periodically copies every ranking index from Redis to
// PostgreSQL and restores missing entries from the copies at startup.
type SyncWorker struct {
	store    RankingStore
	snapshot SnapshotRepository
	config   *config.SyncConfig
	metrics  *metrics.Manager
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSyncWorker creates a new sync worker. m may be nil.
func NewSyncWorker(
	store RankingStore,
	snapshot SnapshotRepository,
	cfg *config.SyncConfig,
	m *metrics.Manager,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		store:    store,
		snapshot: snapshot,
		config:   cfg,
		metrics:  m,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if w.config.Interval <= 0 {
		return fmt.Errorf("invalid sync interval %s", w.config.Interval)
	}
	w.running = true

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process and waits for the loop to exit
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll snapshots all ranking indices found in Redis
func (w *SyncWorker) syncAll(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	boards, err := w.store.Boards(ctx)
	if err != nil {
		w.logger.Error("failed to list boards for sync", "error", err)
		w.observe(0, startTime, err)
		return
	}

	var errs []error
	entries := 0
	for _, idx := range boards {
		n, err := w.SyncToDatabase(ctx, idx)
		if err != nil {
			w.logger.Error("failed to sync board",
				"board", idx.String(),
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		entries += n
	}

	w.observe(entries, startTime, errors.Join(errs...))
	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"boards", len(boards),
		"entries", entries,
		"errors", len(errs),
	)
}

func (w *SyncWorker) observe(entries int, start time.Time, err error) {
	if w.metrics != nil {
		w.metrics.ObserveSnapshot(entries, time.Since(start), err)
	}
}

// SyncToDatabase copies one ranking index to PostgreSQL in batches and
// returns the number of entries written.
func (w *SyncWorker) SyncToDatabase(ctx context.Context, idx domain.Index) (int, error) {
	scores, err := w.store.Snapshot(ctx, idx)
	if err != nil {
		return 0, err
	}
	if len(scores) == 0 {
		return 0, nil
	}

	batchSize := w.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	batch := make(map[string]int64, batchSize)
	for userID, score := range scores {
		batch[userID] = score
		if len(batch) >= batchSize {
			if err := w.snapshot.BatchUpsertScores(ctx, idx.String(), batch); err != nil {
				return 0, err
			}
			batch = make(map[string]int64, batchSize)
		}
	}
	if len(batch) > 0 {
		if err := w.snapshot.BatchUpsertScores(ctx, idx.String(), batch); err != nil {
			return 0, err
		}
	}

	w.logger.Debug("synced board to database",
		"board", idx.String(),
		"entries", len(scores),
	)
	return len(scores), nil
}

// SyncFromDatabase re-adds snapshotted entries of one board that are
// missing from Redis. Live entries are never overwritten.
func (w *SyncWorker) SyncFromDatabase(ctx context.Context, idx domain.Index) (int64, error) {
	scores, err := w.snapshot.GetAllScores(ctx, idx.String())
	if err != nil {
		return 0, err
	}
	if len(scores) == 0 {
		return 0, nil
	}

	restored, err := w.store.Restore(ctx, idx, scores)
	if err != nil {
		return 0, err
	}

	w.logger.Debug("restored board from database",
		"board", idx.String(),
		"snapshotted", len(scores),
		"restored", restored,
	)
	return restored, nil
}

// SyncAllFromDatabase restores every snapshotted board. Boards that fail
// are logged and skipped.
func (w *SyncWorker) SyncAllFromDatabase(ctx context.Context) error {
	w.logger.Info("restoring boards from database")

	boards, err := w.snapshot.ListBoards(ctx)
	if err != nil {
		return err
	}

	var total int64
	for _, board := range boards {
		idx, ok := domain.ParseIndex(board)
		if !ok {
			w.logger.Warn("skipping unknown snapshot board", "board", board)
			continue
		}
		restored, err := w.SyncFromDatabase(ctx, idx)
		if err != nil {
			w.logger.Error("failed to restore board",
				"board", board,
				"error", err,
			)
			continue
		}
		total += restored
	}

	w.logger.Info("completed restoring boards from database",
		"boards", len(boards),
		"restored", total,
	)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}
