package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nikusha1446/real-time-leaderboard/internal/config"
	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
	lbredis "github.com/nikusha1446/real-time-leaderboard/internal/redis"
	. "github.com/smartystreets/goconvey/convey"
)

type memoryRepository struct {
	mu      sync.Mutex
	boards  map[string]map[string]int64
	batches int
	err     error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{boards: make(map[string]map[string]int64)}
}

func (m *memoryRepository) BatchUpsertScores(_ context.Context, board string, scores map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches++
	if m.boards[board] == nil {
		m.boards[board] = make(map[string]int64)
	}
	for userID, score := range scores {
		m.boards[board][userID] = score
	}
	return nil
}

func (m *memoryRepository) GetAllScores(_ context.Context, board string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.boards[board]))
	for userID, score := range m.boards[board] {
		out[userID] = score
	}
	return out, nil
}

func (m *memoryRepository) ListBoards(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	boards := make([]string, 0, len(m.boards))
	for board := range m.boards {
		boards = append(boards, board)
	}
	return boards, nil
}

func (m *memoryRepository) snapshot(board string) map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boards[board]
}

func newStore(t *testing.T) *lbredis.ScoreStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	cfg := config.DefaultConfig().Redis
	cfg.Addr = mr.Addr()
	cfg.MinIdleConns = 0
	conn := lbredis.NewConn(&cfg, logger)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(func() { _ = conn.Disconnect() })
	return lbredis.NewScoreStore(conn, logger)
}

func submit(store *lbredis.ScoreStore, userID, game string, score int64) {
	_, err := store.Submit(context.Background(), domain.ScoreSubmission{
		UserID: userID, Username: userID, Game: game, Score: score,
	})
	So(err, ShouldBeNil)
}

func TestSyncToDatabase(t *testing.T) {
	Convey("Given live boards in Redis", t, func() {
		store := newStore(t)
		repo := newMemoryRepository()
		cfg := &config.SyncConfig{Interval: time.Hour, BatchSize: 2}
		w := NewSyncWorker(store, repo, cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

		submit(store, "a", "chess", 10)
		submit(store, "b", "chess", 20)
		submit(store, "c", "go", 30)

		Convey("When a sync cycle runs", func() {
			w.RunOnce(context.Background())

			Convey("Then every board is snapshotted by name", func() {
				So(repo.snapshot("global"), ShouldResemble, map[string]int64{"a": 10, "b": 20, "c": 30})
				So(repo.snapshot("game:chess"), ShouldResemble, map[string]int64{"a": 10, "b": 20})
				So(repo.snapshot("game:go"), ShouldResemble, map[string]int64{"c": 30})
			})

			Convey("Then large boards are written in batches", func() {
				So(repo.batches, ShouldEqual, 4)
			})
		})

		Convey("When the repository fails", func() {
			repo.err = errors.New("database down")
			_, err := w.SyncToDatabase(context.Background(), domain.GlobalIndex())

			Convey("Then the error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestSyncFromDatabase(t *testing.T) {
	Convey("Given snapshots of a board partly missing from Redis", t, func() {
		store := newStore(t)
		repo := newMemoryRepository()
		cfg := &config.SyncConfig{Interval: time.Hour, BatchSize: 100}
		w := NewSyncWorker(store, repo, cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
		ctx := context.Background()

		So(repo.BatchUpsertScores(ctx, "game:chess", map[string]int64{"a": 10, "b": 20}), ShouldBeNil)
		So(repo.BatchUpsertScores(ctx, "weekly", map[string]int64{"x": 1}), ShouldBeNil)
		submit(store, "a", "chess", 99)

		Convey("When boards are restored", func() {
			So(w.SyncAllFromDatabase(ctx), ShouldBeNil)

			Convey("Then only missing entries are re-added", func() {
				scores, err := store.Snapshot(ctx, domain.GameIndex("chess"))
				So(err, ShouldBeNil)
				So(scores, ShouldResemble, map[string]int64{"a": 99, "b": 20})
			})
		})
	})
}

func TestWorkerLifecycle(t *testing.T) {
	Convey("Given a sync worker with a short interval", t, func() {
		store := newStore(t)
		repo := newMemoryRepository()
		cfg := &config.SyncConfig{Interval: 10 * time.Millisecond, BatchSize: 100}
		w := NewSyncWorker(store, repo, cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
		submit(store, "a", "chess", 10)

		Convey("When it is started and stopped", func() {
			So(w.Start(context.Background()), ShouldBeNil)
			So(w.IsRunning(), ShouldBeTrue)

			deadline := time.Now().Add(2 * time.Second)
			for repo.snapshot("global") == nil && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(w.Stop(), ShouldBeNil)

			Convey("Then it snapshotted in the background", func() {
				So(repo.snapshot("global"), ShouldResemble, map[string]int64{"a": 10})
				So(w.IsRunning(), ShouldBeFalse)
				So(w.Stop(), ShouldBeNil)
			})
		})
	})
}
