package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nikusha1446/real-time-leaderboard/internal/config"
	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
)

// openTestRepository connects to the database named by
// LEADERBOARD_TEST_POSTGRES_DSN and skips the test when it is unset.
func openTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("LEADERBOARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEADERBOARD_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	repo, err := NewRepository(ctx, &config.PostgresConfig{DSN: dsn}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(repo.Close)
	if err := repo.RunMigrations(ctx); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return repo
}

func TestSnapshots(t *testing.T) {
	repo := openTestRepository(t)

	Convey("Given a board snapshot", t, func() {
		ctx := context.Background()
		board := "game:test-" + uuid.NewString()[:8]
		So(repo.BatchUpsertScores(ctx, board, map[string]int64{"a": 10, "b": 20}), ShouldBeNil)

		Convey("When it is overwritten", func() {
			So(repo.BatchUpsertScores(ctx, board, map[string]int64{"a": 15}), ShouldBeNil)
			scores, err := repo.GetAllScores(ctx, board)

			Convey("Then the latest score wins", func() {
				So(err, ShouldBeNil)
				So(scores, ShouldResemble, map[string]int64{"a": 15, "b": 20})
			})
		})

		Convey("Then the board is listed", func() {
			boards, err := repo.ListBoards(ctx)
			So(err, ShouldBeNil)
			So(boards, ShouldContain, board)
		})
	})
}

func TestRecordEvent(t *testing.T) {
	repo := openTestRepository(t)

	Convey("Recording the same event twice is accepted", t, func() {
		event := domain.ScoreEvent{
			ID:          uuid.NewString(),
			UserID:      "u1",
			Username:    "alice",
			Game:        "chess",
			Score:       10,
			Source:      "http",
			SubmittedAt: time.Now().UTC(),
		}
		So(repo.RecordEvent(context.Background(), event), ShouldBeNil)
		So(repo.RecordEvent(context.Background(), event), ShouldBeNil)
	})
}
