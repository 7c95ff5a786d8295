package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ScoreStore keeps the global and per-game ranking indices in Redis sorted
// sets. Each user has at most one entry per index; a new submission replaces
// the previous one.
type ScoreStore struct {
	conn   *Conn
	logger *slog.Logger
	now    func() time.Time
}

// NewScoreStore creates a score store on top of conn.
func NewScoreStore(conn *Conn, logger *slog.Logger) *ScoreStore {
	return &ScoreStore{
		conn:   conn,
		logger: logger,
		now:    time.Now,
	}
}

// IsReady reports whether the underlying connection is ready.
func (s *ScoreStore) IsReady() bool {
	return s.conn.IsReady()
}

// State returns the name of the connection state.
func (s *ScoreStore) State() string {
	return s.conn.State().String()
}

// Submit upserts the user's score into the global index and the game index
// and appends a record to the user's ledger. The three writes are sent as
// one MULTI/EXEC transaction. On error the outcome is unknown: retrying is
// safe for the indices but adds another ledger record.
func (s *ScoreStore) Submit(ctx context.Context, sub domain.ScoreSubmission) (*domain.SubmissionResult, error) {
	client, err := s.conn.Handle()
	if err != nil {
		return nil, storeError("submitting score", err)
	}

	record, err := encodeRecord(domain.HistoryRecord{
		Game:      sub.Game,
		Score:     sub.Score,
		Username:  sub.Username,
		Timestamp: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding history record: %w", err)
	}

	entry := redis.Z{
		Score:  float64(sub.Score),
		Member: sub.UserID,
	}
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, domain.GlobalIndex().Key(), entry)
		pipe.ZAdd(ctx, domain.GameIndex(sub.Game).Key(), entry)
		pipe.LPush(ctx, domain.HistoryKey(sub.UserID), record)
		return nil
	})
	if err != nil {
		return nil, storeError("submitting score", err)
	}

	return &domain.SubmissionResult{
		Message:  "Score submitted successfully",
		Game:     sub.Game,
		Score:    sub.Score,
		Username: sub.Username,
	}, nil
}

// TopN returns the n highest entries of idx, ties ordered by ascending user
// id, ranked by position.
func (s *ScoreStore) TopN(ctx context.Context, idx domain.Index, n int) ([]domain.LeaderboardEntry, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: limit %d", domain.ErrInvalidInput, n)
	}
	client, err := s.conn.Handle()
	if err != nil {
		return nil, storeError("getting top n", err)
	}

	reply, err := topScript.Run(ctx, client, []string{idx.Key()}, n).Result()
	if err != nil {
		return nil, storeError("getting top n", err)
	}

	entries, err := orderTop(reply)
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	return entries, nil
}

// RankOf returns the user's rank and score in idx, or domain.ErrNotFound
// when the user has no entry there.
func (s *ScoreStore) RankOf(ctx context.Context, idx domain.Index, userID string) (*domain.UserRank, error) {
	client, err := s.conn.Handle()
	if err != nil {
		return nil, storeError("getting user rank", err)
	}

	reply, err := rankScript.Run(ctx, client, []string{idx.Key()}, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, storeError("getting user rank", err)
	}

	rank, score, err := parseRank(reply)
	if err != nil {
		return nil, fmt.Errorf("getting user rank: %w", err)
	}

	return &domain.UserRank{
		UserID: userID,
		Index:  idx.String(),
		Rank:   rank,
		Score:  score,
	}, nil
}

// Count returns the number of users in idx.
func (s *ScoreStore) Count(ctx context.Context, idx domain.Index) (int64, error) {
	client, err := s.conn.Handle()
	if err != nil {
		return 0, storeError("getting count", err)
	}
	count, err := client.ZCard(ctx, idx.Key()).Result()
	if err != nil {
		return 0, storeError("getting count", err)
	}
	return count, nil
}

// Boards lists every ranking index present in Redis.
func (s *ScoreStore) Boards(ctx context.Context) ([]domain.Index, error) {
	client, err := s.conn.Handle()
	if err != nil {
		return nil, storeError("listing boards", err)
	}

	var boards []domain.Index
	iter := client.Scan(ctx, 0, "leaderboard:*", 100).Iterator()
	for iter.Next(ctx) {
		if idx, ok := domain.IndexFromKey(iter.Val()); ok {
			boards = append(boards, idx)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, storeError("listing boards", err)
	}
	return boards, nil
}

// Snapshot returns every user and score of idx.
func (s *ScoreStore) Snapshot(ctx context.Context, idx domain.Index) (map[string]int64, error) {
	client, err := s.conn.Handle()
	if err != nil {
		return nil, storeError("snapshotting board", err)
	}

	results, err := client.ZRangeWithScores(ctx, idx.Key(), 0, -1).Result()
	if err != nil {
		return nil, storeError("snapshotting board", err)
	}

	scores := make(map[string]int64, len(results))
	for _, result := range results {
		member, ok := result.Member.(string)
		if !ok {
			continue
		}
		scores[member] = int64(result.Score)
	}
	return scores, nil
}

// Restore adds the given scores to idx for users that have no entry yet.
// Live entries are never overwritten.
func (s *ScoreStore) Restore(ctx context.Context, idx domain.Index, scores map[string]int64) (int64, error) {
	if len(scores) == 0 {
		return 0, nil
	}
	client, err := s.conn.Handle()
	if err != nil {
		return 0, storeError("restoring board", err)
	}

	members := make([]redis.Z, 0, len(scores))
	for userID, score := range scores {
		members = append(members, redis.Z{
			Score:  float64(score),
			Member: userID,
		})
	}

	added, err := client.ZAddNX(ctx, idx.Key(), members...).Result()
	if err != nil {
		return 0, storeError("restoring board", err)
	}
	return added, nil
}
