package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
)

// timestampLayout matches the ISO-8601 strings already stored in existing
// ledgers, e.g. 2024-03-01T12:00:00.000Z.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// record is the JSON layout of a ledger element.
type record struct {
	Game      string `json:"game"`
	Score     int64  `json:"score"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

func encodeRecord(r domain.HistoryRecord) (string, error) {
	data, err := json.Marshal(record{
		Game:      r.Game,
		Score:     r.Score,
		Username:  r.Username,
		Timestamp: r.Timestamp.UTC().Format(timestampLayout),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeRecord(raw string) (domain.HistoryRecord, error) {
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return domain.HistoryRecord{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return domain.HistoryRecord{
		Game:      r.Game,
		Score:     r.Score,
		Username:  r.Username,
		Timestamp: ts,
	}, nil
}

// Ledger reads the per-user submission history. Records are written by
// ScoreStore.Submit and never modified.
type Ledger struct {
	conn   *Conn
	logger *slog.Logger
}

// NewLedger creates a ledger reader on top of conn.
func NewLedger(conn *Conn, logger *slog.Logger) *Ledger {
	return &Ledger{
		conn:   conn,
		logger: logger,
	}
}

// History returns up to limit records for the user, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]domain.HistoryRecord, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit %d", domain.ErrInvalidInput, limit)
	}
	client, err := l.conn.Handle()
	if err != nil {
		return nil, storeError("getting history", err)
	}

	raws, err := client.LRange(ctx, domain.HistoryKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, storeError("getting history", err)
	}

	records := make([]domain.HistoryRecord, 0, len(raws))
	for i, raw := range raws {
		rec, err := decodeRecord(raw)
		if err != nil {
			l.logger.Warn("skipping undecodable history record",
				"user_id", userID,
				"position", i,
				"error", err,
			)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
