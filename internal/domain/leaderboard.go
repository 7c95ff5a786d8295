package domain

import (
	"strings"
	"time"
)

const (
	globalKey      = "leaderboard:global"
	gamePrefix     = "leaderboard:game:"
	historyPrefix  = "user:scores:"
	globalName     = "global"
	gameNamePrefix = "game:"
)

// Index identifies one ranking index: the global one or a per-game one.
type Index struct {
	game string
}

// GlobalIndex returns the index over all users regardless of game.
func GlobalIndex() Index {
	return Index{}
}

// GameIndex returns the index holding entries submitted under game.
func GameIndex(game string) Index {
	return Index{game: game}
}

// IsGlobal reports whether this is the global index.
func (i Index) IsGlobal() bool {
	return i.game == ""
}

// Game returns the game identifier, or "" for the global index.
func (i Index) Game() string {
	return i.game
}

// Key returns the Redis key of the sorted set backing the index.
func (i Index) Key() string {
	if i.IsGlobal() {
		return globalKey
	}
	return gamePrefix + i.game
}

// String returns the channel name used for subscriptions and metric labels.
func (i Index) String() string {
	if i.IsGlobal() {
		return globalName
	}
	return gameNamePrefix + i.game
}

// IndexFromKey maps a Redis key back to its index.
func IndexFromKey(key string) (Index, bool) {
	if key == globalKey {
		return GlobalIndex(), true
	}
	if game, ok := strings.CutPrefix(key, gamePrefix); ok && game != "" {
		return GameIndex(game), true
	}
	return Index{}, false
}

// ParseIndex is the inverse of Index.String.
func ParseIndex(name string) (Index, bool) {
	if name == globalName {
		return GlobalIndex(), true
	}
	if game, ok := strings.CutPrefix(name, gameNamePrefix); ok && game != "" {
		return GameIndex(game), true
	}
	return Index{}, false
}

// HistoryKey returns the Redis key of a user's submission ledger.
func HistoryKey(userID string) string {
	return historyPrefix + userID
}

// LeaderboardEntry represents a single entry in the leaderboard
type LeaderboardEntry struct {
	Rank   int64  `json:"rank"`
	UserID string `json:"userId"`
	Score  int64  `json:"score"`
}

// Board is a page of the top of an index together with its size.
type Board struct {
	Index   string             `json:"leaderboard"`
	Entries []LeaderboardEntry `json:"entries"`
	Total   int64              `json:"total"`
}

// UserRank is a user's derived position within one index.
type UserRank struct {
	UserID string `json:"userId"`
	Index  string `json:"leaderboard"`
	Rank   int64  `json:"rank"`
	Score  int64  `json:"score"`
}

// MaxScore is the largest score a sorted set stores exactly. Redis keeps
// scores as float64, so integers above 2^53 would be rounded.
const MaxScore int64 = 1 << 53

// ScoreSubmission is a validated score submitted by an identified user.
// Scores range over [0, MaxScore].
type ScoreSubmission struct {
	UserID   string `json:"user_id" validate:"required"`
	Username string `json:"username" validate:"required"`
	Game     string `json:"game" validate:"required,game"`
	Score    int64  `json:"score" validate:"min=0,max=9007199254740992"`
}

// SubmissionResult echoes an accepted submission. No rank is computed at
// submission time.
type SubmissionResult struct {
	Message  string `json:"message"`
	Game     string `json:"game"`
	Score    int64  `json:"score"`
	Username string `json:"username"`
}

// HistoryRecord is one immutable entry of a user's submission ledger.
type HistoryRecord struct {
	Game      string    `json:"game"`
	Score     int64     `json:"score"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoreEvent is the audit copy of an accepted submission.
type ScoreEvent struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Game        string    `json:"game"`
	Score       int64     `json:"score"`
	Source      string    `json:"source"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Health reports liveness together with the store connection state.
type Health struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Ready     bool      `json:"ready"`
	Store     string    `json:"store"`
	Timestamp time.Time `json:"timestamp"`
}
