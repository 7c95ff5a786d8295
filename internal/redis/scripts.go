package redis

import (
	"fmt"
	"strconv"

	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Redis orders members with equal scores lexicographically, so a reverse
// range lists ties in descending member order. Both scripts only rely on
// Redis' own member ordering and never compare member strings in Lua.

// topScript returns the first ARGV[1] members of the reverse range with
// scores, plus the members sharing the lowest score of that page in
// ascending order. Reading both in one script keeps the page consistent.
var topScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local head = redis.call('ZREVRANGE', KEYS[1], 0, n - 1, 'WITHSCORES')
if #head == 0 then
  return {head, {}}
end
local cut = head[#head]
local tied = redis.call('ZRANGEBYSCORE', KEYS[1], cut, cut, 'LIMIT', 0, n)
return {head, tied}
`)

// rankScript returns {rank, score} for ARGV[1], or nil when the member is
// absent. rank = members with a strictly greater score + position among
// the members with the same score.
var rankScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score then
  return false
end
local above = redis.call('ZCOUNT', KEYS[1], '(' .. score, '+inf')
local tied = redis.call('ZRANGEBYSCORE', KEYS[1], score, score)
local pos = 0
for i, member in ipairs(tied) do
  if member == ARGV[1] then
    pos = i
    break
  end
end
return {above + pos, score}
`)

// orderTop turns the raw reply of topScript into ranked entries.
func orderTop(reply interface{}) ([]domain.LeaderboardEntry, error) {
	parts, ok := reply.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("unexpected top reply %T", reply)
	}
	head, err := stringSlice(parts[0])
	if err != nil {
		return nil, err
	}
	tied, err := stringSlice(parts[1])
	if err != nil {
		return nil, err
	}
	if len(head)%2 != 0 {
		return nil, fmt.Errorf("unexpected top reply length %d", len(head))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(head)/2)
	for i := 0; i < len(head); i += 2 {
		score, err := parseScore(head[i+1])
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.LeaderboardEntry{UserID: head[i], Score: score})
	}
	if len(entries) == 0 {
		return entries, nil
	}

	// The lowest score on the page may be cut in the middle of its tie
	// group; take that group's members from the ascending list instead.
	cut := entries[len(entries)-1].Score
	start := len(entries) - 1
	for start > 0 && entries[start-1].Score == cut {
		start--
	}
	if len(tied) < len(entries)-start {
		return nil, fmt.Errorf("tie group shorter than page: %d < %d", len(tied), len(entries)-start)
	}
	for i := start; i < len(entries); i++ {
		entries[i].UserID = tied[i-start]
	}

	// Earlier tie groups are complete, so reversing them is enough.
	for i := 0; i < start; {
		j := i
		for j+1 < start && entries[j+1].Score == entries[i].Score {
			j++
		}
		for l, r := i, j; l < r; l, r = l+1, r-1 {
			entries[l].UserID, entries[r].UserID = entries[r].UserID, entries[l].UserID
		}
		i = j + 1
	}

	for i := range entries {
		entries[i].Rank = int64(i + 1)
	}
	return entries, nil
}

// parseRank turns the raw reply of rankScript into a rank and score.
func parseRank(reply interface{}) (int64, int64, error) {
	parts, ok := reply.([]interface{})
	if !ok || len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected rank reply %T", reply)
	}
	rank, ok := parts[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rank type %T", parts[0])
	}
	raw, ok := parts[1].(string)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected score type %T", parts[1])
	}
	score, err := parseScore(raw)
	if err != nil {
		return 0, 0, err
	}
	return rank, score, nil
}

func stringSlice(v interface{}) ([]string, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected list type %T", v)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected element type %T", item)
		}
		out[i] = s
	}
	return out, nil
}

func parseScore(raw string) (int64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing score %q: %w", raw, err)
	}
	return int64(f), nil
}
