package main

import (
	"fmt"
	"math/rand"

	"github.com/nikusha1446/real-time-leaderboard/internal/kafka"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
	"Ace", "Bolt", "Crash", "Dash", "Edge", "Flash", "Glitch", "Haze", "Ion", "Jade",
	"Knight", "Luna", "Mystic", "Neon", "Orion", "Pulse", "Quantum", "Rebel", "Spark", "Turbo",
}

// hotPlayers is the size of the group that receives most updates, so the
// top of each board keeps moving.
const hotPlayers = 20

func playerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

// generator produces submissions for a fixed population of players spread
// over a set of games.
type generator struct {
	players int
	games   []string
	rng     *rand.Rand
}

func newGenerator(players int, games []string, rng *rand.Rand) *generator {
	if players < 1 {
		players = 1
	}
	return &generator{
		players: players,
		games:   games,
		rng:     rng,
	}
}

func (g *generator) message(idx int, score int64) kafka.ScoreMessage {
	return kafka.ScoreMessage{
		UserID:   fmt.Sprintf("player-%06d", idx),
		Username: playerName(idx),
		Game:     g.games[idx%len(g.games)],
		Score:    &score,
	}
}

// initial returns the first submission of player idx.
func (g *generator) initial(idx int) kafka.ScoreMessage {
	return g.message(idx, int64(g.rng.Intn(5000)+1000))
}

// next returns a random update. Hot players are picked 70% of the time
// and score higher.
func (g *generator) next() kafka.ScoreMessage {
	var idx int
	if g.players <= hotPlayers || g.rng.Intn(100) < 70 {
		idx = g.rng.Intn(min(g.players, hotPlayers))
	} else {
		idx = g.rng.Intn(g.players-hotPlayers) + hotPlayers
	}

	var score int64
	switch {
	case idx < 10:
		score = int64(g.rng.Intn(800) + 400)
	case idx < 50:
		score = int64(g.rng.Intn(600) + 300)
	default:
		score = int64(g.rng.Intn(400) + 200)
	}
	return g.message(idx, score)
}
