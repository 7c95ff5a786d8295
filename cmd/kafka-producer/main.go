package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/fatih/color"
	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
	"github.com/nikusha1446/real-time-leaderboard/internal/kafka"
)

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "leaderboard-scores", "Kafka topic")
	gameList := flag.String("games", "chess,snake,tetris", "Games to spread players over (comma-separated)")
	totalPlayers := flag.Int("players", 1000, "Total number of players to create")
	updatesPerSecond := flag.Int("rate", 100, "Updates per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	initialOnly := flag.Bool("initial-only", false, "Only create initial players, no continuous updates")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	games := strings.Split(*gameList, ",")
	for _, game := range games {
		if !domain.ValidGame(game) {
			log.Fatalf("Invalid game name %q", game)
		}
	}
	if *updatesPerSecond < 1 {
		log.Fatalf("Rate must be positive")
	}

	title := color.New(color.FgCyan, color.Bold)
	done := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)

	title.Println("Kafka Leaderboard Producer")
	fmt.Printf("  Brokers:       %s\n", *brokers)
	fmt.Printf("  Topic:         %s\n", *topic)
	fmt.Printf("  Games:         %s\n", strings.Join(games, ", "))
	fmt.Printf("  Total Players: %d\n", *totalPlayers)
	fmt.Printf("  Updates/sec:   %d\n", *updatesPerSecond)
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount, updateCount atomic.Int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			successCount.Add(1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			errorCount.Add(1)
			warn.Printf("Producer error: %v\n", err)
		}
	}()

	shutdown := func(reason string) {
		warn.Printf("\n%s\n", reason)
		producer.AsyncClose()
		wg.Wait()
		done.Printf("Completed. Sent: %d, Errors: %d\n", successCount.Load(), errorCount.Load())
	}

	send := func(msg kafka.ScoreMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}
		// Keyed by user so one user's submissions stay ordered
		producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(msg.UserID),
			Value: sarama.ByteEncoder(data),
		}
	}

	gen := newGenerator(*totalPlayers, games, rand.New(rand.NewSource(*seed)))

	fmt.Printf("Creating %d initial players...\n", *totalPlayers)
	for i := 0; i < *totalPlayers; i++ {
		send(gen.initial(i))
	}
	done.Printf("Created %d players\n", *totalPlayers)

	if *initialOnly {
		shutdown("Initial-only mode: exiting after creating players")
		return
	}

	title.Printf("Starting continuous updates (%d/sec), press Ctrl+C to stop\n", *updatesPerSecond)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*updatesPerSecond))
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	for {
		select {
		case <-sigChan:
			shutdown("Shutting down...")
			return

		case <-deadline:
			shutdown("Duration reached, shutting down...")
			return

		case <-ticker.C:
			send(gen.next())
			updateCount.Add(1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Updates: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				updateCount.Load(),
				successCount.Load(),
				errorCount.Load(),
			)
		}
	}
}
