package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jwebster45206/gamemaster/internal/services/queue"
	models "github.com/jwebster45206/gamemaster/pkg/queue"
)

// test-enqueue pushes cache refresh requests onto the worker queue so a
// worker can be exercised without the API.
func main() {
	redisURL := flag.String("redis", envOr("REDIS_URL", "redis://localhost:6379"), "Redis URL")
	user := flag.String("user", "test-player", "Owner of the save")
	save := flag.String("save", "", "Save to refresh (required)")
	count := flag.Int("n", 1, "Number of requests to enqueue")
	flag.Parse()

	if *save == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -save <name> [-user <user>] [-n <count>]\n", os.Args[0])
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	client, err := queue.NewClient(ctx, *redisURL, logger)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer func() { _ = client.Close() }()

	q := queue.NewRefreshQueue(client)
	for i := 0; i < *count; i++ {
		req := models.NewRefreshRequest(*user, *save)
		if err := q.Enqueue(ctx, req); err != nil {
			log.Fatal("Failed to enqueue request:", err)
		}
		fmt.Printf("Enqueued refresh request %s for %s/%s\n", req.RequestID, *user, *save)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		log.Fatal("Failed to get queue depth:", err)
	}
	fmt.Printf("\nQueue depth: %d requests\n", depth)
	fmt.Println("Start the worker to process them: go run ./cmd/worker")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
