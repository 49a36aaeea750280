package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/gamemaster/internal/app"
	"github.com/jwebster45206/gamemaster/internal/config"
	"github.com/jwebster45206/gamemaster/internal/logger"
	"github.com/jwebster45206/gamemaster/internal/services/queue"
	"github.com/jwebster45206/gamemaster/internal/worker"
	"github.com/jwebster45206/gamemaster/pkg/gm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	if cfg.RedisURL == "" {
		log.Error("REDIS_URL is required for the worker")
		os.Exit(1)
	}

	log.Info("Starting Gamemaster Worker",
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"model_name", cfg.ModelName)

	startCtx, startCancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer startCancel()

	db, err := app.OpenStorage(startCtx, cfg, log)
	if err != nil {
		log.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing storage", "error", err)
		}
	}()

	text, err := app.NewTextGenerator(startCtx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize LLM", "error", err)
		os.Exit(1)
	}

	pool := worker.NewPool(cfg.WorkerPoolSize, log)

	// The worker refreshes in process; only the API enqueues.
	local := *cfg
	local.CacheMode = config.CacheModeLocal
	cache, err := app.NewCache(startCtx, &local, db, gm.New(text, log), pool, log)
	if err != nil {
		log.Error("Failed to set up story cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			log.Error("Failed to close Redis client", "error", err)
		}
	}()

	refreshQueue := queue.NewRefreshQueue(queue.NewClientFromRedis(cache.Redis, log))
	w := worker.New(refreshQueue, cache.Orchestrator, cache.Redis, log, cfg.WorkerID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := w.Start(); err != nil {
			log.Error("Worker error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("Worker started, waiting for requests...", "worker_id", w.ID())

	<-quit
	log.Info("Worker shutdown signal received")

	w.Stop()
	pool.Wait()

	log.Info("Worker exited")
}
