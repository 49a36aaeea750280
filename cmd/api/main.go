package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/gamemaster/internal/app"
	"github.com/jwebster45206/gamemaster/internal/config"
	"github.com/jwebster45206/gamemaster/internal/game"
	"github.com/jwebster45206/gamemaster/internal/handlers"
	"github.com/jwebster45206/gamemaster/internal/logger"
	"github.com/jwebster45206/gamemaster/internal/middleware"
	"github.com/jwebster45206/gamemaster/internal/worker"
	"github.com/jwebster45206/gamemaster/pkg/gm"
	"github.com/jwebster45206/gamemaster/pkg/guardrail"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Gamemaster API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"model_name", cfg.ModelName,
		"images", cfg.ImagesEnabled,
		"cache_mode", cfg.CacheMode)

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
	images, err := app.NewImageGenerator(startCtx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize image model", "error", err)
		os.Exit(1)
	}

	master := gm.New(text, log)
	pool := worker.NewPool(cfg.WorkerPoolSize, log)

	cache, err := app.NewCache(startCtx, cfg, db, master, pool, log)
	if err != nil {
		log.Error("Failed to set up story cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			log.Error("Error closing redis", "error", err)
		}
	}()

	g := game.New(game.Deps{
		Store:     db,
		GM:        master,
		Images:    images,
		Cache:     cache.Orchestrator,
		Scheduler: cache.Scheduler,
		Notifier:  cache.Notifier,
		Pool:      pool,
		Events:    cache.Events,
		Guard:     guardrail.NewGuard(cfg.ContentRating),
		Logger:    log,
	})

	mux := http.NewServeMux()

	health := map[string]handlers.Pinger{"storage": db}
	if cache.Redis != nil {
		health["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return cache.Redis.Ping(ctx).Err()
		})
	}
	mux.Handle("GET /health", handlers.NewHealthHandler(health, log))

	handlers.NewGameHandler(g, log, cfg.Debug).Register(mux)
	handlers.NewEventsHandler(cache.Subscriber, log).Register(mux)

	handler := middleware.CORS(middleware.Logger(log, mux))
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: generation and the event stream run long.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	// Background generation writes to storage, so drain it before closing.
	pool.Wait()

	log.Info("Server exited")
}
