// Package app wires configuration into the services shared by the API and
// the worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/gamemaster/internal/config"
	"github.com/jwebster45206/gamemaster/internal/services"
	"github.com/jwebster45206/gamemaster/internal/services/events"
	"github.com/jwebster45206/gamemaster/internal/services/queue"
	"github.com/jwebster45206/gamemaster/internal/storage"
	"github.com/jwebster45206/gamemaster/internal/storycache"
	"github.com/jwebster45206/gamemaster/internal/worker"
	"github.com/jwebster45206/gamemaster/pkg/gm"
)

// ollamaInitTimeout bounds pulling a model on startup.
const ollamaInitTimeout = 10 * time.Minute

// OpenStorage opens the save database: SQLite, MongoDB, or SQLite mirrored
// to MongoDB when both are configured.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.Database, error) {
	var local, cloud storage.Backend
	if cfg.LocalDBPath != "" {
		l, err := storage.NewLocalBackend(ctx, cfg.LocalDBPath, logger)
		if err != nil {
			return nil, err
		}
		local = l
	}
	if cfg.MongoURI != "" {
		c, err := storage.NewCloudBackend(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			if local != nil {
				_ = local.Close()
			}
			return nil, err
		}
		cloud = c
	}

	var backend storage.Backend
	switch {
	case local != nil && cloud != nil:
		logger.Info("Using local storage mirrored to MongoDB", "path", cfg.LocalDBPath, "database", cfg.MongoDatabase)
		backend = storage.NewDual(local, cloud, logger)
	case local != nil:
		logger.Info("Using local storage", "path", cfg.LocalDBPath)
		backend = local
	case cloud != nil:
		logger.Info("Using MongoDB storage", "database", cfg.MongoDatabase)
		backend = cloud
	default:
		return nil, fmt.Errorf("no storage configured")
	}
	return storage.NewDatabase(backend, logger), nil
}

// NewTextGenerator returns the configured LLM, retried on transport errors.
func NewTextGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.TextGenerator, error) {
	var gen services.TextGenerator
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		gen = services.NewAnthropicService(cfg.AnthropicAPIKey, cfg.ModelName, logger)
	case config.ProviderGemini:
		g, err := services.NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.ModelName, logger)
		if err != nil {
			return nil, err
		}
		gen = g
	case config.ProviderOllama:
		o := services.NewOllamaService(cfg.OllamaURL, cfg.ModelName, logger)
		initCtx, cancel := context.WithTimeout(ctx, ollamaInitTimeout)
		defer cancel()
		if err := o.InitModel(initCtx); err != nil {
			return nil, fmt.Errorf("failed to initialize ollama model: %w", err)
		}
		gen = o
	default:
		return nil, fmt.Errorf("invalid LLM provider %q", cfg.LLMProvider)
	}
	logger.Info("LLM provider ready", "provider", cfg.LLMProvider, "model", cfg.ModelName)
	return services.WithRetry(gen, cfg.GenerateRetries, logger), nil
}

// NewImageGenerator returns the image model, or nil when images are off.
func NewImageGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.ImageGenerator, error) {
	if !cfg.ImagesEnabled {
		return nil, nil
	}
	img, err := services.NewGeminiImageService(ctx, cfg.GeminiAPIKey, cfg.ImageModelName, logger)
	if err != nil {
		return nil, err
	}
	return services.WithImageRetry(img, cfg.GenerateRetries, logger), nil
}

// Cache holds the story cache and the plumbing it runs on.
type Cache struct {
	Orchestrator *storycache.Orchestrator
	Notifier     storycache.Notifier
	Scheduler    storycache.Scheduler
	Events       events.Publisher
	Subscriber   events.Subscriber
	Redis        *redis.Client
}

// Close releases the Redis connection, if any.
func (c *Cache) Close() error {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Close()
}

// NewCache builds the story cache. Without Redis everything stays in
// process. In queue mode refreshes go to the worker binary.
func NewCache(ctx context.Context, cfg *config.Config, store storycache.Store, master *gm.GameMaster, pool *worker.Pool, logger *slog.Logger) (*Cache, error) {
	c := &Cache{}
	if cfg.RedisURL == "" {
		hub := events.NewHub()
		c.Notifier = storycache.NewMemoryNotifier()
		c.Events, c.Subscriber = hub, hub
	} else {
		rdb, err := services.ConnectRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		b := events.NewBroadcaster(rdb, logger)
		c.Redis = rdb
		c.Notifier = storycache.NewRedisNotifier(rdb, logger)
		c.Events, c.Subscriber = b, b
	}

	c.Orchestrator = storycache.NewOrchestrator(store, master, c.Notifier, pool, logger)
	c.Orchestrator.SetPublisher(c.Events)

	if cfg.CacheMode == config.CacheModeQueue {
		q := queue.NewRefreshQueue(queue.NewClientFromRedis(c.Redis, logger))
		c.Scheduler = storycache.NewQueueScheduler(c.Orchestrator, q, logger)
		logger.Info("Story cache refreshes are queued for workers")
	} else {
		c.Scheduler = storycache.NewLocalScheduler(c.Orchestrator, pool)
	}
	return c, nil
}
