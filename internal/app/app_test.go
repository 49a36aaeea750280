package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/gamemaster/internal/config"
	"github.com/jwebster45206/gamemaster/internal/services"
	"github.com/jwebster45206/gamemaster/internal/services/events"
	"github.com/jwebster45206/gamemaster/internal/storage"
	"github.com/jwebster45206/gamemaster/internal/storycache"
	"github.com/jwebster45206/gamemaster/internal/worker"
	"github.com/jwebster45206/gamemaster/pkg/gm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStorage_Local(t *testing.T) {
	cfg := &config.Config{LocalDBPath: filepath.Join(t.TempDir(), "saves.db")}
	db, err := OpenStorage(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Ping(context.Background()))
	_, ok := db.Backend().(*storage.LocalBackend)
	assert.True(t, ok)
}

func TestOpenStorage_NothingConfigured(t *testing.T) {
	_, err := OpenStorage(context.Background(), &config.Config{}, testLogger())
	assert.Error(t, err)
}

func TestNewTextGenerator(t *testing.T) {
	gen, err := NewTextGenerator(context.Background(), &config.Config{
		LLMProvider:     config.ProviderAnthropic,
		AnthropicAPIKey: "key",
		ModelName:       "claude-3-5-haiku-latest",
		GenerateRetries: 2,
	}, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, gen)

	_, err = NewTextGenerator(context.Background(), &config.Config{LLMProvider: "venice"}, testLogger())
	assert.Error(t, err)
}

func TestNewImageGenerator_Disabled(t *testing.T) {
	img, err := NewImageGenerator(context.Background(), &config.Config{}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestNewCache(t *testing.T) {
	pool := worker.NewPool(2, testLogger())
	master := gm.New(services.NewMockLLM(), testLogger())
	store := storage.NewDatabase(storage.NewMockBackend(), testLogger())

	t.Run("in process", func(t *testing.T) {
		c, err := NewCache(context.Background(), &config.Config{CacheMode: config.CacheModeLocal}, store, master, pool, testLogger())
		require.NoError(t, err)
		defer c.Close()
		assert.IsType(t, &storycache.MemoryNotifier{}, c.Notifier)
		assert.IsType(t, &storycache.LocalScheduler{}, c.Scheduler)
		assert.IsType(t, &events.Hub{}, c.Events)
		assert.Nil(t, c.Redis)
	})

	t.Run("queued over redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c, err := NewCache(context.Background(), &config.Config{
			CacheMode: config.CacheModeQueue,
			RedisURL:  "redis://" + mr.Addr(),
		}, store, master, pool, testLogger())
		require.NoError(t, err)
		defer c.Close()
		assert.IsType(t, &storycache.RedisNotifier{}, c.Notifier)
		assert.IsType(t, &storycache.QueueScheduler{}, c.Scheduler)
		assert.IsType(t, &events.Broadcaster{}, c.Events)
		assert.NotNil(t, c.Redis)
	})
}
