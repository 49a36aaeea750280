package storycache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/gamemaster/internal/storage"
)

// Notifier tells waiting consumers that a cache entry has been resolved,
// either with a payload or by being removed.
type Notifier interface {
	// Subscribe returns a channel that is closed once key resolves. The
	// returned func releases the subscription.
	Subscribe(ctx context.Context, user, saveID, key string) (<-chan struct{}, func(), error)
	Notify(ctx context.Context, user, saveID, key string) error
}

// MemoryNotifier serves consumers in the same process as the refresh.
type MemoryNotifier struct {
	mu      sync.Mutex
	waiters map[string]map[chan struct{}]struct{}
}

var _ Notifier = (*MemoryNotifier)(nil)

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{waiters: make(map[string]map[chan struct{}]struct{})}
}

func waitKey(user, saveID, key string) string {
	return user + "\x00" + saveID + "\x00" + storage.HashKey(key)
}

func (n *MemoryNotifier) Subscribe(_ context.Context, user, saveID, key string) (<-chan struct{}, func(), error) {
	k := waitKey(user, saveID, key)
	ch := make(chan struct{})

	n.mu.Lock()
	if n.waiters[k] == nil {
		n.waiters[k] = make(map[chan struct{}]struct{})
	}
	n.waiters[k][ch] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.waiters[k][ch]; ok {
			delete(n.waiters[k], ch)
			if len(n.waiters[k]) == 0 {
				delete(n.waiters, k)
			}
		}
	}
	return ch, cancel, nil
}

func (n *MemoryNotifier) Notify(_ context.Context, user, saveID, key string) error {
	k := waitKey(user, saveID, key)
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.waiters[k] {
		close(ch)
	}
	delete(n.waiters, k)
	return nil
}

// RedisNotifier publishes resolutions on a per-save channel so consumers in
// the API see what the refresh worker writes.
type RedisNotifier struct {
	rdb    *redis.Client
	logger *slog.Logger
}

var _ Notifier = (*RedisNotifier)(nil)

func NewRedisNotifier(rdb *redis.Client, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, logger: logger}
}

func resolvedChannel(user, saveID string) string {
	return fmt.Sprintf("cache-resolved:%s:%s", user, saveID)
}

func (n *RedisNotifier) Notify(ctx context.Context, user, saveID, key string) error {
	if err := n.rdb.Publish(ctx, resolvedChannel(user, saveID), storage.HashKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to publish cache resolution: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, user, saveID, key string) (<-chan struct{}, func(), error) {
	pubsub := n.rdb.Subscribe(ctx, resolvedChannel(user, saveID))
	// Wait for confirmation so a Notify after Subscribe returns is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to cache resolutions: %w", err)
	}

	want := storage.HashKey(key)
	out := make(chan struct{})
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := pubsub.Close(); err != nil {
				n.logger.Debug("Failed to close cache subscription", "error", err)
			}
		})
	}

	go func() {
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				cancel()
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if msg.Payload == want {
					close(out)
					cancel()
					return
				}
			}
		}
	}()

	return out, cancel, nil
}
