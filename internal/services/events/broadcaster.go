package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeStoryAdvanced EventType = "story.advanced"
	EventTypeCacheReady    EventType = "cache.ready"
	EventTypeShopReady     EventType = "shop.ready"
	EventTypeQuestReady    EventType = "quest.ready"
	EventTypeGameEnded     EventType = "game.ended"
)

// Event represents a generic event structure
type Event struct {
	Type   EventType      `json:"type"`
	User   string         `json:"user"`
	SaveID string         `json:"save_id"`
	At     time.Time      `json:"at"`
	Data   map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event for a save.
func NewEvent(t EventType, user, saveID string, data map[string]any) Event {
	return Event{Type: t, User: user, SaveID: saveID, At: time.Now().UTC(), Data: data}
}

// Publisher sends game events to whoever is listening on a save.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber streams a save's events until cancel is called or ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, user, saveID string) (<-chan Event, func(), error)
}

func channelName(user, saveID string) string {
	return fmt.Sprintf("game-events:%s:%s", user, saveID)
}

// Broadcaster publishes events to Redis Pub/Sub for SSE distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// Publish publishes an event to the save-specific channel
func (b *Broadcaster) Publish(ctx context.Context, event Event) error {
	channel := channelName(event.User, event.SaveID)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
	)
	return nil
}

// Subscribe listens on the save's channel. The subscription is confirmed
// before Subscribe returns.
func (b *Broadcaster) Subscribe(ctx context.Context, user, saveID string) (<-chan Event, func(), error) {
	channel := channelName(user, saveID)
	pubsub := b.redisClient.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer func() {
			if err := pubsub.Close(); err != nil {
				b.logger.Error("Failed to close pubsub", "error", err)
			}
		}()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Error("Failed to unmarshal event", "error", err, "payload", msg.Payload)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
