// Package storycache precomputes the outcome of every option the player is
// offered, so advancing the story rarely waits on the generator.
package storycache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jwebster45206/gamemaster/internal/services/events"
	"github.com/jwebster45206/gamemaster/internal/worker"
	"github.com/jwebster45206/gamemaster/pkg/savedata"
)

// Placeholder marks an entry whose generation is still running.
const Placeholder = "in progress"

// DefaultConsumeTimeout bounds how long Consume waits on a placeholder
// before generating the result itself.
const DefaultConsumeTimeout = 3 * time.Minute

var placeholderJSON = []byte(`"` + Placeholder + `"`)

// IsPlaceholder reports whether a cached value is the in-progress marker.
func IsPlaceholder(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), placeholderJSON)
}

// Store is the part of the save database the cache needs.
type Store interface {
	GetSaveData(ctx context.Context, user, saveID string) (*savedata.SaveData, error)
	Cache(ctx context.Context, user, saveID, key string, value []byte) error
	GetCache(ctx context.Context, user, saveID, key string) ([]byte, error)
	DeleteCache(ctx context.Context, user, saveID, key string) error
	DeleteAllCache(ctx context.Context, user, saveID string) error
}

// ActionGenerator narrates the result of an action with a rolled outcome.
type ActionGenerator interface {
	ActionResult(ctx context.Context, s *savedata.SaveData, action string, outcome savedata.Outcome) (*savedata.ActionResult, error)
}

type Orchestrator struct {
	store    Store
	gen      ActionGenerator
	notifier Notifier
	pool     *worker.Pool
	registry *Registry
	events   events.Publisher
	roller   savedata.Roller
	logger   *slog.Logger

	consumeTimeout time.Duration
}

func NewOrchestrator(store Store, gen ActionGenerator, notifier Notifier, pool *worker.Pool, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:          store,
		gen:            gen,
		notifier:       notifier,
		pool:           pool,
		registry:       NewRegistry(),
		events:         events.Discard{},
		roller:         savedata.DefaultRoller,
		logger:         logger,
		consumeTimeout: DefaultConsumeTimeout,
	}
}

// SetRoller replaces the random source of success rolls.
func (o *Orchestrator) SetRoller(r savedata.Roller) {
	o.roller = r
}

func (o *Orchestrator) SetConsumeTimeout(d time.Duration) {
	o.consumeTimeout = d
}

// SetPublisher sends cache.ready events to p.
func (o *Orchestrator) SetPublisher(p events.Publisher) {
	o.events = p
}

// Registry exposes the batch registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// openOptions returns the options worth precomputing.
func openOptions(s *savedata.SaveData) []string {
	if !s.HasStory() || s.Story.Health <= 0 {
		return nil
	}
	return s.Story.Options
}

// reset clears the save's cache and writes a placeholder per option.
func (o *Orchestrator) reset(ctx context.Context, user, saveID string, options []string) error {
	if err := o.store.DeleteAllCache(ctx, user, saveID); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	for _, opt := range options {
		if err := o.store.Cache(ctx, user, saveID, opt, placeholderJSON); err != nil {
			return fmt.Errorf("failed to write placeholder: %w", err)
		}
	}
	return nil
}

// Reset primes the cache with placeholders for the save's current options
// without generating anything. A separate process is expected to fill them.
func (o *Orchestrator) Reset(ctx context.Context, user, saveID string) error {
	s, err := o.store.GetSaveData(ctx, user, saveID)
	if err != nil {
		return err
	}
	return o.reset(ctx, user, saveID, openOptions(s))
}

// begin supersedes any running batch and primes the cache from a fresh
// snapshot of the save.
func (o *Orchestrator) begin(ctx context.Context, user, saveID string) (*Batch, *savedata.SaveData, error) {
	var s *savedata.SaveData
	b, err := o.registry.Begin(ctx, user, saveID, func(ctx context.Context) error {
		var err error
		s, err = o.store.GetSaveData(ctx, user, saveID)
		if err != nil {
			return err
		}
		return o.reset(ctx, user, saveID, openOptions(s))
	})
	if err != nil {
		return nil, nil, err
	}
	return b, s, nil
}

// Run refreshes the save's cache and returns once every option has been
// resolved or the batch was superseded.
func (o *Orchestrator) Run(ctx context.Context, user, saveID string) error {
	b, s, err := o.begin(ctx, user, saveID)
	if err != nil {
		return err
	}
	o.fanOut(b, s)
	return nil
}

// Cancel stops the save's running batch.
func (o *Orchestrator) Cancel(user, saveID string) {
	o.registry.Cancel(user, saveID)
}

func (o *Orchestrator) fanOut(b *Batch, s *savedata.SaveData) {
	defer b.Finish()
	options := openOptions(s)
	if len(options) == 0 {
		return
	}
	turn := len(s.Story.History)
	start := time.Now()

	var wg sync.WaitGroup
	for _, action := range options {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.populate(b, s, turn, action)
		}()
	}
	wg.Wait()

	if !b.Current() {
		return
	}
	o.logger.Info("Story cache refreshed",
		"user", b.User, "save", b.SaveID, "options", len(options), "duration_ms", time.Since(start).Milliseconds())
	ev := events.NewEvent(events.EventTypeCacheReady, b.User, b.SaveID, map[string]any{"options": options})
	if err := o.events.Publish(b.Context(), ev); err != nil {
		o.logger.Warn("Failed to publish cache event", "user", b.User, "save", b.SaveID, "error", err)
	}
}

// populate generates one option and replaces its placeholder with the
// payload, or removes the placeholder when generation fails.
func (o *Orchestrator) populate(b *Batch, s *savedata.SaveData, turn int, action string) {
	ctx := b.Context()
	log := o.logger.With("user", b.User, "save", b.SaveID, "action", action, "batch", b.ID)

	var res *savedata.ActionResult
	genErr := o.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = o.generate(ctx, s, action)
		return err
	})
	if genErr != nil && ctx.Err() != nil {
		log.Debug("Cache population cancelled")
		return
	}

	var payload []byte
	if genErr == nil {
		var err error
		if payload, err = json.Marshal(res); err != nil {
			genErr = err
		}
	}
	if genErr != nil {
		log.Error("Cache population failed", "error", genErr)
	}

	err := b.Commit(func() error {
		if !o.stillOffered(ctx, b, turn, action) {
			return ErrSuperseded
		}
		if genErr != nil {
			return o.store.DeleteCache(ctx, b.User, b.SaveID, action)
		}
		return o.store.Cache(ctx, b.User, b.SaveID, action, payload)
	})
	switch {
	case errors.Is(err, ErrSuperseded):
		log.Debug("Dropping result of superseded batch")
		return
	case err != nil:
		log.Error("Failed to store cache entry", "error", err)
		if derr := o.store.DeleteCache(ctx, b.User, b.SaveID, action); derr != nil {
			log.Error("Failed to remove placeholder", "error", derr)
		}
	}
	if err := o.notifier.Notify(ctx, b.User, b.SaveID, action); err != nil {
		log.Warn("Failed to notify cache resolution", "error", err)
	}
}

// stillOffered guards against a batch started in another process for an
// earlier turn.
func (o *Orchestrator) stillOffered(ctx context.Context, b *Batch, turn int, action string) bool {
	s, err := o.store.GetSaveData(ctx, b.User, b.SaveID)
	if err != nil {
		o.logger.Warn("Failed to re-read save before caching", "user", b.User, "save", b.SaveID, "error", err)
		return false
	}
	return s.HasStory() && len(s.Story.History) == turn && s.Story.OptionIndex(action) >= 0
}

// generate rolls the action's outcome and narrates it.
func (o *Orchestrator) generate(ctx context.Context, s *savedata.SaveData, action string) (*savedata.ActionResult, error) {
	if !s.HasStory() {
		return nil, errors.New("no story running")
	}
	idx := s.Story.OptionIndex(action)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", savedata.ErrUnknownAction, action)
	}
	p, err := s.SuccessRate(idx)
	if err != nil {
		return nil, err
	}
	outcome, err := savedata.Roll(p, o.roller)
	if err != nil {
		return nil, err
	}
	return o.gen.ActionResult(ctx, s, action, outcome)
}

// Generate produces the result of action synchronously from the stored save.
func (o *Orchestrator) Generate(ctx context.Context, user, saveID, action string) (*savedata.ActionResult, error) {
	s, err := o.store.GetSaveData(ctx, user, saveID)
	if err != nil {
		return nil, err
	}
	var res *savedata.ActionResult
	err = o.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = o.generate(ctx, s, action)
		return err
	})
	return res, err
}

// Consume returns the cached result of action, waiting while it is being
// generated. A missing, unreadable or overdue entry is generated on the
// spot.
func (o *Orchestrator) Consume(ctx context.Context, user, saveID, action string) (*savedata.ActionResult, error) {
	log := o.logger.With("user", user, "save", saveID, "action", action)
	deadline := time.NewTimer(o.consumeTimeout)
	defer deadline.Stop()

	for {
		// Subscribe before reading so a resolution between the two is seen.
		resolved, unsubscribe, err := o.notifier.Subscribe(ctx, user, saveID, action)
		if err != nil {
			log.Warn("Cannot wait for cache entry, generating", "error", err)
			return o.Generate(ctx, user, saveID, action)
		}

		raw, err := o.store.GetCache(ctx, user, saveID, action)
		if err != nil {
			unsubscribe()
			return nil, fmt.Errorf("failed to read cache: %w", err)
		}
		if raw == nil {
			unsubscribe()
			log.Info("Cache miss, generating")
			return o.Generate(ctx, user, saveID, action)
		}
		if !IsPlaceholder(raw) {
			unsubscribe()
			var res savedata.ActionResult
			if err := json.Unmarshal(raw, &res); err != nil {
				log.Warn("Unreadable cache entry, generating", "error", err)
				return o.Generate(ctx, user, saveID, action)
			}
			if err := res.Validate(); err != nil {
				log.Warn("Invalid cache entry, generating", "error", err)
				return o.Generate(ctx, user, saveID, action)
			}
			log.Debug("Cache hit")
			return &res, nil
		}

		log.Debug("Waiting for cache entry")
		select {
		case <-resolved:
			unsubscribe()
		case <-deadline.C:
			unsubscribe()
			log.Warn("Timed out waiting for cache entry, generating")
			return o.Generate(ctx, user, saveID, action)
		case <-ctx.Done():
			unsubscribe()
			return nil, ctx.Err()
		}
	}
}
