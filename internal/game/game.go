// Package game is the API the clients drive: it ties the save store, the
// game master, the story cache and the image generator into the operations
// of a play session.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jwebster45206/gamemaster/internal/services"
	"github.com/jwebster45206/gamemaster/internal/services/events"
	"github.com/jwebster45206/gamemaster/internal/storage"
	"github.com/jwebster45206/gamemaster/internal/storycache"
	"github.com/jwebster45206/gamemaster/internal/worker"
	"github.com/jwebster45206/gamemaster/pkg/gm"
	"github.com/jwebster45206/gamemaster/pkg/guardrail"
	"github.com/jwebster45206/gamemaster/pkg/quest"
	"github.com/jwebster45206/gamemaster/pkg/savedata"
	"github.com/jwebster45206/gamemaster/pkg/shop"
	"github.com/jwebster45206/gamemaster/pkg/theme"
)

// DefaultWaitTimeout bounds how long a request waits for background shop or
// quest generation before generating itself.
const DefaultWaitTimeout = 2 * time.Minute

// Store is the save database.
type Store interface {
	storycache.Store
	SaveGameData(ctx context.Context, user, saveID string, s *savedata.SaveData) error
	CreateSave(ctx context.Context, user, saveID string, s *savedata.SaveData) error
	DeleteSave(ctx context.Context, user, saveID string) error
	SavesList(ctx context.Context, user string) ([]string, error)
	SaveExists(ctx context.Context, user, saveID string) (bool, error)
	SaveImage(ctx context.Context, user, saveID, category string, data []byte) error
	GetSaveImage(ctx context.Context, user, saveID, category string) string
	Sync(ctx context.Context, user string) error
}

// GameMaster generates everything that is not an action result.
type GameMaster interface {
	Backstory(ctx context.Context, th *theme.Theme, background map[string]any) (*gm.BackstoryResult, error)
	Quest(ctx context.Context, s *savedata.SaveData) (*quest.Proposal, error)
	Shop(ctx context.Context, s *savedata.SaveData) (*shop.Stock, error)
	CustomAction(ctx context.Context, s *savedata.SaveData, action string) (*gm.CustomActionResult, error)
	CustomGoal(ctx context.Context, s *savedata.SaveData, goal string) (*gm.CustomGoalResult, error)
	AbandonCheck(ctx context.Context, s *savedata.SaveData) (*gm.AbandonCheck, error)
	CloseAdventure(ctx context.Context, s *savedata.SaveData) (*gm.ClosingResult, error)
	Probe(ctx context.Context) error
}

// StoryCache hands out precomputed action results.
type StoryCache interface {
	Consume(ctx context.Context, user, saveID, action string) (*savedata.ActionResult, error)
}

// Deps are the collaborators of a Game. Images may be nil, which disables
// image generation.
type Deps struct {
	Store     Store
	GM        GameMaster
	Images    services.ImageGenerator
	Cache     StoryCache
	Scheduler storycache.Scheduler
	Notifier  storycache.Notifier
	Pool      *worker.Pool
	Events    events.Publisher
	Guard     *guardrail.Guard
	Logger    *slog.Logger
}

type Game struct {
	store     Store
	gm        GameMaster
	images    services.ImageGenerator
	cache     StoryCache
	scheduler storycache.Scheduler
	notifier  storycache.Notifier
	pool      *worker.Pool
	events    events.Publisher
	guard     *guardrail.Guard
	logger    *slog.Logger

	waitTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(d Deps) *Game {
	g := &Game{
		store:       d.Store,
		gm:          d.GM,
		images:      d.Images,
		cache:       d.Cache,
		scheduler:   d.Scheduler,
		notifier:    d.Notifier,
		pool:        d.Pool,
		events:      d.Events,
		guard:       d.Guard,
		logger:      d.Logger,
		waitTimeout: DefaultWaitTimeout,
		locks:       make(map[string]*sync.Mutex),
	}
	if g.events == nil {
		g.events = events.Discard{}
	}
	if g.guard == nil {
		g.guard = guardrail.NewGuard("")
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

func (g *Game) SetWaitTimeout(d time.Duration) {
	g.waitTimeout = d
}

// lock serialises read-modify-write cycles on one save within this process.
func (g *Game) lock(user, saveID string) func() {
	g.mu.Lock()
	key := user + "\x00" + saveID
	l, ok := g.locks[key]
	if !ok {
		l = &sync.Mutex{}
		g.locks[key] = l
	}
	g.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (g *Game) load(ctx context.Context, user, saveID string) (*savedata.SaveData, error) {
	s, err := g.store.GetSaveData(ctx, user, saveID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSaveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load save: %w", err)
	}
	return s, nil
}

// commit bumps the version and writes the save.
func (g *Game) commit(ctx context.Context, user, saveID string, s *savedata.SaveData) error {
	s.AdvanceVersion()
	if err := g.store.SaveGameData(ctx, user, saveID, s); err != nil {
		return fmt.Errorf("failed to save game: %w", err)
	}
	return nil
}

// mutate loads the save, applies fn and commits the result under the save
// lock.
func (g *Game) mutate(ctx context.Context, user, saveID string, fn func(s *savedata.SaveData) error) (*savedata.SaveData, error) {
	unlock := g.lock(user, saveID)
	defer unlock()
	s, err := g.load(ctx, user, saveID)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if err := g.commit(ctx, user, saveID, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (g *Game) publish(ctx context.Context, t events.EventType, user, saveID string, data map[string]any) {
	if err := g.events.Publish(ctx, events.NewEvent(t, user, saveID, data)); err != nil {
		g.logger.Warn("Failed to publish event", "type", t, "user", user, "save", saveID, "error", err)
	}
}

// generateImage renders prompt and stores it under category. Failures are
// logged only.
func (g *Game) generateImage(ctx context.Context, user, saveID, category, prompt string) {
	if g.images == nil || prompt == "" {
		return
	}
	log := g.logger.With("user", user, "save", saveID, "category", category)
	var data []byte
	err := g.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		data, err = g.images.Generate(ctx, prompt)
		return err
	})
	if err != nil {
		log.Error("Image generation failed", "error", err)
		return
	}
	if err := g.store.SaveImage(ctx, user, saveID, category, data); err != nil {
		log.Error("Failed to store image", "error", err)
	}
}

// SystemStartup probes the generators and returns the names of those that
// failed.
func (g *Game) SystemStartup(ctx context.Context) []string {
	var (
		wg             sync.WaitGroup
		llmErr, t2iErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		llmErr = g.gm.Probe(ctx)
	}()
	if g.images != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := g.images.Generate(ctx, "A small lantern on a wooden table.")
			if err == nil {
				err = services.ValidateImage(data)
			}
			t2iErr = err
		}()
	}
	wg.Wait()

	var failed []string
	if llmErr != nil {
		g.logger.Error("Startup probe failed", "model", "LLM", "error", llmErr)
		failed = append(failed, "LLM")
	}
	if t2iErr != nil {
		g.logger.Error("Startup probe failed", "model", "T2I", "error", t2iErr)
		failed = append(failed, "T2I")
	}
	return failed
}

// Themes lists the built-in themes.
func (g *Game) Themes() map[string]theme.Summary {
	return theme.Summaries()
}

// SaveSummary is one entry of the save list.
type SaveSummary struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// SavesList returns the user's saves with their character images.
func (g *Game) SavesList(ctx context.Context, user string) ([]SaveSummary, error) {
	if err := g.store.Sync(ctx, user); err != nil {
		g.logger.Warn("Save sync failed", "user", user, "error", err)
	}
	names, err := g.store.SavesList(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}
	out := make([]SaveSummary, 0, len(names))
	for _, n := range names {
		out = append(out, SaveSummary{Name: n, Image: g.store.GetSaveImage(ctx, user, n, storage.ImageCharacter)})
	}
	return out, nil
}

// FetchSave returns the player view of a save.
func (g *Game) FetchSave(ctx context.Context, user, saveID string) (map[string]json.RawMessage, error) {
	s, err := g.load(ctx, user, saveID)
	if err != nil {
		return nil, err
	}
	return s.View()
}

// LoadSave prepares a save for play after it was opened. Work interrupted by
// a restart is rolled back, an open story gets a fresh cache and an idle
// character gets a shop and a quest in the background.
func (g *Game) LoadSave(ctx context.Context, user, saveID string, image bool) (map[string]json.RawMessage, error) {
	s, err := g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		if s.HasStory() {
			s.Story.Status = ""
			return nil
		}
		if s.Shop.Status == shop.StatusGenerating {
			s.Shop.Close()
		}
		s.QuestPending = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.HasStory() {
		if err := g.scheduler.Schedule(ctx, user, saveID); err != nil {
			g.logger.Error("Failed to schedule cache refresh", "user", user, "save", saveID, "error", err)
		}
	} else if s.Shop.Status == shop.StatusClosed && !s.Quest.IsActive() {
		if err := g.startBackground(ctx, user, saveID, image); err != nil {
			g.logger.Error("Failed to start background generation", "user", user, "save", saveID, "error", err)
		}
	}
	return g.FetchSave(ctx, user, saveID)
}

// NewSave creates a character from a theme and the player's background
// choices and returns the name of the new save.
func (g *Game) NewSave(ctx context.Context, user, themeName string, background map[string]any, image bool) (string, error) {
	th, err := theme.Get(themeName)
	if err != nil {
		return "", customf("Invalid theme.")
	}
	if background == nil {
		background = map[string]any{}
	}
	choices := savedata.Choices(background)
	for _, f := range th.RequiredFields(choices) {
		if v, ok := choices[f]; !ok || v == "" {
			return "", customf("Missing required field: %s", f)
		}
	}
	for field, value := range choices {
		if d := g.guard.LLMInput(value); !d.Allowed {
			return "", customf("Invalid background input: %s: %s, %s", field, value, d.Reason)
		}
		if err := th.ValidateChoice(field, value); err != nil {
			return "", customf("Invalid background input: %s: %s, %s", field, value, "Not an option.")
		}
	}

	var res *gm.BackstoryResult
	err = g.pool.Do(ctx, func(ctx context.Context) error {
		res, err = g.gm.Backstory(ctx, th, background)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate backstory: %w", err)
	}

	background["name"] = res.Name
	background["backstory"] = res.Backstory
	background["traits"] = res.Traits
	background["location"] = res.StartingLocation
	for k, v := range res.Extra {
		background[k] = v
	}
	delete(background, "details")

	s := savedata.New(th, background, res.Inventory)
	name := g.guard.SaveName(res.Name).Updated
	for {
		exists, err := g.store.SaveExists(ctx, user, name)
		if err != nil {
			return "", fmt.Errorf("failed to check save name: %w", err)
		}
		if !exists {
			break
		}
		name += "_(copy)"
	}
	if err := g.store.CreateSave(ctx, user, name, s); err != nil {
		if errors.Is(err, storage.ErrSaveExists) {
			return "", customf("%s", storage.ErrSaveExists.Error())
		}
		return "", fmt.Errorf("failed to create save: %w", err)
	}
	g.logger.Info("Save created", "user", user, "save", name, "theme", th.Name)

	if image {
		g.generateImage(ctx, user, name, storage.ImageCharacter, res.Prompt)
	}
	return name, nil
}

// DeleteSave removes a save with its cache and images.
func (g *Game) DeleteSave(ctx context.Context, user, saveID string) error {
	g.scheduler.Cancel(user, saveID)
	if err := g.store.DeleteSave(ctx, user, saveID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSaveNotFound
		}
		return fmt.Errorf("failed to delete save: %w", err)
	}
	return nil
}

// GetImage returns the base64 image of a category, or its placeholder.
func (g *Game) GetImage(ctx context.Context, user, saveID, category string) (string, error) {
	switch category {
	case storage.ImageCharacter, storage.ImageShop, storage.ImageScene:
	default:
		return "", customf("Invalid image category.")
	}
	return g.store.GetSaveImage(ctx, user, saveID, category), nil
}
