// Package gm turns game state into generator prompts and decodes the
// generator's replies into validated results.
package gm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jwebster45206/gamemaster/pkg/quest"
	"github.com/jwebster45206/gamemaster/pkg/savedata"
	"github.com/jwebster45206/gamemaster/pkg/shop"
	"github.com/jwebster45206/gamemaster/pkg/theme"
)

// ErrInvalidResult is returned when the generator keeps replying with data
// of the wrong shape.
var ErrInvalidResult = errors.New("Failed to generate a valid result!")

// shapeAttempts is how often a reply of the wrong shape is requested.
const shapeAttempts = 2

// Generator produces JSON objects from a system and a user prompt.
type Generator interface {
	GenerateJSON(ctx context.Context, system, user string) ([]byte, error)
}

// GameMaster asks the generator for every piece of generated content.
type GameMaster struct {
	gen          Generator
	logger       *slog.Logger
	historyLimit int
}

func New(gen Generator, logger *slog.Logger) *GameMaster {
	return &GameMaster{gen: gen, logger: logger, historyLimit: DefaultHistoryLimit}
}

// generate calls the generator and decodes the reply into T, asking once
// more when the reply does not decode or validate.
func generate[T any](ctx context.Context, g *GameMaster, op, system, user string, validate func(*T) error) (*T, error) {
	var lastErr error
	for attempt := 1; attempt <= shapeAttempts; attempt++ {
		raw, err := g.gen.GenerateJSON(ctx, system, user)
		if err != nil {
			return nil, fmt.Errorf("failed to generate %s: %w", op, err)
		}
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			lastErr = err
		} else if err := validate(&out); err != nil {
			lastErr = err
		} else {
			return &out, nil
		}
		g.logger.Warn("generator reply rejected", "operation", op, "attempt", attempt, "error", lastErr)
	}
	return nil, fmt.Errorf("%w (%s: %v)", ErrInvalidResult, op, lastErr)
}

// Backstory generates the identity of a new character.
func (g *GameMaster) Backstory(ctx context.Context, th *theme.Theme, background map[string]any) (*BackstoryResult, error) {
	choices := savedata.Choices(background)
	extra := th.GeneratedExtraFields(choices)
	names := make([]string, 0, len(extra))
	for _, f := range extra {
		names = append(names, f.Name)
	}
	user, err := json.Marshal(map[string]any{
		"background": background,
		"inventory":  th.EmptyInventory(choices),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return generate(ctx, g, "backstory", BackstorySystem(th, extra), string(user), func(b *BackstoryResult) error {
		return b.Validate(names...)
	})
}

// ActionResult narrates the outcome of action and attaches the quest delta
// the new scene implies. A failed quest update leaves the delta empty.
func (g *GameMaster) ActionResult(ctx context.Context, s *savedata.SaveData, action string, outcome savedata.Outcome) (*savedata.ActionResult, error) {
	user, err := NewBuilder(s).
		WithHistoryLimit(g.historyLimit).
		WithCharacter().
		WithHistory().
		WithAction(action, outcome).
		WithQuest().
		Build()
	if err != nil {
		return nil, err
	}
	res, err := generate(ctx, g, "action result", StorytellerSystem(s), user, func(r *savedata.ActionResult) error {
		r.ActionResult = outcome
		r.Quest = nil
		return r.Validate()
	})
	if err != nil {
		return nil, err
	}
	if s.Quest.IsActive() {
		upd, err := g.QuestUpdate(ctx, s, res.Scene)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Warn("quest update failed", "action", action, "error", err)
		} else {
			res.Quest = upd
		}
	}
	return res, nil
}

// QuestUpdate asks which goals of the active quest the scene settles.
func (g *GameMaster) QuestUpdate(ctx context.Context, s *savedata.SaveData, scene string) (*quest.Update, error) {
	if !s.Quest.IsActive() {
		return nil, errors.New("no active quest")
	}
	user, err := NewBuilder(s).WithQuest().With("scene", scene).Build()
	if err != nil {
		return nil, err
	}
	return generate(ctx, g, "quest update", fmt.Sprintf(QuestUpdatePrompt, themeName(s)), user, (*quest.Update).Validate)
}

// Quest proposes the next main quest.
func (g *GameMaster) Quest(ctx context.Context, s *savedata.SaveData) (*quest.Proposal, error) {
	user, err := NewBuilder(s).WithCharacter().Build()
	if err != nil {
		return nil, err
	}
	th := themeName(s)
	return generate(ctx, g, "quest", fmt.Sprintf(QuestPrompt, th, th), user, (*quest.Proposal).Validate)
}

// Shop stocks the merchant at the character's location.
func (g *GameMaster) Shop(ctx context.Context, s *savedata.SaveData) (*shop.Stock, error) {
	user, err := NewBuilder(s).WithCharacter().Build()
	if err != nil {
		return nil, err
	}
	categories := strings.Join(s.Inventory.Categories(), ", ")
	return generate(ctx, g, "shop", fmt.Sprintf(ShopPrompt, themeName(s), categories), user, (*shop.Stock).Validate)
}

// CustomAction judges an action typed by the player.
func (g *GameMaster) CustomAction(ctx context.Context, s *savedata.SaveData, action string) (*CustomActionResult, error) {
	user, err := NewBuilder(s).WithHistoryLimit(g.historyLimit).WithHistory().With("action", action).Build()
	if err != nil {
		return nil, err
	}
	system := fmt.Sprintf(CustomActionPrompt, themeName(s), strings.Join(s.SkillNames(), ", "))
	return generate(ctx, g, "custom action", system, user, (*CustomActionResult).Validate)
}

// CustomGoal judges a goal typed by the player.
func (g *GameMaster) CustomGoal(ctx context.Context, s *savedata.SaveData, goal string) (*CustomGoalResult, error) {
	user, err := NewBuilder(s).WithCharacter().WithQuest().With("goal", goal).Build()
	if err != nil {
		return nil, err
	}
	th := themeName(s)
	return generate(ctx, g, "custom goal", fmt.Sprintf(CustomGoalPrompt, th, th), user, (*CustomGoalResult).Validate)
}

// AbandonCheck asks whether the running story can be left now.
func (g *GameMaster) AbandonCheck(ctx context.Context, s *savedata.SaveData) (*AbandonCheck, error) {
	user, err := NewBuilder(s).WithHistoryLimit(g.historyLimit).WithHistory().Build()
	if err != nil {
		return nil, err
	}
	return generate(ctx, g, "abandon check", fmt.Sprintf(AbandonPrompt, themeName(s)), user, (*AbandonCheck).Validate)
}

// CloseAdventure summarises a finished story into a new backstory and
// memories. The whole story is sent.
func (g *GameMaster) CloseAdventure(ctx context.Context, s *savedata.SaveData) (*ClosingResult, error) {
	user, err := NewBuilder(s).WithHistoryLimit(0).WithCharacter().WithHistory().Build()
	if err != nil {
		return nil, err
	}
	return generate(ctx, g, "closing", fmt.Sprintf(ClosingPrompt, themeName(s)), user, (*ClosingResult).Validate)
}

// Probe checks that the generator answers at all.
func (g *GameMaster) Probe(ctx context.Context) error {
	if _, err := g.gen.GenerateJSON(ctx, ProbePrompt, "{}"); err != nil {
		return fmt.Errorf("text generator probe failed: %w", err)
	}
	return nil
}
