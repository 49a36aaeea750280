package game

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jwebster45206/gamemaster/internal/services/events"
	"github.com/jwebster45206/gamemaster/internal/storage"
	"github.com/jwebster45206/gamemaster/pkg/actor"
	"github.com/jwebster45206/gamemaster/pkg/gm"
	"github.com/jwebster45206/gamemaster/pkg/quest"
	"github.com/jwebster45206/gamemaster/pkg/savedata"
)

// Status values of a story beyond the action outcomes.
const (
	StatusAdvancing = "advancing"
	statusErrorFmt  = "error: %s"
)

var errNoStoryRunning = &CustomError{Message: "No story running."}

// GetQuest returns the save's quest, generating one when none is active or
// regen is set.
func (g *Game) GetQuest(ctx context.Context, user, saveID string, regen bool) (*quest.Quest, error) {
	s, err := g.waitFor(ctx, user, saveID, keyQuest, questPending)
	if err != nil {
		return nil, err
	}
	if s.Quest.IsActive() && !regen {
		return s.Quest, nil
	}
	if regen && s.HasStory() {
		return nil, customf("The quest cannot change during an adventure.")
	}
	q, err := g.generateQuest(ctx, s)
	if err != nil {
		return nil, err
	}
	_, err = g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		s.Quest = q
		s.QuestPending = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (g *Game) generateQuest(ctx context.Context, s *savedata.SaveData) (*quest.Quest, error) {
	var p *quest.Proposal
	err := g.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		p, err = g.gm.Quest(ctx, s)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate quest: %w", err)
	}
	return p.Quest(), nil
}

// NewStory starts an adventure. A goal that is not one of the quest's goals
// is judged by the game master and added to the quest.
func (g *Game) NewStory(ctx context.Context, user, saveID, goal string) error {
	s, err := g.waitFor(ctx, user, saveID, keyQuest, questPending)
	if err != nil {
		return err
	}
	if s.HasStory() {
		return customf("A story is already running.")
	}

	var generated *quest.Quest
	if !s.Quest.IsActive() {
		if generated, err = g.generateQuest(ctx, s); err != nil {
			return err
		}
		s.Quest = generated
	}

	var custom *quest.Goal
	if goal != "" {
		if _, known := s.Quest.Goals[goal]; !known {
			if custom, err = g.judgeGoal(ctx, s, goal); err != nil {
				return err
			}
			goal = custom.Title
		}
	}

	_, err = g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		if s.HasStory() {
			return customf("A story is already running.")
		}
		if generated != nil && !s.Quest.IsActive() {
			s.Quest = generated
		}
		if custom != nil {
			s.Quest.AddGoal(*custom)
		}
		s.QuestPending = false
		s.InitStory(goal)
		return nil
	})
	if err != nil {
		return err
	}
	g.logger.Info("Story started", "user", user, "save", saveID, "goal", goal)
	if err := g.scheduler.Schedule(ctx, user, saveID); err != nil {
		g.logger.Error("Failed to schedule cache refresh", "user", user, "save", saveID, "error", err)
	}
	return nil
}

func (g *Game) judgeGoal(ctx context.Context, s *savedata.SaveData, goal string) (*quest.Goal, error) {
	if d := g.guard.LLMInput(goal); !d.Allowed {
		return nil, customf("Invalid goal: %s", d.Reason)
	}
	var res *gm.CustomGoalResult
	err := g.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.gm.CustomGoal(ctx, s, goal)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to judge goal: %w", err)
	}
	if !res.IsValid() {
		return nil, customf("Invalid goal.")
	}
	title := res.Title
	if title == "" {
		title = goal
	}
	return &quest.Goal{
		Title:       title,
		Description: goal,
		Status:      quest.StatusActive,
		XPReward:    int(res.XPReward),
		GoldReward:  int(res.GoldReward),
	}, nil
}

// AdvanceStory plays action and returns its outcome. On failure the story
// status records the error so a client polling the save sees it.
func (g *Game) AdvanceStory(ctx context.Context, user, saveID, action string, image bool) (savedata.Outcome, error) {
	_, err := g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		if !s.HasStory() {
			return errNoStoryRunning
		}
		if s.Story.OptionIndex(action) < 0 {
			return customf("Invalid action.")
		}
		s.Story.Status = StatusAdvancing
		return nil
	})
	if err != nil {
		return "", err
	}

	outcome, err := g.advance(ctx, user, saveID, action, image)
	if err != nil {
		g.logger.Error("Failed to advance story", "user", user, "save", saveID, "action", action, "error", err)
		_, serr := g.mutate(context.WithoutCancel(ctx), user, saveID, func(s *savedata.SaveData) error {
			if s.HasStory() {
				s.Story.Status = fmt.Sprintf(statusErrorFmt, err.Error())
			}
			return nil
		})
		if serr != nil {
			g.logger.Error("Failed to record story error", "user", user, "save", saveID, "error", serr)
		}
		return "", err
	}
	return outcome, nil
}

func (g *Game) advance(ctx context.Context, user, saveID, action string, image bool) (savedata.Outcome, error) {
	res, err := g.cache.Consume(ctx, user, saveID, action)
	if err != nil {
		return "", fmt.Errorf("failed to get action result: %w", err)
	}
	if image {
		g.generateImage(ctx, user, saveID, storage.ImageScene, res.Prompt)
	}
	res.Scene = g.guard.Narration(res.Scene)

	concluded := false
	s, err := g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		wasActive := s.Quest.IsActive()
		if err := s.UpdateStory(res, action); err != nil {
			if errors.Is(err, savedata.ErrUnknownAction) {
				return customf("Invalid action.")
			}
			return err
		}
		concluded = wasActive && !s.Quest.IsActive()
		return nil
	})
	if err != nil {
		return "", err
	}

	if concluded {
		g.rolloverQuest(ctx, user, saveID, s)
	}
	g.publish(ctx, events.EventTypeStoryAdvanced, user, saveID, map[string]any{
		"action":        action,
		"action_result": res.ActionResult,
		"health":        s.Story.Health,
	})
	if s.Story.Health > 0 && len(s.Story.Options) > 0 {
		if err := g.scheduler.Schedule(ctx, user, saveID); err != nil {
			g.logger.Error("Failed to schedule cache refresh", "user", user, "save", saveID, "error", err)
		}
	}
	return res.ActionResult, nil
}

// rolloverQuest replaces a concluded quest with a fresh one. The story goes
// on without a quest if generation fails.
func (g *Game) rolloverQuest(ctx context.Context, user, saveID string, s *savedata.SaveData) {
	q, err := g.generateQuest(ctx, s)
	if err != nil {
		g.logger.Warn("Quest rollover failed", "user", user, "save", saveID, "error", err)
		return
	}
	_, err = g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		if !s.Quest.IsActive() {
			s.Quest = q
		}
		return nil
	})
	if err != nil {
		g.logger.Warn("Failed to store new quest", "user", user, "save", saveID, "error", err)
		return
	}
	g.publish(ctx, events.EventTypeQuestReady, user, saveID, map[string]any{"title": q.Title})
}

// CreateOption lets the player propose an action of their own. A proposal
// the game master rejects is reported in the message, not as an error.
func (g *Game) CreateOption(ctx context.Context, user, saveID, action string) (string, error) {
	s, err := g.load(ctx, user, saveID)
	if err != nil {
		return "", err
	}
	if err := checkNewOption(s, action); err != nil {
		return "", err
	}
	if d := g.guard.LLMInput(action); !d.Allowed {
		return "", customf("Invalid action: %s", d.Reason)
	}

	var res *gm.CustomActionResult
	err = g.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.gm.CustomAction(ctx, s, action)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to judge action: %w", err)
	}
	if !res.IsValid() {
		return MsgOptionInvalid, nil
	}

	_, err = g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		if err := checkNewOption(s, action); err != nil {
			return err
		}
		adv := res.Advantage
		skills := s.SkillNames()
		if !slices.Contains(skills, adv) {
			adv = skills[0]
		}
		st := s.Story
		st.Options = append(st.Options, action)
		st.Rates = append(st.Rates, res.Rate)
		st.Advantages = append(st.Advantages, adv)
		st.Levels = append(st.Levels, int(res.Level))
		st.Experience = append(st.Experience, int(res.Experience))
		return nil
	})
	if err != nil {
		return "", err
	}
	return MsgOptionCreated, nil
}

func checkNewOption(s *savedata.SaveData, action string) error {
	if !s.HasStory() {
		return errNoStoryRunning
	}
	if len(s.Story.Options) >= savedata.MaxOptions {
		return customf("Too many existing options, can't add a new one.")
	}
	if s.Story.OptionIndex(action) >= 0 {
		return customf("Action already exists.")
	}
	return nil
}

// SpendActionPoint raises skill by one point.
func (g *Game) SpendActionPoint(ctx context.Context, user, saveID, skill string) error {
	_, err := g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		switch err := s.SpendActionPoint(skill); {
		case errors.Is(err, savedata.ErrNoActionPoints):
			return customf("No action points left.")
		case errors.Is(err, savedata.ErrUnknownSkill):
			return customf("Skill not found.")
		default:
			return err
		}
	})
	return err
}

// storyFinished reports whether the story can be closed without asking: it
// has no options left or its goal is settled.
func storyFinished(s *savedata.SaveData) bool {
	if len(s.Story.Options) == 0 {
		return true
	}
	if s.Story.Goal == "" {
		return !s.Quest.IsActive()
	}
	if s.Quest == nil {
		return true
	}
	g, ok := s.Quest.Goals[s.Story.Goal]
	return ok && g.Status != quest.StatusActive
}

// EndGame closes the running story. An unfinished story is abandoned only
// if the game master allows it; a finished one updates the backstory and
// memories. A character at zero health dies.
func (g *Game) EndGame(ctx context.Context, user, saveID string, image bool) error {
	s, err := g.load(ctx, user, saveID)
	if err != nil {
		return err
	}
	if !s.HasStory() {
		return ErrNoStory
	}

	var closing *gm.ClosingResult
	if !storyFinished(s) {
		var check *gm.AbandonCheck
		err = g.pool.Do(ctx, func(ctx context.Context) error {
			var err error
			check, err = g.gm.AbandonCheck(ctx, s)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to check abandonment: %w", err)
		}
		if check.Possible != gm.Yes {
			return customf("Not possible to abandon at current situation!")
		}
	} else {
		err = g.pool.Do(ctx, func(ctx context.Context) error {
			var err error
			closing, err = g.gm.CloseAdventure(ctx, s)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to close adventure: %w", err)
		}
	}

	g.scheduler.Cancel(user, saveID)
	s, err = g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		if !s.HasStory() {
			return ErrNoStory
		}
		if closing != nil {
			s.Background["backstory"] = closing.NewBackstory
			s.Memories = append(s.Memories, closing.NewMemories...)
		}
		if s.Story.Health == 0 {
			g.logger.Info("Character died", "user", user, "save", saveID)
			s.Death = true
		}
		s.Story = nil
		return nil
	})
	if err != nil {
		return err
	}
	if err := g.store.DeleteAllCache(ctx, user, saveID); err != nil {
		g.logger.Warn("Failed to clear story cache", "user", user, "save", saveID, "error", err)
	}
	g.publish(ctx, events.EventTypeGameEnded, user, saveID, map[string]any{"death": s.Death})

	if !s.Death {
		if err := g.startBackground(ctx, user, saveID, image); err != nil {
			g.logger.Error("Failed to start background generation", "user", user, "save", saveID, "error", err)
		}
	}
	return nil
}

// Sheet returns the d20 character sheet of a save.
func (g *Game) Sheet(ctx context.Context, user, saveID string) (*actor.Sheet, error) {
	s, err := g.load(ctx, user, saveID)
	if err != nil {
		return nil, err
	}
	return actor.NewSheet(s)
}

// Save returns the save itself, for exports.
func (g *Game) Save(ctx context.Context, user, saveID string) (*savedata.SaveData, error) {
	return g.load(ctx, user, saveID)
}
