package gm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jwebster45206/gamemaster/pkg/savedata"
	"github.com/jwebster45206/gamemaster/pkg/theme"
)

// DefaultHistoryLimit is how many turns of history a prompt carries.
const DefaultHistoryLimit = 20

// Builder assembles the JSON user payload sent alongside a system prompt.
type Builder struct {
	save         *savedata.SaveData
	historyLimit int
	fields       map[string]any
	err          error
}

// NewBuilder starts a payload for the given save.
func NewBuilder(s *savedata.SaveData) *Builder {
	return &Builder{
		save:         s,
		historyLimit: DefaultHistoryLimit,
		fields:       make(map[string]any),
	}
}

// WithHistoryLimit sets the history window in turns.
func (b *Builder) WithHistoryLimit(limit int) *Builder {
	b.historyLimit = limit
	return b
}

// WithCharacter adds the character sheet.
func (b *Builder) WithCharacter() *Builder {
	s := b.save
	b.fields["background"] = s.Background
	b.fields["inventory"] = s.Inventory
	b.fields["coins"] = s.Coins
	b.fields["level"] = s.Level
	b.fields["skills"] = s.Skills
	if len(s.Memories) > 0 {
		b.fields["memories"] = s.Memories
	}
	return b
}

// WithHistory adds the windowed story log and the current scene.
func (b *Builder) WithHistory() *Builder {
	st := b.save.Story
	if st == nil {
		b.err = errors.New("no story running")
		return b
	}
	b.fields["history"] = FormatHistory(st.History, b.historyLimit)
	b.fields["scene"] = st.Scene
	return b
}

// WithAction adds the chosen action and the rolled outcome.
func (b *Builder) WithAction(action string, outcome savedata.Outcome) *Builder {
	b.fields["action"] = action
	b.fields["action_result"] = outcome
	if st := b.save.Story; st != nil {
		b.fields["health"] = st.Health
	}
	return b
}

// WithQuest adds the active quest, if any.
func (b *Builder) WithQuest() *Builder {
	if q := b.save.Quest; q.IsActive() {
		b.fields["quest"] = q.Brief()
	}
	return b
}

// With sets an arbitrary payload field.
func (b *Builder) With(key string, value any) *Builder {
	b.fields[key] = value
	return b
}

// Build returns the payload as a JSON string.
func (b *Builder) Build() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	data, err := json.Marshal(b.fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(data), nil
}

// FormatHistory renders the last limit turns of a story log. The log
// alternates the player's action and the scene that followed it.
func FormatHistory(history []string, limit int) []string {
	turns := make([]string, 0, len(history)/2)
	for i := 0; i+1 < len(history); i += 2 {
		action := strings.TrimSuffix(history[i], ".")
		turns = append(turns, fmt.Sprintf("(player action: %s) %s", action, history[i+1]))
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}

func themeName(s *savedata.SaveData) string {
	if s.Theme == nil {
		return "fantasy"
	}
	return s.Theme.Name
}

// StorytellerSystem renders the storyteller prompt for a save.
func StorytellerSystem(s *savedata.SaveData) string {
	th := themeName(s)
	goalDesc := "with a clear goal and an ending"
	goalEnd := "adventure's end is reached"
	goalField := ""
	if s.Story != nil && s.Story.Goal != "" {
		goalDesc = "slowly leading to the goal I provide"
		goalEnd = "goal is achieved or failed"
		goalField = "The player's goal is: " + s.Story.Goal
	}
	bg, _ := json.Marshal(s.Background)
	return fmt.Sprintf(StorytellerPrompt, th, th, goalDesc, bg, goalField,
		strings.Join(s.SkillNames(), ", "), goalEnd)
}

// BackstorySystem renders the backstory prompt, listing the extra fields the
// generator has to fill.
func BackstorySystem(th *theme.Theme, extra []theme.ExtraField) string {
	var sb strings.Builder
	for _, f := range extra {
		fmt.Fprintf(&sb, "- %s: %s\n", f.Name, f.FieldValue.Hint)
	}
	return fmt.Sprintf(BackstoryPrompt, th.Name, th.Name, sb.String())
}
