// Package actor builds the character sheet of a save on top of a d20 actor.
package actor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jwebster45206/d20"

	"github.com/jwebster45206/gamemaster/pkg/savedata"
)

const baseAC = 10

// armourSlots each add one point of AC per item worn.
var armourSlots = []string{"head", "body", "feet"}

// Sheet is the runtime view of a character.
type Sheet struct {
	Save  *savedata.SaveData
	Actor *d20.Actor
}

// NewSheet builds a sheet for s. Skills become actor attributes, the story
// health becomes HP.
func NewSheet(s *savedata.SaveData) (*Sheet, error) {
	if s == nil {
		return nil, fmt.Errorf("save cannot be nil")
	}
	attrs := make(map[string]int, len(s.Skills))
	for k, v := range s.Skills {
		attrs[k] = v
	}
	mods := map[string]int{}
	if n := len(s.Inventory.Items("weapon")); n > 0 {
		mods["weapon"] = n
	}

	actor, err := d20.NewActor(actorID(s)).
		WithHP(savedata.MaxHealth).
		WithAC(armourClass(s)).
		WithAttributes(attrs).
		WithCombatModifiers(mods).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build actor: %w", err)
	}

	if s.Story != nil && s.Story.Health != savedata.MaxHealth && s.Story.Health > 0 {
		if err := actor.SetHP(s.Story.Health); err != nil {
			return nil, fmt.Errorf("failed to set HP: %w", err)
		}
	}
	return &Sheet{Save: s, Actor: actor}, nil
}

func actorID(s *savedata.SaveData) string {
	if name := s.Name(); name != "" {
		return name
	}
	return "player"
}

func armourClass(s *savedata.SaveData) int {
	ac := baseAC
	for _, slot := range armourSlots {
		ac += len(s.Inventory.Items(slot))
	}
	return ac
}

// HP is zero once the story reports the character down, whatever the actor
// holds.
func (sh *Sheet) HP() int {
	if st := sh.Save.Story; st != nil && st.Health <= 0 {
		return 0
	}
	return sh.Actor.HP()
}

type sheetResponse struct {
	Name          string              `json:"name"`
	Theme         string              `json:"theme"`
	Level         int                 `json:"level"`
	XP            int                 `json:"xp"`
	XPToNextLevel int                 `json:"xp_to_next_level"`
	ActionPoints  int                 `json:"action_points"`
	HP            int                 `json:"hp"`
	MaxHP         int                 `json:"max_hp"`
	AC            int                 `json:"ac"`
	Skills        map[string]int      `json:"skills"`
	Inventory     map[string][]string `json:"inventory"`
	Coins         int                 `json:"coins"`
	Location      string              `json:"location,omitempty"`
	Quest         string              `json:"quest,omitempty"`
	Dead          bool                `json:"dead"`
}

// MarshalJSON reads live values from the actor.
func (sh *Sheet) MarshalJSON() ([]byte, error) {
	if sh == nil || sh.Actor == nil {
		return []byte("null"), nil
	}
	s := sh.Save
	resp := sheetResponse{
		Name:          s.Name(),
		Level:         s.Level,
		XP:            s.XP,
		XPToNextLevel: s.XPToNextLevel,
		ActionPoints:  s.ActionPoints,
		HP:            sh.HP(),
		MaxHP:         sh.Actor.MaxHP(),
		AC:            sh.Actor.AC(),
		Skills:        map[string]int{},
		Inventory:     s.Inventory.ToMap(),
		Coins:         s.Coins,
		Dead:          s.Death,
	}
	if s.Theme != nil {
		resp.Theme = s.Theme.Name
	}
	for _, k := range s.SkillNames() {
		if v, ok := sh.Actor.Attribute(k); ok {
			resp.Skills[k] = v
		}
	}
	resp.Location, _ = s.Background["location"].(string)
	if s.Quest != nil {
		resp.Quest = s.Quest.Title
	}
	return json.Marshal(resp)
}

// BuildPrompt describes the character for the game master. It returns an
// empty string for a nil sheet.
//
// Example output:
// The player is controlling: Aria, Level 3 Elf Archer. Skills: INT 2, STR 1. HP 4/5, AC 11.
func BuildPrompt(sh *Sheet) string {
	if sh == nil {
		return ""
	}
	s := sh.Save
	var sb strings.Builder
	sb.WriteString("The player is controlling: ")
	sb.WriteString(actorID(s))
	sb.WriteString(fmt.Sprintf(", Level %d", s.Level))
	for _, key := range []string{"race", "profession", "affiliation"} {
		if v, ok := s.Background[key].(string); ok && v != "" {
			sb.WriteString(" ")
			sb.WriteString(v)
		}
	}
	sb.WriteString(".")

	parts := []string{}
	for _, k := range s.SkillNames() {
		if v, ok := sh.Actor.Attribute(k); ok {
			parts = append(parts, fmt.Sprintf("%s %d", k, v))
		}
	}
	if len(parts) > 0 {
		sb.WriteString(" Skills: ")
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString(".")
	}
	sb.WriteString(fmt.Sprintf(" HP %d/%d, AC %d.", sh.HP(), sh.Actor.MaxHP(), sh.Actor.AC()))
	return sb.String()
}
