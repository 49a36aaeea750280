package gm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jwebster45206/gamemaster/pkg/inventory"
)

// MaxStartingItems caps the inventory a backstory may hand out.
const MaxStartingItems = 2

// Yes and No are the verdict values the game master uses.
const (
	Yes = "yes"
	No  = "no"
)

// BackstoryResult is the generated identity of a new character. Generated
// extra fields named by the theme land in Extra.
type BackstoryResult struct {
	Name             string               `json:"name"`
	Backstory        string               `json:"backstory"`
	Traits           []string             `json:"traits"`
	StartingLocation string               `json:"starting_location"`
	Inventory        *inventory.Inventory `json:"inventory"`
	Prompt           string               `json:"prompt"`
	Extra            map[string]string    `json:"-"`
}

func (b *BackstoryResult) UnmarshalJSON(data []byte) error {
	type plain BackstoryResult
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"name": true, "backstory": true, "traits": true,
		"starting_location": true, "inventory": true, "prompt": true,
	}
	p.Extra = map[string]string{}
	for k, v := range raw {
		if known[k] {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil {
			p.Extra[k] = s
		}
	}
	*b = BackstoryResult(p)
	return nil
}

// Validate checks the result against the extra fields the theme asked for.
func (b *BackstoryResult) Validate(extra ...string) error {
	if b.Name == "" {
		return errors.New("backstory without a name")
	}
	if b.Backstory == "" {
		return errors.New("backstory is empty")
	}
	if b.Inventory == nil {
		b.Inventory = inventory.New()
	}
	if n := b.Inventory.Len(); n > MaxStartingItems {
		return fmt.Errorf("backstory hands out %d items", n)
	}
	for _, f := range extra {
		if b.Extra[f] == "" {
			return fmt.Errorf("backstory is missing extra field %q", f)
		}
	}
	return nil
}

// looseInt decodes any JSON number, rounding down, and treats anything else
// as zero.
type looseInt int

func (l *looseInt) UnmarshalJSON(data []byte) error {
	var f float64
	if json.Unmarshal(data, &f) != nil {
		*l = 0
		return nil
	}
	*l = looseInt(math.Floor(f))
	return nil
}

// CustomActionResult judges an action typed by the player.
type CustomActionResult struct {
	Valid      string   `json:"valid"`
	Rate       float64  `json:"rate"`
	Advantage  string   `json:"advantage"`
	Level      looseInt `json:"level"`
	Experience looseInt `json:"experience"`
}

func (c *CustomActionResult) Validate() error {
	switch c.Valid {
	case No:
		return nil
	case Yes:
	default:
		return fmt.Errorf("unknown verdict %q", c.Valid)
	}
	if c.Rate < 0 || c.Rate > 1 {
		return fmt.Errorf("rate %v out of range", c.Rate)
	}
	return nil
}

func (c *CustomActionResult) IsValid() bool { return c.Valid == Yes }

// CustomGoalResult judges a goal typed by the player.
type CustomGoalResult struct {
	Valid      string   `json:"valid"`
	Title      string   `json:"title"`
	XPReward   looseInt `json:"xp_reward"`
	GoldReward looseInt `json:"gold_reward"`
}

func (c *CustomGoalResult) Validate() error {
	switch c.Valid {
	case No:
		return nil
	case Yes:
	default:
		return fmt.Errorf("unknown verdict %q", c.Valid)
	}
	if c.XPReward < 0 || c.GoldReward < 0 {
		return errors.New("goal has a negative reward")
	}
	return nil
}

func (c *CustomGoalResult) IsValid() bool { return c.Valid == Yes }

// AbandonCheck says whether the player may leave a running story.
type AbandonCheck struct {
	Possible string `json:"possible"`
}

func (a *AbandonCheck) Validate() error {
	if a.Possible != Yes && a.Possible != No {
		return fmt.Errorf("unknown verdict %q", a.Possible)
	}
	return nil
}

// ClosingResult wraps up a finished adventure.
type ClosingResult struct {
	NewBackstory string   `json:"new_backstory"`
	NewMemories  []string `json:"new_memories"`
}

func (c *ClosingResult) Validate() error {
	if c.NewBackstory == "" {
		return errors.New("closing without a backstory")
	}
	return nil
}
