package savedata

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/jwebster45206/gamemaster/pkg/inventory"
	"github.com/jwebster45206/gamemaster/pkg/quest"
)

// Outcome of a success roll.
type Outcome string

const (
	Success Outcome = "Success"
	Failure Outcome = "Failure"
)

// MaxOptions is the most options a story offers at once.
const MaxOptions = 5

// ActionResult is the generated consequence of one player action.
type ActionResult struct {
	Scene        string               `json:"scene"`
	NewLocation  string               `json:"new_location,omitempty"`
	Options      []string             `json:"options"`
	Rates        []float64            `json:"rates"`
	Advantages   []string             `json:"advantages"`
	Levels       []int                `json:"level"`
	Experience   []int                `json:"experience"`
	Health       int                  `json:"health"`
	Inventory    *inventory.Inventory `json:"inventory"`
	Coins        int                  `json:"coins"`
	Prompt       string               `json:"prompt"`
	Quest        *quest.Update        `json:"quest,omitempty"`
	ActionResult Outcome              `json:"action_result"`
}

// Validate checks the result before it is cached or applied.
func (r *ActionResult) Validate() error {
	if r.Scene == "" {
		return errors.New("action result without a scene")
	}
	if r.ActionResult != Success && r.ActionResult != Failure {
		return fmt.Errorf("unknown action outcome %q", r.ActionResult)
	}
	if r.Health < 0 || r.Health > MaxHealth {
		return fmt.Errorf("health %d out of range", r.Health)
	}
	if r.Coins < 0 {
		return errors.New("negative coins")
	}
	if r.Health > 0 {
		n := len(r.Options)
		if n > MaxOptions {
			return fmt.Errorf("%d options, at most %d allowed", n, MaxOptions)
		}
		if len(r.Rates) != n || len(r.Advantages) != n || len(r.Levels) != n || len(r.Experience) != n {
			return fmt.Errorf("option lists differ in length: %d options, %d rates, %d advantages, %d levels, %d experience",
				n, len(r.Rates), len(r.Advantages), len(r.Levels), len(r.Experience))
		}
		for _, rate := range r.Rates {
			if rate < 0 || rate > 1 {
				return fmt.Errorf("rate %v out of range", rate)
			}
		}
	}
	if r.Quest != nil {
		if err := r.Quest.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Roller draws uniform numbers in [0, 1).
type Roller interface {
	Float64() float64
}

type randRoller struct{}

func (randRoller) Float64() float64 { return rand.Float64() }

// DefaultRoller uses the process wide random source.
var DefaultRoller Roller = randRoller{}

var ErrProbability = errors.New("Probability must be between 0 and 1.")

// Roll returns Success with probability p.
func Roll(p float64, r Roller) (Outcome, error) {
	if p < 0 || p > 1 {
		return "", ErrProbability
	}
	if r == nil {
		r = DefaultRoller
	}
	if r.Float64() < p {
		return Success, nil
	}
	return Failure, nil
}

// SuccessRate returns the chance of the option at idx. Once the story has
// history, an option whose advantage skill meets the required level gets
// three quarters of its remaining failure chance removed.
func (s *SaveData) SuccessRate(idx int) (float64, error) {
	st := s.Story
	if st == nil {
		return 0, errors.New("no story running")
	}
	if idx < 0 || idx >= len(st.Options) || idx >= len(st.Rates) {
		return 0, fmt.Errorf("option index %d out of range", idx)
	}
	rate := st.Rates[idx]
	if len(st.History) == 0 {
		return rate, nil
	}
	skills := s.SkillNames()
	if len(skills) == 0 || idx >= len(st.Advantages) || idx >= len(st.Levels) {
		return rate, nil
	}
	adv := st.Advantages[idx]
	if !slices.Contains(skills, adv) {
		adv = skills[0]
	}
	if s.Skills[adv] >= st.Levels[idx] {
		rate += (1 - rate) * 0.75
	}
	return rate, nil
}
