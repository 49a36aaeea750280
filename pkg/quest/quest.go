// Package quest tracks the main quest of a save and its sub-goals.
package quest

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

type Status string

const (
	StatusActive    Status = "Active"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Goal is a sub-objective of a quest.
type Goal struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	XPReward    int    `json:"xp_reward"`
	GoldReward  int    `json:"gold_reward"`
}

// UnmarshalJSON accepts "goal" as an alias for the description and defaults
// the status to Active.
func (g *Goal) UnmarshalJSON(data []byte) error {
	var raw struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Goal        string `json:"goal"`
		Status      Status `json:"status"`
		XPReward    int    `json:"xp_reward"`
		GoldReward  int    `json:"gold_reward"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*g = Goal{
		Title:       raw.Title,
		Description: raw.Description,
		Status:      raw.Status,
		XPReward:    raw.XPReward,
		GoldReward:  raw.GoldReward,
	}
	if g.Description == "" {
		g.Description = raw.Goal
	}
	if g.Status == "" {
		g.Status = StatusActive
	}
	return nil
}

// Quest is the single open storyline of a save.
type Quest struct {
	Title       string           `json:"quest_title"`
	Description string           `json:"quest_description"`
	Status      Status           `json:"status"`
	XPReward    int              `json:"quest_xp_reward"`
	GoldReward  int              `json:"quest_gold_reward"`
	Goals       map[string]*Goal `json:"goals"`
}

// UnmarshalJSON accepts goals as a list or as a map keyed by title.
func (q *Quest) UnmarshalJSON(data []byte) error {
	type plain Quest
	var raw struct {
		plain
		Goals json.RawMessage `json:"goals"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*q = Quest(raw.plain)
	if q.Status == "" {
		q.Status = StatusActive
	}
	q.Goals = map[string]*Goal{}
	if len(raw.Goals) == 0 || string(raw.Goals) == "null" {
		return nil
	}
	var list []*Goal
	if err := json.Unmarshal(raw.Goals, &list); err == nil {
		for _, g := range list {
			if g != nil {
				q.Goals[g.Title] = g
			}
		}
		return nil
	}
	var byTitle map[string]*Goal
	if err := json.Unmarshal(raw.Goals, &byTitle); err != nil {
		return fmt.Errorf("quest goals: %w", err)
	}
	for title, g := range byTitle {
		if g == nil {
			continue
		}
		if g.Title == "" {
			g.Title = title
		}
		q.Goals[title] = g
	}
	return nil
}

func (q *Quest) IsActive() bool {
	return q != nil && q.Status == StatusActive
}

func (q *Quest) Complete() { q.Status = StatusCompleted }
func (q *Quest) Fail()     { q.Status = StatusFailed }

// AddGoal registers a new active goal. It returns false when the title is
// already taken.
func (q *Quest) AddGoal(g Goal) bool {
	if q.Goals == nil {
		q.Goals = map[string]*Goal{}
	}
	if _, ok := q.Goals[g.Title]; ok {
		return false
	}
	g.Status = StatusActive
	q.Goals[g.Title] = &g
	return true
}

// CompleteGoal marks an active goal completed and returns it. Unknown goals
// and goals that already left the Active state yield false, so rewards are
// only granted once.
func (q *Quest) CompleteGoal(title string) (*Goal, bool) {
	g, ok := q.Goals[title]
	if !ok || g.Status != StatusActive {
		return nil, false
	}
	g.Status = StatusCompleted
	return g, true
}

// FailGoal marks a known goal failed.
func (q *Quest) FailGoal(title string) bool {
	g, ok := q.Goals[title]
	if !ok {
		return false
	}
	g.Status = StatusFailed
	return true
}

// ActiveGoals returns copies of the active goals sorted by title.
func (q *Quest) ActiveGoals() []Goal {
	var out []Goal
	for _, g := range q.Goals {
		if g.Status == StatusActive {
			out = append(out, *g)
		}
	}
	slices.SortFunc(out, func(a, b Goal) int {
		switch {
		case a.Title < b.Title:
			return -1
		case a.Title > b.Title:
			return 1
		}
		return 0
	})
	return out
}

// Brief is the quest as handed to the storyteller.
type Brief struct {
	Title       string      `json:"quest_title"`
	Description string      `json:"quest_description"`
	Goals       []BriefGoal `json:"goals"`
}

type BriefGoal struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Brief lists the quest with only its active goals.
func (q *Quest) Brief() Brief {
	b := Brief{Title: q.Title, Description: q.Description, Goals: []BriefGoal{}}
	for _, g := range q.ActiveGoals() {
		b.Goals = append(b.Goals, BriefGoal{Title: g.Title, Description: g.Description})
	}
	return b
}

func (q *Quest) Clone() *Quest {
	if q == nil {
		return nil
	}
	cp := *q
	cp.Goals = make(map[string]*Goal, len(q.Goals))
	for k, g := range q.Goals {
		gc := *g
		cp.Goals[k] = &gc
	}
	return &cp
}

// Conclusion values carried by an Update.
const (
	ConclusionCompleted = "completed"
	ConclusionFailed    = "failed"
)

// NewGoal is a goal proposed by the game master.
type NewGoal struct {
	Title      string `json:"title"`
	Goal       string `json:"goal"`
	XPReward   int    `json:"xp_reward"`
	GoldReward int    `json:"gold_reward"`
}

// Update is the quest delta produced alongside an action result.
type Update struct {
	QuestCompleted string    `json:"quest_completed,omitempty"`
	NewBackstory   string    `json:"new_backstory,omitempty"`
	Completed      []string  `json:"completed,omitempty"`
	Failed         []string  `json:"failed,omitempty"`
	New            []NewGoal `json:"new,omitempty"`
}

func (u *Update) Validate() error {
	switch u.QuestCompleted {
	case "", ConclusionCompleted, ConclusionFailed:
	default:
		return fmt.Errorf("unknown quest conclusion %q", u.QuestCompleted)
	}
	for _, g := range u.New {
		if g.Title == "" {
			return errors.New("new goal without a title")
		}
		if g.XPReward < 0 || g.GoldReward < 0 {
			return fmt.Errorf("goal %q has a negative reward", g.Title)
		}
	}
	return nil
}

// Concludes reports whether the update ends the quest.
func (u *Update) Concludes() bool {
	return u != nil && u.QuestCompleted != ""
}

// Proposal is a freshly generated quest.
type Proposal struct {
	Title       string    `json:"quest_title"`
	Description string    `json:"quest_description"`
	XPReward    int       `json:"quest_xp_reward"`
	GoldReward  int       `json:"quest_gold_reward"`
	Goals       []NewGoal `json:"goals"`
}

func (p *Proposal) Validate() error {
	if p.Title == "" {
		return errors.New("quest without a title")
	}
	if len(p.Goals) == 0 {
		return errors.New("quest without goals")
	}
	if p.XPReward < 0 || p.GoldReward < 0 {
		return errors.New("quest has a negative reward")
	}
	for _, g := range p.Goals {
		if g.Title == "" {
			return errors.New("goal without a title")
		}
	}
	return nil
}

// Quest builds an active quest from the proposal.
func (p *Proposal) Quest() *Quest {
	q := &Quest{
		Title:       p.Title,
		Description: p.Description,
		Status:      StatusActive,
		XPReward:    p.XPReward,
		GoldReward:  p.GoldReward,
		Goals:       map[string]*Goal{},
	}
	for _, g := range p.Goals {
		q.AddGoal(Goal{Title: g.Title, Description: g.Goal, XPReward: g.XPReward, GoldReward: g.GoldReward})
	}
	return q
}
