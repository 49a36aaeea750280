// Package savedata holds the persistent state of one character.
package savedata

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/jwebster45206/gamemaster/pkg/inventory"
	"github.com/jwebster45206/gamemaster/pkg/quest"
	"github.com/jwebster45206/gamemaster/pkg/shop"
	"github.com/jwebster45206/gamemaster/pkg/theme"
)

const (
	// MaxHealth is the health a story starts with.
	MaxHealth = 5
	// StartingCoins for a new character.
	StartingCoins = 100

	firstLevelXP = 75
)

// StartingOptions are offered when an adventure begins.
var StartingOptions = []string{"Wake up", "Look around", "Stand up"}

var ErrUnknownAction = errors.New("action not among the current options")

// Story is the running adventure. Options, Rates, Advantages, Levels and
// Experience are parallel lists.
type Story struct {
	History    []string  `json:"history"`
	Scene      string    `json:"scene"`
	Prompt     string    `json:"prompt"`
	Img        string    `json:"img"`
	Status     string    `json:"status"`
	Goal       string    `json:"goal,omitempty"`
	Health     int       `json:"health"`
	Options    []string  `json:"options"`
	Rates      []float64 `json:"rates"`
	Advantages []string  `json:"advantages"`
	Levels     []int     `json:"levels"`
	Experience []int     `json:"experience"`
}

// OptionIndex returns the position of action among the options.
func (s *Story) OptionIndex(action string) int {
	return slices.Index(s.Options, action)
}

// SaveData is the whole state of a character.
type SaveData struct {
	Theme         *theme.Theme
	Background    map[string]any
	Level         int
	XP            int
	XPToNextLevel int
	ActionPoints  int
	Skills        map[string]int
	Inventory     *inventory.Inventory
	Coins         int
	Death         bool
	Memories      []string
	Story         *Story
	Shop          *shop.Shop
	Quest         *quest.Quest
	// QuestPending is set while the next quest is generated in the
	// background.
	QuestPending bool
	Ver          int
}

// New creates a level one character. The starting inventory is merged into
// the theme's empty inventory.
func New(th *theme.Theme, background map[string]any, starting *inventory.Inventory) *SaveData {
	if background == nil {
		background = map[string]any{}
	}
	inv := th.EmptyInventory(Choices(background))
	inv.Merge(starting)
	skills := make(map[string]int, len(th.Skills))
	for _, s := range th.Skills {
		skills[s] = 1
	}
	return &SaveData{
		Theme:         th,
		Background:    background,
		Level:         1,
		XPToNextLevel: firstLevelXP,
		Skills:        skills,
		Inventory:     inv,
		Coins:         StartingCoins,
		Shop:          shop.New(),
	}
}

// Choices returns the string valued background entries.
func Choices(background map[string]any) map[string]string {
	out := make(map[string]string, len(background))
	for k, v := range background {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Name is the character name from the background.
func (s *SaveData) Name() string {
	name, _ := s.Background["name"].(string)
	return name
}

// SkillNames returns the skills in theme order.
func (s *SaveData) SkillNames() []string {
	var names []string
	if s.Theme != nil {
		for _, sk := range s.Theme.Skills {
			if _, ok := s.Skills[sk]; ok {
				names = append(names, sk)
			}
		}
	}
	for sk := range s.Skills {
		if !slices.Contains(names, sk) {
			names = append(names, sk)
		}
	}
	return names
}

// HasStory reports whether an adventure is running.
func (s *SaveData) HasStory() bool {
	return s.Story != nil
}

// AdvanceVersion bumps the write version.
func (s *SaveData) AdvanceVersion() {
	s.Ver++
}

// InitStory starts a new adventure and closes the shop.
func (s *SaveData) InitStory(goal string) {
	skills := s.SkillNames()
	adv := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		adv = append(adv, skills[i%len(skills)])
	}
	s.Story = &Story{
		History:    []string{},
		Goal:       goal,
		Health:     MaxHealth,
		Options:    slices.Clone(StartingOptions),
		Rates:      []float64{1, 1, 1},
		Advantages: adv,
		Levels:     []int{0, 0, 0},
		Experience: []int{0, 0, 0},
	}
	s.Shop.Close()
}

// AddXP adds experience, levelling up as many times as it allows. Every
// level grants an action point.
func (s *SaveData) AddXP(xp int) {
	current := s.XP + xp
	for current >= s.XPToNextLevel {
		current -= s.XPToNextLevel
		s.Level++
		s.XPToNextLevel = XPForLevel(s.Level)
		s.ActionPoints++
	}
	s.XP = current
}

// XPForLevel returns the experience needed to leave level.
func XPForLevel(level int) int {
	n := level + 2
	return 25*n*n - 50*n
}

// UpdateStory applies the result of action to the running story.
func (s *SaveData) UpdateStory(res *ActionResult, action string) error {
	if s.Story == nil {
		return errors.New("no story running")
	}
	if err := res.Validate(); err != nil {
		return err
	}
	st := s.Story
	idx := st.OptionIndex(action)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	st.History = append(st.History, action+".", res.Scene)
	xp := 0
	if res.ActionResult != Failure && idx < len(st.Experience) {
		xp = st.Experience[idx]
	}
	st.Health = res.Health
	if res.Inventory != nil {
		inv := s.Theme.EmptyInventory(Choices(s.Background))
		inv.Merge(res.Inventory)
		s.Inventory = inv
	}
	s.Coins = res.Coins
	st.Scene = res.Scene
	st.Prompt = res.Prompt

	st.Options, st.Rates, st.Advantages, st.Levels, st.Experience = nil, nil, nil, nil, nil
	if len(res.Options) > 0 && res.Health > 0 {
		skills := s.SkillNames()
		for i, opt := range res.Options {
			opt = trimOptionNumber(opt)
			if opt == "" {
				continue
			}
			adv := res.Advantages[i]
			if !slices.Contains(skills, adv) {
				adv = skills[0]
			}
			st.Options = append(st.Options, opt)
			st.Rates = append(st.Rates, res.Rates[i])
			st.Advantages = append(st.Advantages, adv)
			st.Levels = append(st.Levels, res.Levels[i])
			st.Experience = append(st.Experience, res.Experience[i])
		}
	}
	ensureLists(st)

	if res.NewLocation != "" {
		s.Background["location"] = res.NewLocation
	}
	s.AddXP(xp)
	st.Status = string(res.ActionResult)
	s.Shop.Close()
	s.UpdateQuest(res.Quest)
	return nil
}

func ensureLists(st *Story) {
	if st.Options == nil {
		st.Options = []string{}
		st.Rates = []float64{}
		st.Advantages = []string{}
		st.Levels = []int{}
		st.Experience = []int{}
	}
}

// trimOptionNumber strips a leading "N. " enumeration.
func trimOptionNumber(opt string) string {
	if len(opt) > 2 && opt[0] >= '0' && opt[0] <= '9' && opt[1] == '.' && opt[2] == ' ' {
		return opt[3:]
	}
	return opt
}

// UpdateQuest applies a quest delta. A conclusion ends the quest and
// ignores the goal lists.
func (s *SaveData) UpdateQuest(u *quest.Update) {
	if u == nil || !s.Quest.IsActive() {
		return
	}
	if u.Concludes() {
		if u.QuestCompleted == quest.ConclusionCompleted {
			s.Quest.Complete()
			s.AddXP(s.Quest.XPReward)
			s.Coins += s.Quest.GoldReward
			if u.NewBackstory != "" {
				s.Background["backstory"] = u.NewBackstory
			}
		} else {
			s.Quest.Fail()
		}
		return
	}
	for _, title := range u.Completed {
		if g, ok := s.Quest.CompleteGoal(title); ok {
			s.AddXP(g.XPReward)
			s.Coins += g.GoldReward
		}
	}
	for _, title := range u.Failed {
		s.Quest.FailGoal(title)
	}
	for _, ng := range u.New {
		s.Quest.AddGoal(quest.Goal{
			Title:       ng.Title,
			Description: ng.Goal,
			XPReward:    ng.XPReward,
			GoldReward:  ng.GoldReward,
		})
	}
}

// SpendActionPoint raises a skill by one.
func (s *SaveData) SpendActionPoint(skill string) error {
	if s.ActionPoints <= 0 {
		return ErrNoActionPoints
	}
	if _, ok := s.Skills[skill]; !ok {
		return ErrUnknownSkill
	}
	s.ActionPoints--
	s.Skills[skill]++
	return nil
}

var (
	ErrNoActionPoints = errors.New("no action points left")
	ErrUnknownSkill   = errors.New("skill not found")
)

type persisted struct {
	Story         json.RawMessage      `json:"story"`
	Shop          *shop.Shop           `json:"shop"`
	Quest         *quest.Quest         `json:"quest"`
	QuestPending  bool                 `json:"quest_pending,omitempty"`
	Theme         string               `json:"theme"`
	Background    map[string]any       `json:"background"`
	Level         int                  `json:"level"`
	XP            int                  `json:"xp"`
	XPToNextLevel int                  `json:"xp_to_next_level"`
	ActionPoints  int                  `json:"action_points"`
	Skills        map[string]int       `json:"skills"`
	Inventory     *inventory.Inventory `json:"inventory"`
	Coins         int                  `json:"coins"`
	Death         bool                 `json:"death"`
	Memories      []string             `json:"memories"`
	Ver           int                  `json:"ver"`
}

// MarshalJSON writes the persisted form. A missing story is an empty object.
func (s *SaveData) MarshalJSON() ([]byte, error) {
	story := json.RawMessage(`{}`)
	if s.Story != nil {
		b, err := json.Marshal(s.Story)
		if err != nil {
			return nil, err
		}
		story = b
	}
	themeName := ""
	if s.Theme != nil {
		themeName = s.Theme.Name
	}
	memories := s.Memories
	if memories == nil {
		memories = []string{}
	}
	return json.Marshal(persisted{
		Story:         story,
		Shop:          s.Shop,
		Quest:         s.Quest,
		QuestPending:  s.QuestPending,
		Theme:         themeName,
		Background:    s.Background,
		Level:         s.Level,
		XP:            s.XP,
		XPToNextLevel: s.XPToNextLevel,
		ActionPoints:  s.ActionPoints,
		Skills:        s.Skills,
		Inventory:     s.Inventory,
		Coins:         s.Coins,
		Death:         s.Death,
		Memories:      memories,
		Ver:           s.Ver,
	})
}

func (s *SaveData) UnmarshalJSON(data []byte) error {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	th, err := theme.Get(p.Theme)
	if err != nil {
		return err
	}
	out := SaveData{
		Theme:         th,
		Background:    p.Background,
		Level:         p.Level,
		XP:            p.XP,
		XPToNextLevel: p.XPToNextLevel,
		ActionPoints:  p.ActionPoints,
		Skills:        p.Skills,
		Inventory:     p.Inventory,
		Coins:         p.Coins,
		Death:         p.Death,
		Memories:      p.Memories,
		Shop:          p.Shop,
		Quest:         p.Quest,
		QuestPending:  p.QuestPending,
		Ver:           p.Ver,
	}
	if out.Background == nil {
		out.Background = map[string]any{}
	}
	if out.Skills == nil {
		out.Skills = map[string]int{}
	}
	if out.Inventory == nil {
		out.Inventory = inventory.New()
	}
	if out.Shop == nil {
		out.Shop = shop.New()
	}
	if len(p.Story) > 0 && string(p.Story) != "null" {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(p.Story, &probe); err != nil {
			return fmt.Errorf("story: %w", err)
		}
		if len(probe) > 0 {
			out.Story = &Story{}
			if err := json.Unmarshal(p.Story, out.Story); err != nil {
				return fmt.Errorf("story: %w", err)
			}
			ensureLists(out.Story)
		}
	}
	*s = out
	return nil
}

// Clone returns a deep copy.
func (s *SaveData) Clone() (*SaveData, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var cp SaveData
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// View is the persisted form with the shop replaced by its public snapshot.
func (s *SaveData) View() (map[string]json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var view map[string]json.RawMessage
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, err
	}
	snap, err := json.Marshal(s.Shop.Snapshot())
	if err != nil {
		return nil, err
	}
	view["shop"] = snap
	return view, nil
}
