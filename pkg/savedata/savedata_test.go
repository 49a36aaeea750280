package savedata

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/gamemaster/pkg/inventory"
	"github.com/jwebster45206/gamemaster/pkg/quest"
	"github.com/jwebster45206/gamemaster/pkg/shop"
	"github.com/jwebster45206/gamemaster/pkg/theme"
)

type fixedRoller float64

func (f fixedRoller) Float64() float64 { return float64(f) }

func newTestSave(t *testing.T) *SaveData {
	t.Helper()
	th, err := theme.Get("fantasy")
	require.NoError(t, err)
	start := &inventory.Inventory{}
	start.AddItem("Short bow", "weapon")
	return New(th, map[string]any{
		"name":       "Aria",
		"gender":     "Female",
		"race":       "Elf",
		"profession": "Archer",
		"location":   "Greenwood",
	}, start)
}

func testResult() *ActionResult {
	inv := inventory.New("quiver")
	inv.AddItem("Short bow", "weapon")
	inv.AddItem("Lantern", "backpack")
	return &ActionResult{
		Scene:        "You light the lantern.",
		Options:      []string{"1. Go north", "Wait", ""},
		Rates:        []float64{0.5, 0.9, 0.1},
		Advantages:   []string{"AGL", "FLYING", "INT"},
		Levels:       []int{2, 0, 1},
		Experience:   []int{20, 5, 1},
		Health:       4,
		Inventory:    inv,
		Coins:        90,
		Prompt:       "a lit cave",
		NewLocation:  "Dark Cave",
		ActionResult: Success,
	}
}

func TestNew_Defaults(t *testing.T) {
	s := newTestSave(t)
	assert.Equal(t, 1, s.Level)
	assert.Equal(t, 0, s.XP)
	assert.Equal(t, 75, s.XPToNextLevel)
	assert.Equal(t, 100, s.Coins)
	assert.False(t, s.Death)
	assert.Nil(t, s.Story)
	assert.Nil(t, s.Quest)
	assert.Equal(t, shop.StatusClosed, s.Shop.Status)
	assert.Equal(t, []string{"INT", "STR", "AGL", "LUCK", "CHR", "PER"}, s.SkillNames())
	for _, v := range s.Skills {
		assert.Equal(t, 1, v)
	}
	assert.True(t, s.Inventory.HasCategory("quiver"))
	assert.True(t, s.Inventory.Contains("Short bow", "weapon"))
}

func TestAddXP_MultipleLevels(t *testing.T) {
	s := newTestSave(t)
	s.AddXP(74)
	assert.Equal(t, 1, s.Level)

	s.AddXP(1)
	assert.Equal(t, 2, s.Level)
	assert.Equal(t, 0, s.XP)
	assert.Equal(t, XPForLevel(2), s.XPToNextLevel)
	assert.Equal(t, 200, s.XPToNextLevel)
	assert.Equal(t, 1, s.ActionPoints)

	s.AddXP(200 + XPForLevel(3) + 3)
	assert.Equal(t, 4, s.Level)
	assert.Equal(t, 3, s.XP)
	assert.Equal(t, 3, s.ActionPoints)
}

func TestInitStory(t *testing.T) {
	s := newTestSave(t)
	s.Shop.Stock(&shop.Stock{Problem: "fog"})
	s.InitStory("")

	require.NotNil(t, s.Story)
	assert.Equal(t, StartingOptions, s.Story.Options)
	assert.Equal(t, []float64{1, 1, 1}, s.Story.Rates)
	assert.Equal(t, []string{"INT", "STR", "AGL"}, s.Story.Advantages)
	assert.Equal(t, MaxHealth, s.Story.Health)
	assert.Empty(t, s.Story.History)
	assert.Equal(t, shop.StatusClosed, s.Shop.Status)
}

func TestUpdateStory(t *testing.T) {
	s := newTestSave(t)
	s.InitStory("")
	s.Story.Experience = []int{0, 30, 0}

	require.NoError(t, s.UpdateStory(testResult(), "Look around"))

	st := s.Story
	assert.Equal(t, []string{"Look around.", "You light the lantern."}, st.History)
	assert.Equal(t, []string{"Go north", "Wait"}, st.Options)
	assert.Equal(t, []float64{0.5, 0.9}, st.Rates)
	assert.Equal(t, []string{"AGL", "INT"}, st.Advantages, "unknown skills fall back to the first skill")
	assert.Equal(t, []int{2, 0}, st.Levels)
	assert.Equal(t, []int{20, 5}, st.Experience)
	assert.Equal(t, 4, st.Health)
	assert.Equal(t, "Success", st.Status)
	assert.Equal(t, 30, s.XP)
	assert.Equal(t, 90, s.Coins)
	assert.Equal(t, "Dark Cave", s.Background["location"])
	assert.True(t, s.Inventory.Contains("Lantern", "backpack"))
}

func TestUpdateStory_FailureGrantsNoXP(t *testing.T) {
	s := newTestSave(t)
	s.InitStory("")
	s.Story.Experience = []int{10, 10, 10}
	res := testResult()
	res.ActionResult = Failure
	require.NoError(t, s.UpdateStory(res, "Wake up"))
	assert.Equal(t, 0, s.XP)
	assert.Equal(t, "Failure", s.Story.Status)
}

func TestUpdateStory_DeathClearsOptions(t *testing.T) {
	s := newTestSave(t)
	s.InitStory("")
	res := testResult()
	res.Health = 0
	require.NoError(t, s.UpdateStory(res, "Wake up"))
	assert.Empty(t, s.Story.Options)
	assert.Empty(t, s.Story.Rates)
	assert.Empty(t, s.Story.Advantages)
	assert.Empty(t, s.Story.Levels)
	assert.Empty(t, s.Story.Experience)
}

func TestUpdateStory_UnknownAction(t *testing.T) {
	s := newTestSave(t)
	s.InitStory("")
	err := s.UpdateStory(testResult(), "Fly away")
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestUpdateStory_RejectsMismatchedLists(t *testing.T) {
	s := newTestSave(t)
	s.InitStory("")
	res := testResult()
	res.Rates = res.Rates[:1]
	assert.Error(t, s.UpdateStory(res, "Wake up"))
	assert.Empty(t, s.Story.History)
}

func questFixture() *quest.Quest {
	return (&quest.Proposal{
		Title:      "Bandit King",
		XPReward:   80,
		GoldReward: 40,
		Goals: []quest.NewGoal{
			{Title: "Find the camp", Goal: "Track the bandits", XPReward: 10, GoldReward: 5},
		},
	}).Quest()
}

func TestUpdateQuest_Goals(t *testing.T) {
	s := newTestSave(t)
	s.Quest = questFixture()

	s.UpdateQuest(&quest.Update{
		Completed: []string{"Find the camp", "Unknown"},
		New:       []quest.NewGoal{{Title: "Defeat the king", Goal: "Duel", XPReward: 30}},
	})
	assert.Equal(t, 10, s.XP)
	assert.Equal(t, 105, s.Coins)
	assert.Equal(t, quest.StatusCompleted, s.Quest.Goals["Find the camp"].Status)
	require.Contains(t, s.Quest.Goals, "Defeat the king")
	assert.Equal(t, 0, s.Quest.Goals["Defeat the king"].GoldReward)

	s.UpdateQuest(&quest.Update{Completed: []string{"Find the camp"}})
	assert.Equal(t, 10, s.XP, "a goal is rewarded once")
	assert.Equal(t, 105, s.Coins)

	s.UpdateQuest(&quest.Update{Failed: []string{"Defeat the king", "Ghost"}})
	assert.Equal(t, quest.StatusFailed, s.Quest.Goals["Defeat the king"].Status)
}

func TestUpdateQuest_Conclusion(t *testing.T) {
	s := newTestSave(t)
	s.Quest = questFixture()
	s.UpdateQuest(&quest.Update{
		QuestCompleted: quest.ConclusionCompleted,
		NewBackstory:   "Slayer of the bandit king.",
		Completed:      []string{"Find the camp"},
	})
	assert.Equal(t, quest.StatusCompleted, s.Quest.Status)
	assert.Equal(t, 2, s.Level)
	assert.Equal(t, 5, s.XP)
	assert.Equal(t, 140, s.Coins)
	assert.Equal(t, "Slayer of the bandit king.", s.Background["backstory"])
	assert.Equal(t, quest.StatusActive, s.Quest.Goals["Find the camp"].Status, "goal lists are ignored on conclusion")

	s.UpdateQuest(&quest.Update{QuestCompleted: quest.ConclusionCompleted})
	assert.Equal(t, 140, s.Coins, "a concluded quest is not rewarded again")

	f := newTestSave(t)
	f.Quest = questFixture()
	f.UpdateQuest(&quest.Update{QuestCompleted: quest.ConclusionFailed})
	assert.Equal(t, quest.StatusFailed, f.Quest.Status)
	assert.Equal(t, 100, f.Coins)
}

func TestSpendActionPoint(t *testing.T) {
	s := newTestSave(t)
	assert.True(t, errors.Is(s.SpendActionPoint("INT"), ErrNoActionPoints))
	s.ActionPoints = 1
	assert.True(t, errors.Is(s.SpendActionPoint("MAGIC"), ErrUnknownSkill))
	require.NoError(t, s.SpendActionPoint("INT"))
	assert.Equal(t, 2, s.Skills["INT"])
	assert.Equal(t, 0, s.ActionPoints)
}

func TestSuccessRate(t *testing.T) {
	s := newTestSave(t)
	s.InitStory("")
	s.Story.Rates = []float64{0.2, 0.2, 0.2}
	s.Story.Levels = []int{1, 3, 1}
	s.Story.Advantages = []string{"INT", "STR", "NOPE"}

	rate, err := s.SuccessRate(0)
	require.NoError(t, err)
	assert.Equal(t, 0.2, rate, "no boost before the first turn")

	s.Story.History = []string{"Wake up.", "You wake."}
	rate, err = s.SuccessRate(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, rate, 1e-9)

	rate, err = s.SuccessRate(1)
	require.NoError(t, err)
	assert.Equal(t, 0.2, rate, "skill below the required level")

	rate, err = s.SuccessRate(2)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, rate, 1e-9, "unknown advantage uses the first skill")

	_, err = s.SuccessRate(7)
	assert.Error(t, err)
}

func TestRoll(t *testing.T) {
	out, err := Roll(0.5, fixedRoller(0.4))
	require.NoError(t, err)
	assert.Equal(t, Success, out)

	out, err = Roll(0.5, fixedRoller(0.5))
	require.NoError(t, err)
	assert.Equal(t, Failure, out)

	out, err = Roll(0, fixedRoller(0))
	require.NoError(t, err)
	assert.Equal(t, Failure, out)

	out, err = Roll(1, fixedRoller(0.9999999))
	require.NoError(t, err)
	assert.Equal(t, Success, out, "certain success holds for the highest draw")

	_, err = Roll(1.5, nil)
	assert.EqualError(t, err, "Probability must be between 0 and 1.")
	_, err = Roll(-0.1, nil)
	assert.Error(t, err)
}

func TestJSON_RoundTrip(t *testing.T) {
	s := newTestSave(t)
	s.Quest = questFixture()
	s.InitStory("Find my brother")
	s.Memories = []string{"Met a dragon"}
	s.Ver = 3

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var back SaveData
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "fantasy", back.Theme.Name)
	assert.Equal(t, s.Story, back.Story)
	assert.Equal(t, s.Quest, back.Quest)
	assert.True(t, s.Inventory.Equal(back.Inventory))
	assert.Equal(t, s.Inventory.Categories(), back.Inventory.Categories())
	assert.Equal(t, 3, back.Ver)
	assert.Equal(t, []string{"Met a dragon"}, back.Memories)
}

func TestJSON_EmptyStory(t *testing.T) {
	s := newTestSave(t)
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `{}`, string(raw["story"]))

	var back SaveData
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Nil(t, back.Story)
}

func TestView_HidesClosedShop(t *testing.T) {
	s := newTestSave(t)
	s.Shop.Generating()
	view, err := s.View()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(view["shop"]))
}

func TestActionResultValidate(t *testing.T) {
	assert.NoError(t, testResult().Validate())

	noScene := testResult()
	noScene.Scene = ""
	assert.Error(t, noScene.Validate())

	badRate := testResult()
	badRate.Rates[0] = 1.2
	assert.Error(t, badRate.Validate())

	noOutcome := testResult()
	noOutcome.ActionResult = ""
	assert.Error(t, noOutcome.Validate())

	dead := testResult()
	dead.Health = 0
	dead.Rates = nil
	assert.NoError(t, dead.Validate())

	assert.NoError(t, withOptions(MaxOptions).Validate())
	assert.Error(t, withOptions(MaxOptions+2).Validate())
}

// withOptions returns a living result offering n options.
func withOptions(n int) *ActionResult {
	res := testResult()
	res.Options, res.Rates, res.Advantages, res.Levels, res.Experience = nil, nil, nil, nil, nil
	for i := 0; i < n; i++ {
		res.Options = append(res.Options, fmt.Sprintf("Option %d", i+1))
		res.Rates = append(res.Rates, 0.5)
		res.Advantages = append(res.Advantages, "STR")
		res.Levels = append(res.Levels, 1)
		res.Experience = append(res.Experience, 10)
	}
	return res
}

func TestUpdateStory_TooManyOptions(t *testing.T) {
	s := newTestSave(t)
	s.InitStory("")
	before := slices.Clone(s.Story.Options)

	require.Error(t, s.UpdateStory(withOptions(7), "Look around"))
	assert.Equal(t, before, s.Story.Options, "a rejected result leaves the story untouched")
	assert.Empty(t, s.Story.History)
}
