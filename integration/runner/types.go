package runner

import (
	"time"
)

// Step actions.
const (
	ActionLoad     = "load"
	ActionQuest    = "quest"
	ActionNewQuest = "new_quest"
	ActionStart    = "start"
	ActionAdvance  = "advance"
	ActionOption   = "option"
	ActionEnd      = "end"
	ActionShop     = "shop"
	ActionBuy      = "buy"
	ActionSell     = "sell"
	ActionSkill    = "skill"
)

// TestSuite defines a complete integration test: a fresh character and the
// steps played with it. A suite that lists Cases sequences other files.
type TestSuite struct {
	Name       string         `yaml:"name"`
	Theme      string         `yaml:"theme,omitempty"`
	Background map[string]any `yaml:"background,omitempty"`
	Steps      []TestStep     `yaml:"steps,omitempty"`
	Cases      []string       `yaml:"cases,omitempty"`
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep is one request and what should hold afterwards. For advance,
// Arg is the 1-based option number; "first" or an empty Arg picks option 1.
type TestStep struct {
	Name         string       `yaml:"name,omitempty"`
	Action       string       `yaml:"action"`
	Arg          string       `yaml:"arg,omitempty"`
	Expectations Expectations `yaml:"expect"`
}

// Expectations defines what to check after a step executes
type Expectations struct {
	// Request outcome
	Error          *bool  `yaml:"error,omitempty"`
	ReasonContains string `yaml:"reason_contains,omitempty"`
	ResultRegex    string `yaml:"result_regex,omitempty"`

	// Save properties
	StoryRunning *bool  `yaml:"story_running,omitempty"`
	MinHealth    *int   `yaml:"min_health,omitempty"`
	MinOptions   *int   `yaml:"min_options,omitempty"`
	MaxOptions   *int   `yaml:"max_options,omitempty"`
	MinHistory   *int   `yaml:"min_history,omitempty"`
	QuestActive  *bool  `yaml:"quest_active,omitempty"`
	Death        *bool  `yaml:"death,omitempty"`
	ShopOpen     *bool  `yaml:"shop_open,omitempty"`
	Coins        *int   `yaml:"coins,omitempty"`
	CoinsChanged *bool  `yaml:"coins_changed,omitempty"`
	HasItem      string `yaml:"has_item,omitempty"`
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	StepName   string
	Success    bool
	Error      error
	Duration   time.Duration
	ResultText string
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job      TestJob
	Results  []TestResult
	User     string
	SaveName string
	Duration time.Duration
	Error    error
}
