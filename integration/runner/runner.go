package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/gamemaster/pkg/quest"
	"github.com/jwebster45206/gamemaster/pkg/savedata"
	"github.com/jwebster45206/gamemaster/pkg/shop"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration tests against a running gamemaster API
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
	ThemeOverride     string // If set, overrides the theme for all test cases
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 5 * time.Minute},
		Timeout:           3 * time.Minute,
		ErrorHandlingMode: ErrorHandlingContinue,
		Logger:            func(string, ...interface{}) {},
	}
}

// LoadTestSuite loads a test suite from a YAML file. Unknown keys are errors.
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse YAML in %s: %w", filename, err)
	}
	if suite.Name == "" {
		suite.Name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	return expand(filename, casesDir, nil)
}

func expand(filename, casesDir string, seen []string) ([]TestJob, error) {
	if slices.Contains(seen, filename) {
		return nil, fmt.Errorf("sequence cycle at %s", filename)
	}
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}
	if !suite.IsSequence() {
		return []TestJob{{Name: suite.Name, Suite: suite, CaseFile: filename}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		subJobs, err := expand(filepath.Join(casesDir, caseFile), casesDir, append(seen, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}
		jobs = append(jobs, subJobs...)
	}
	return jobs, nil
}

// envelope mirrors the API reply.
type envelope struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Reason string          `json:"reason"`
}

// apiError is a reply with status "error".
type apiError struct {
	Code   int
	Reason string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Code, e.Reason)
}

// saveView is the part of a save the expectations look at.
type saveView struct {
	Story     savedata.Story      `json:"story"`
	Quest     *quest.Quest        `json:"quest"`
	Shop      shop.Snapshot       `json:"shop"`
	Inventory map[string][]string `json:"inventory"`
	Coins     int                 `json:"coins"`
	Death     bool                `json:"death"`
}

func (v *saveView) running() bool { return len(v.Story.History) > 0 }

func (v *saveView) owns(item string) bool {
	for _, items := range v.Inventory {
		if slices.Contains(items, item) {
			return true
		}
	}
	return false
}

// RunSuite creates a character for the suite under a fresh user and plays
// its steps.
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job:     TestJob{Name: suite.Name, Suite: suite},
		Results: make([]TestResult, 0, len(suite.Steps)),
		User:    "it-" + uuid.NewString(),
	}

	themeName := suite.Theme
	if r.ThemeOverride != "" {
		themeName = r.ThemeOverride
	}
	var name string
	err := r.call(ctx, result.User, http.MethodPost, "/v1/saves",
		map[string]any{"theme": themeName, "background": suite.Background}, &name)
	if err != nil {
		result.Error = fmt.Errorf("failed to create save: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}
	result.SaveName = name
	defer func() {
		cleanup, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.call(cleanup, result.User, http.MethodDelete, r.savePath(name, ""), nil, nil); err != nil {
			r.Logger("    failed to delete save %s: %v", name, err)
		}
	}()

	prev, err := r.fetch(ctx, result.User, name)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result, err
	}

	for i, step := range suite.Steps {
		label := step.Name
		if label == "" {
			label = strings.TrimSpace(step.Action + " " + step.Arg)
		}
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), label)
		stepResult := r.runStep(ctx, result.User, name, step, prev)
		stepResult.StepName = label
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), label, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, label, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}
		r.Logger("    [%d/%d] ✓ %s (%v)", i+1, len(suite.Steps), label, stepResult.Duration)

		if v, err := r.fetch(ctx, result.User, name); err == nil {
			prev = v
		}
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

// runStep executes one step and checks its expectations against the save
// as it stands afterwards.
func (r *Runner) runStep(ctx context.Context, user, name string, step TestStep, prev *saveView) TestResult {
	start := time.Now()
	res := TestResult{}

	stepCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	var out json.RawMessage
	callErr := r.do(stepCtx, user, name, step, prev, &out)
	res.Duration = time.Since(start)
	res.ResultText = string(out)

	var ae *apiError
	if callErr != nil && !errors.As(callErr, &ae) {
		res.Error = callErr
		return res
	}
	wantErr := step.Expectations.Error != nil && *step.Expectations.Error
	switch {
	case ae != nil && !wantErr:
		res.Error = ae
		return res
	case ae == nil && wantErr:
		res.Error = errors.New("expected an error reply")
		return res
	case ae != nil && step.Expectations.ReasonContains != "" &&
		!strings.Contains(strings.ToLower(ae.Reason), strings.ToLower(step.Expectations.ReasonContains)):
		res.Error = fmt.Errorf("reason %q does not contain %q", ae.Reason, step.Expectations.ReasonContains)
		return res
	}

	v, err := r.fetch(ctx, user, name)
	if err != nil {
		res.Error = err
		return res
	}
	if err := checkExpectations(step.Expectations, res.ResultText, prev, v); err != nil {
		res.Error = err
		return res
	}
	res.Success = true
	return res
}

func (r *Runner) do(ctx context.Context, user, name string, step TestStep, prev *saveView, out any) error {
	switch step.Action {
	case ActionLoad:
		return r.call(ctx, user, http.MethodPost, r.savePath(name, "/load"), nil, out)
	case ActionQuest:
		return r.call(ctx, user, http.MethodGet, r.savePath(name, "/quest"), nil, out)
	case ActionNewQuest:
		return r.call(ctx, user, http.MethodGet, r.savePath(name, "/quest?regen=true"), nil, out)
	case ActionStart:
		return r.call(ctx, user, http.MethodPost, r.savePath(name, "/story"), map[string]string{"goal": step.Arg}, out)
	case ActionAdvance:
		opt, err := pickOption(prev, step.Arg)
		if err != nil {
			return err
		}
		return r.call(ctx, user, http.MethodPost, r.savePath(name, "/story/advance"), map[string]string{"action": opt}, out)
	case ActionOption:
		return r.call(ctx, user, http.MethodPost, r.savePath(name, "/story/options"), map[string]string{"action": step.Arg}, out)
	case ActionEnd:
		return r.call(ctx, user, http.MethodPost, r.savePath(name, "/story/end"), nil, out)
	case ActionShop:
		return r.call(ctx, user, http.MethodGet, r.savePath(name, "/shop"), nil, out)
	case ActionBuy:
		return r.call(ctx, user, http.MethodPost, r.savePath(name, "/shop/buy"), map[string]string{"item": step.Arg}, out)
	case ActionSell:
		return r.call(ctx, user, http.MethodPost, r.savePath(name, "/shop/sell"), map[string]string{"item": step.Arg}, out)
	case ActionSkill:
		return r.call(ctx, user, http.MethodPost, r.savePath(name, "/skills"), map[string]string{"skill": step.Arg}, out)
	}
	return fmt.Errorf("unknown action %q", step.Action)
}

// pickOption resolves a 1-based option number against the current options.
func pickOption(v *saveView, arg string) (string, error) {
	if len(v.Story.Options) == 0 {
		return "", errors.New("no options to pick from")
	}
	n := 1
	if arg != "" && arg != "first" {
		var err error
		if arg == "last" {
			n = len(v.Story.Options)
		} else if n, err = strconv.Atoi(arg); err != nil {
			return "", fmt.Errorf("bad option number %q", arg)
		}
	}
	if n < 1 || n > len(v.Story.Options) {
		return "", fmt.Errorf("option %d out of range (have %d)", n, len(v.Story.Options))
	}
	return v.Story.Options[n-1], nil
}

func checkExpectations(exp Expectations, resultText string, prev, v *saveView) error {
	if exp.ResultRegex != "" {
		re, err := regexp.Compile(exp.ResultRegex)
		if err != nil {
			return fmt.Errorf("invalid result_regex: %w", err)
		}
		if !re.MatchString(resultText) {
			return fmt.Errorf("result %q does not match %q", resultText, exp.ResultRegex)
		}
	}
	if exp.StoryRunning != nil && v.running() != *exp.StoryRunning {
		return fmt.Errorf("expected story running=%v", *exp.StoryRunning)
	}
	if exp.MinHealth != nil && v.Story.Health < *exp.MinHealth {
		return fmt.Errorf("health %d below %d", v.Story.Health, *exp.MinHealth)
	}
	if exp.MinOptions != nil && len(v.Story.Options) < *exp.MinOptions {
		return fmt.Errorf("expected at least %d options, got %d", *exp.MinOptions, len(v.Story.Options))
	}
	if exp.MaxOptions != nil && len(v.Story.Options) > *exp.MaxOptions {
		return fmt.Errorf("expected at most %d options, got %d", *exp.MaxOptions, len(v.Story.Options))
	}
	if exp.MinHistory != nil && len(v.Story.History) < *exp.MinHistory {
		return fmt.Errorf("expected at least %d history entries, got %d", *exp.MinHistory, len(v.Story.History))
	}
	if exp.QuestActive != nil && (v.Quest != nil && v.Quest.IsActive()) != *exp.QuestActive {
		return fmt.Errorf("expected quest active=%v", *exp.QuestActive)
	}
	if exp.Death != nil && v.Death != *exp.Death {
		return fmt.Errorf("expected death=%v", *exp.Death)
	}
	if exp.ShopOpen != nil && (len(v.Shop.SoldItems) > 0 || len(v.Shop.BuyItems) > 0) != *exp.ShopOpen {
		return fmt.Errorf("expected shop open=%v", *exp.ShopOpen)
	}
	if exp.Coins != nil && v.Coins != *exp.Coins {
		return fmt.Errorf("expected %d coins, got %d", *exp.Coins, v.Coins)
	}
	if exp.CoinsChanged != nil && (v.Coins != prev.Coins) != *exp.CoinsChanged {
		return fmt.Errorf("expected coins changed=%v (%d -> %d)", *exp.CoinsChanged, prev.Coins, v.Coins)
	}
	if exp.HasItem != "" && !v.owns(exp.HasItem) {
		return fmt.Errorf("item %q not in inventory", exp.HasItem)
	}
	return nil
}

func (r *Runner) savePath(name, suffix string) string {
	return "/v1/saves/" + url.PathEscape(name) + suffix
}

func (r *Runner) fetch(ctx context.Context, user, name string) (*saveView, error) {
	var v saveView
	if err := r.call(ctx, user, http.MethodGet, r.savePath(name, ""), nil, &v); err != nil {
		return nil, fmt.Errorf("failed to fetch save: %w", err)
	}
	return &v, nil
}

// call sends a request and decodes the envelope's result into out.
func (r *Runner) call(ctx context.Context, user, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Username", user)

	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response (%d): %w", resp.StatusCode, err)
	}
	if env.Status != "success" {
		return &apiError{Code: resp.StatusCode, Reason: env.Reason}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = env.Result
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// Health checks the API health endpoint.
func (r *Runner) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("API not reachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API unhealthy: %d", resp.StatusCode)
	}
	return nil
}
