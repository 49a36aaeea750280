package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/jwebster45206/gamemaster/pkg/quest"
	"github.com/jwebster45206/gamemaster/pkg/savedata"
	"github.com/jwebster45206/gamemaster/pkg/shop"
	"github.com/jwebster45206/gamemaster/pkg/theme"
)

// envelope mirrors the API reply.
type envelope struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Reason string          `json:"reason"`
}

// saveView is the part of a save the console shows.
type saveView struct {
	Story        savedata.Story  `json:"story"`
	Quest        *quest.Quest    `json:"quest"`
	Shop         shop.Snapshot   `json:"shop"`
	Theme        string          `json:"theme"`
	Background   map[string]any  `json:"background"`
	Level        int             `json:"level"`
	XP           int             `json:"xp"`
	ActionPoints int             `json:"action_points"`
	Skills       map[string]int  `json:"skills"`
	Coins        int             `json:"coins"`
	Death        bool            `json:"death"`
	Memories     []string        `json:"memories"`
}

func (v *saveView) running() bool {
	return v != nil && len(v.Story.History) > 0
}

// themeInfo is the part of a theme summary the console needs.
type themeInfo struct {
	Fields theme.Fields `json:"fields"`
	Skills []string     `json:"skills"`
}

type saveSummary struct {
	Name string `json:"name"`
}

type apiClient struct {
	baseURL string
	user    string
	http    *http.Client
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Username", c.user)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if env.Status != "success" {
		return fmt.Errorf("%s", env.Reason)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func savePath(name string, parts ...string) string {
	p := "/v1/saves/" + url.PathEscape(name)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *apiClient) healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

func (c *apiClient) themes(ctx context.Context) ([]string, map[string]themeInfo, error) {
	var out map[string]themeInfo
	if err := c.do(ctx, http.MethodGet, "/v1/themes", nil, &out); err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(out))
	for name := range out {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, out, nil
}

func (c *apiClient) saves(ctx context.Context) ([]string, error) {
	var out []saveSummary
	if err := c.do(ctx, http.MethodGet, "/v1/saves", nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out))
	for _, s := range out {
		names = append(names, s.Name)
	}
	return names, nil
}

func (c *apiClient) newSave(ctx context.Context, themeName string, background map[string]any) (string, error) {
	var name string
	err := c.do(ctx, http.MethodPost, "/v1/saves", map[string]any{
		"theme":      themeName,
		"background": background,
	}, &name)
	return name, err
}

func decodeView(raw json.RawMessage) (*saveView, error) {
	var v saveView
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to parse save: %w", err)
	}
	return &v, nil
}

func (c *apiClient) load(ctx context.Context, name string) (*saveView, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, savePath(name, "load"), map[string]any{}, &raw); err != nil {
		return nil, err
	}
	return decodeView(raw)
}

func (c *apiClient) fetch(ctx context.Context, name string) (*saveView, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, savePath(name), nil, &raw); err != nil {
		return nil, err
	}
	return decodeView(raw)
}

func (c *apiClient) quest(ctx context.Context, name string, regen bool) (*quest.Quest, error) {
	var q quest.Quest
	path := savePath(name, "quest")
	if regen {
		path += "?regen=true"
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *apiClient) newStory(ctx context.Context, name, goal string) error {
	return c.do(ctx, http.MethodPost, savePath(name, "story"), map[string]any{"goal": goal}, nil)
}

func (c *apiClient) advance(ctx context.Context, name, action string) (string, error) {
	var outcome string
	err := c.do(ctx, http.MethodPost, savePath(name, "story", "advance"), map[string]any{"action": action}, &outcome)
	return outcome, err
}

func (c *apiClient) createOption(ctx context.Context, name, action string) (string, error) {
	var msg string
	err := c.do(ctx, http.MethodPost, savePath(name, "story", "options"), map[string]any{"action": action}, &msg)
	return msg, err
}

func (c *apiClient) endGame(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, savePath(name, "story", "end"), map[string]any{}, nil)
}

func (c *apiClient) spendPoint(ctx context.Context, name, skill string) error {
	return c.do(ctx, http.MethodPost, savePath(name, "skills"), map[string]any{"skill": skill}, nil)
}

func (c *apiClient) shop(ctx context.Context, name string) (*shop.Snapshot, error) {
	var snap shop.Snapshot
	if err := c.do(ctx, http.MethodGet, savePath(name, "shop"), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *apiClient) trade(ctx context.Context, name, verb, item string) error {
	return c.do(ctx, http.MethodPost, savePath(name, "shop", verb), map[string]any{"item": item}, nil)
}

// SSEEvent is one event from the save's stream.
type SSEEvent struct {
	Type string
	Data map[string]any
}

// listenToSSE streams the save's events to eventChan until ctx ends.
func (c *apiClient) listenToSSE(ctx context.Context, name string, eventChan chan<- SSEEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+savePath(name, "events"), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Username", c.user)

	// The shared client has a timeout; a stream must not.
	resp, err := (&http.Client{Transport: c.http.Transport}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("SSE connection failed with status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	var current SSEEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.Type != "" {
				select {
				case eventChan <- current:
				case <-ctx.Done():
					return ctx.Err()
				}
				current = SSEEvent{}
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var data map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data); err == nil {
				current.Data = data
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}
