package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
)

// MockLLM is a TextGenerator for tests. Replies are taken from GenerateFunc
// when set, otherwise from the queued Responses in order.
type MockLLM struct {
	GenerateFunc func(ctx context.Context, system, user string) ([]byte, error)
	Responses    [][]byte

	calls []GenerateCall
	err   error
	mu    sync.Mutex
}

type GenerateCall struct {
	System string
	User   string
}

func NewMockLLM(responses ...string) *MockLLM {
	m := &MockLLM{}
	for _, r := range responses {
		m.Responses = append(m.Responses, []byte(r))
	}
	return m
}

func (m *MockLLM) GenerateJSON(ctx context.Context, system, user string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, GenerateCall{System: system, User: user})
	fn := m.GenerateFunc
	err := m.err
	var next []byte
	if fn == nil && err == nil && len(m.Responses) > 0 {
		next = m.Responses[0]
		m.Responses = m.Responses[1:]
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, system, user)
	}
	if next == nil {
		return nil, errors.New("mock llm: no response queued")
	}
	return next, nil
}

// SetError makes every call fail with err.
func (m *MockLLM) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Push queues more replies.
func (m *MockLLM) Push(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range responses {
		m.Responses = append(m.Responses, []byte(r))
	}
}

// Calls returns a copy of the recorded calls.
func (m *MockLLM) Calls() []GenerateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GenerateCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockImageGenerator returns a small valid PNG unless an error is set.
type MockImageGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string) ([]byte, error)

	prompts []string
	err     error
	mu      sync.Mutex
}

func NewMockImageGenerator() *MockImageGenerator {
	return &MockImageGenerator{}
}

func (m *MockImageGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	fn, err := m.GenerateFunc, m.err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, prompt)
	}
	return TestPNG(), nil
}

func (m *MockImageGenerator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockImageGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// TestPNG encodes a 2x2 image.
func TestPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
