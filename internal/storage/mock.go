package storage

import (
	"context"
	"slices"
	"sync"
)

// MockBackend is an in-memory Backend for tests.
type MockBackend struct {
	mu         sync.RWMutex
	saves      map[string]map[string][]byte
	timestamps map[string]int64
	images     map[string][]byte
	cache      map[string]map[string][]byte
	pingError  error
	readError  error
	commits    int
}

var _ Backend = (*MockBackend)(nil)

func NewMockBackend() *MockBackend {
	return &MockBackend{
		saves:      make(map[string]map[string][]byte),
		timestamps: make(map[string]int64),
		images:     make(map[string][]byte),
		cache:      make(map[string]map[string][]byte),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockBackend) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetReadError makes Read fail with err.
func (m *MockBackend) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readError = err
}

// Commits counts successful save commits.
func (m *MockBackend) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

func (m *MockBackend) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MockBackend) Close() error { return nil }

func (m *MockBackend) Read(_ context.Context, user, saveID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.readError != nil {
		return nil, m.readError
	}
	blob, ok := m.saves[user][saveID]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(blob), nil
}

func (m *MockBackend) ReadAll(_ context.Context, user string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.saves[user]))
	for k, v := range m.saves[user] {
		out[k] = slices.Clone(v)
	}
	return out, nil
}

func (m *MockBackend) Commit(_ context.Context, user, saveID string, blob []byte, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saves[user] == nil {
		m.saves[user] = make(map[string][]byte)
	}
	m.saves[user][saveID] = slices.Clone(blob)
	m.timestamps[user] = timestamp
	m.commits++
	return nil
}

func (m *MockBackend) CommitAll(_ context.Context, user string, saves map[string][]byte, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves[user] = make(map[string][]byte, len(saves))
	for k, v := range saves {
		m.saves[user][k] = slices.Clone(v)
	}
	m.timestamps[user] = timestamp
	return nil
}

func (m *MockBackend) Delete(_ context.Context, user, saveID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.saves[user][saveID]; !ok {
		return ErrNotFound
	}
	delete(m.saves[user], saveID)
	for _, cat := range ImageCategories {
		delete(m.images, imageKey(user, saveID, cat))
	}
	return nil
}

func (m *MockBackend) GetAllSaves(_ context.Context, user string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.saves[user]))
	for k := range m.saves[user] {
		out = append(out, k)
	}
	slices.Sort(out)
	return out, nil
}

func (m *MockBackend) Timestamp(_ context.Context, user string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timestamps[user], nil
}

func imageKey(user, saveID, category string) string {
	return user + "\x00" + saveID + "\x00" + category
}

func (m *MockBackend) SaveImage(_ context.Context, user, saveID, category string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[imageKey(user, saveID, category)] = slices.Clone(data)
	return nil
}

func (m *MockBackend) LoadImage(_ context.Context, user, saveID, category string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.images[imageKey(user, saveID, category)]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func cacheNamespace(user, saveID string) string {
	return user + "\x00" + saveID
}

func (m *MockBackend) Cache(_ context.Context, user, saveID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := cacheNamespace(user, saveID)
	if m.cache[ns] == nil {
		m.cache[ns] = make(map[string][]byte)
	}
	m.cache[ns][key] = slices.Clone(value)
	return nil
}

func (m *MockBackend) GetCache(_ context.Context, user, saveID, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.cache[cacheNamespace(user, saveID)][key]
	if !ok {
		return nil, nil
	}
	return slices.Clone(v), nil
}

func (m *MockBackend) DeleteCache(_ context.Context, user, saveID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache[cacheNamespace(user, saveID)], key)
	return nil
}

func (m *MockBackend) DeleteAllCache(_ context.Context, user, saveID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, cacheNamespace(user, saveID))
	return nil
}
