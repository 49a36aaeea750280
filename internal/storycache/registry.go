package storycache

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSuperseded is returned when a newer refresh has replaced a batch.
var ErrSuperseded = errors.New("refresh batch superseded")

// Registry tracks the refresh batch in flight for every save. Starting a
// batch cancels the previous one, and a batch may only write while it is the
// current one.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu     sync.Mutex
	batch  string
	cancel context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func entryKey(user, saveID string) string {
	return user + "\x00" + saveID
}

func (r *Registry) entry(user, saveID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entryKey(user, saveID)
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	return e
}

// Batch is one refresh of a save's cache.
type Batch struct {
	ID     string
	User   string
	SaveID string

	ctx   context.Context
	entry *entry
}

// Context is cancelled when the batch is superseded or finished.
func (b *Batch) Context() context.Context {
	return b.ctx
}

// Begin supersedes the running batch of the save and runs reset while no
// batch can write. On a reset error no batch is current.
func (r *Registry) Begin(ctx context.Context, user, saveID string, reset func(ctx context.Context) error) (*Batch, error) {
	e := r.entry(user, saveID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	e.batch, e.cancel = "", nil

	if err := reset(ctx); err != nil {
		return nil, err
	}

	bctx, cancel := context.WithCancel(ctx)
	b := &Batch{ID: uuid.NewString(), User: user, SaveID: saveID, ctx: bctx, entry: e}
	e.batch, e.cancel = b.ID, cancel
	return b, nil
}

// Commit runs write if b is still the current batch.
func (b *Batch) Commit(write func() error) error {
	b.entry.mu.Lock()
	defer b.entry.mu.Unlock()
	if b.entry.batch != b.ID {
		return ErrSuperseded
	}
	return write()
}

// Current reports whether b has not been superseded.
func (b *Batch) Current() bool {
	b.entry.mu.Lock()
	defer b.entry.mu.Unlock()
	return b.entry.batch == b.ID
}

// Finish releases the batch. It stays current until the next Begin so
// late readers can still tell it apart from a superseded one.
func (b *Batch) Finish() {
	b.entry.mu.Lock()
	defer b.entry.mu.Unlock()
	if b.entry.batch == b.ID && b.entry.cancel != nil {
		b.entry.cancel()
		b.entry.cancel = nil
	}
}

// Cancel stops the save's running batch, if any.
func (r *Registry) Cancel(user, saveID string) {
	e := r.entry(user, saveID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.batch, e.cancel = "", nil
}
