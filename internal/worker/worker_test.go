package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	queuePkg "github.com/jwebster45206/gamemaster/pkg/queue"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeQueue struct {
	ch       chan *queuePkg.Request
	mu       sync.Mutex
	enqueued []*queuePkg.Request
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{ch: make(chan *queuePkg.Request, 16)}
}

func (q *fakeQueue) Enqueue(_ context.Context, req *queuePkg.Request) error {
	q.mu.Lock()
	q.enqueued = append(q.enqueued, req)
	q.mu.Unlock()
	q.ch <- req
	return nil
}

func (q *fakeQueue) BlockingDequeue(ctx context.Context, timeout time.Duration) (*queuePkg.Request, error) {
	select {
	case req := <-q.ch:
		return req, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) Enqueued() []*queuePkg.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*queuePkg.Request(nil), q.enqueued...)
}

type fakeRefresher struct {
	mu    sync.Mutex
	runs  []string
	err   error
	ran   chan struct{}
	block chan struct{}
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{ran: make(chan struct{}, 16)}
}

func (r *fakeRefresher) Run(ctx context.Context, user, saveID string) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.runs = append(r.runs, user+"/"+saveID)
	err := r.err
	r.mu.Unlock()
	r.ran <- struct{}{}
	return err
}

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestWorker_SaveLockIsReentrantAndExclusive(t *testing.T) {
	rdb, mr := setupRedis(t)
	a := New(newFakeQueue(), newFakeRefresher(), rdb, testLogger, "worker-a")
	b := New(newFakeQueue(), newFakeRefresher(), rdb, testLogger, "worker-b")
	defer a.Stop()
	defer b.Stop()

	ok, err := a.acquireSaveLock("alice", "Aria")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.acquireSaveLock("alice", "Aria")
	require.NoError(t, err)
	assert.True(t, ok, "the holder may join its own lock")

	ok, err = b.acquireSaveLock("alice", "Aria")
	require.NoError(t, err)
	assert.False(t, ok)

	owner, err := mr.Get(lockKey("alice", "Aria"))
	require.NoError(t, err)
	assert.Equal(t, "worker-a", owner)
	assert.Greater(t, mr.TTL(lockKey("alice", "Aria")), time.Duration(0))

	a.releaseSaveLock("alice", "Aria")
	assert.True(t, mr.Exists(lockKey("alice", "Aria")), "one holder left")

	a.releaseSaveLock("alice", "Aria")
	assert.False(t, mr.Exists(lockKey("alice", "Aria")))

	ok, err = b.acquireSaveLock("alice", "Aria")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWorker_ReleaseKeepsForeignLock(t *testing.T) {
	rdb, mr := setupRedis(t)
	w := New(newFakeQueue(), newFakeRefresher(), rdb, testLogger, "worker-a")
	defer w.Stop()

	ok, err := w.acquireSaveLock("alice", "Aria")
	require.NoError(t, err)
	require.True(t, ok)

	// The lock expired and another worker took it.
	require.NoError(t, mr.Set(lockKey("alice", "Aria"), "worker-b"))
	w.releaseSaveLock("alice", "Aria")

	owner, err := mr.Get(lockKey("alice", "Aria"))
	require.NoError(t, err)
	assert.Equal(t, "worker-b", owner)
}

func TestWorker_ProcessesRequests(t *testing.T) {
	rdb, mr := setupRedis(t)
	q := newFakeQueue()
	ref := newFakeRefresher()
	w := New(q, ref, rdb, testLogger, "")
	assert.NotEmpty(t, w.ID())

	done := make(chan error, 1)
	go func() { done <- w.Start() }()

	require.NoError(t, q.Enqueue(context.Background(), queuePkg.NewRefreshRequest("alice", "Aria")))
	select {
	case <-ref.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not run")
	}

	w.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.Equal(t, []string{"alice/Aria"}, ref.runs)
	assert.False(t, mr.Exists(lockKey("alice", "Aria")), "lock released after the refresh")
}

func TestWorker_RequeuesWhenLockedElsewhere(t *testing.T) {
	rdb, mr := setupRedis(t)
	require.NoError(t, mr.Set(lockKey("alice", "Aria"), "worker-b"))

	q := newFakeQueue()
	ref := newFakeRefresher()
	w := New(q, ref, rdb, testLogger, "worker-a")
	defer w.Stop()

	req := queuePkg.NewRefreshRequest("alice", "Aria")
	require.NoError(t, w.handle(req))

	enq := q.Enqueued()
	require.Len(t, enq, 1)
	assert.Equal(t, req.RequestID, enq[0].RequestID)
	assert.Equal(t, 1, enq[0].Attempts)
	assert.Empty(t, ref.runs)
}

func TestWorker_DropsAfterTooManyRequeues(t *testing.T) {
	rdb, mr := setupRedis(t)
	require.NoError(t, mr.Set(lockKey("alice", "Aria"), "worker-b"))

	q := newFakeQueue()
	w := New(q, newFakeRefresher(), rdb, testLogger, "worker-a")
	defer w.Stop()

	req := queuePkg.NewRefreshRequest("alice", "Aria")
	req.Attempts = maxRequeues
	require.NoError(t, w.handle(req))
	assert.Empty(t, q.Enqueued())
}

func TestWorker_RefreshErrorReleasesLock(t *testing.T) {
	rdb, mr := setupRedis(t)
	ref := newFakeRefresher()
	ref.err = errors.New("generator down")
	w := New(newFakeQueue(), ref, rdb, testLogger, "worker-a")
	defer w.Stop()

	err := w.handle(queuePkg.NewRefreshRequest("alice", "Aria"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generator down")
	assert.False(t, mr.Exists(lockKey("alice", "Aria")))
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2, testLogger)
	var (
		mu      sync.Mutex
		running int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, 2)
	assert.Positive(t, peak)
}

func TestPool_DoHonoursContext(t *testing.T) {
	p := NewPool(1, testLogger)
	release := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := p.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
	close(release)
}

func TestPool_GoOutlivesCaller(t *testing.T) {
	p := NewPool(1, testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan error, 1)
	p.Go(ctx, "test", func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		ran <- ctx.Err()
		return nil
	})
	cancel()
	p.Wait()
	assert.NoError(t, <-ran)
}
