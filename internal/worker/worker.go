package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	queuePkg "github.com/jwebster45206/gamemaster/pkg/queue"
)

const (
	workerTimeout = 5 * time.Second
	lockTTL       = 5 * time.Minute
	requeueDelay  = 500 * time.Millisecond
	// maxRequeues bounds how often a request waits on another worker's lock.
	maxRequeues = 100
)

// releaseScript deletes the lock only if this worker still owns it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Refresher rebuilds the story cache of one save.
type Refresher interface {
	Run(ctx context.Context, user, saveID string) error
}

// Queue is the refresh request queue the worker drains.
type Queue interface {
	Enqueue(ctx context.Context, req *queuePkg.Request) error
	BlockingDequeue(ctx context.Context, timeout time.Duration) (*queuePkg.Request, error)
}

// Worker processes cache refresh requests. A save is refreshed by at most
// one worker at a time; requests for a save locked elsewhere go back on the
// queue.
type Worker struct {
	id          string
	queue       Queue
	refresher   Refresher
	redisClient *redis.Client
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	mu   sync.Mutex
	held map[string]int
}

// New creates a new worker instance
func New(q Queue, refresher Refresher, redisClient *redis.Client, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:          workerID,
		queue:       q,
		refresher:   refresher,
		redisClient: redisClient,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		held:        make(map[string]int),
	}
}

// ID returns the worker's lock owner name.
func (w *Worker) ID() string {
	return w.id
}

// Start begins processing requests from the queue
func (w *Worker) Start() error {
	w.log.Info("Worker starting", "worker_id", w.id)

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down", "worker_id", w.id)
			w.wg.Wait()
			return nil
		default:
			if err := w.processNextRequest(); err != nil {
				w.log.Error("Error processing request", "error", err, "worker_id", w.id)
				w.sleep(time.Second)
			}
		}
	}
}

// Stop cancels running refreshes and makes Start return.
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested", "worker_id", w.id)
	w.cancel()
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-w.ctx.Done():
	}
}

// processNextRequest takes one request off the queue and hands it to its
// own goroutine, so refreshes of different saves overlap.
func (w *Worker) processNextRequest() error {
	req, err := w.queue.BlockingDequeue(w.ctx, workerTimeout)
	if err != nil {
		if w.ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to dequeue request: %w", err)
	}
	if req == nil {
		return nil
	}

	w.log.Info("Received request from queue",
		"worker_id", w.id,
		"request_id", req.RequestID,
		"user", req.User,
		"save", req.SaveID,
	)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.handle(req); err != nil {
			w.log.Error("Refresh request failed",
				"error", err,
				"worker_id", w.id,
				"request_id", req.RequestID,
			)
		}
	}()
	return nil
}

func (w *Worker) handle(req *queuePkg.Request) error {
	locked, err := w.acquireSaveLock(req.User, req.SaveID)
	if err != nil {
		return fmt.Errorf("failed to acquire save lock: %w", err)
	}
	if !locked {
		return w.requeue(req)
	}
	defer w.releaseSaveLock(req.User, req.SaveID)

	start := time.Now()
	stopRenew := w.keepLock(req.User, req.SaveID)
	defer stopRenew()

	if err := w.refresher.Run(w.ctx, req.User, req.SaveID); err != nil {
		return fmt.Errorf("failed to refresh story cache: %w", err)
	}
	w.log.Info("Refresh request processed",
		"worker_id", w.id,
		"request_id", req.RequestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// requeue puts a request for a save locked by another worker back at the
// end of the queue.
func (w *Worker) requeue(req *queuePkg.Request) error {
	req.Attempts++
	if req.Attempts > maxRequeues {
		w.log.Warn("Dropping refresh request after repeated lock contention",
			"worker_id", w.id, "request_id", req.RequestID, "attempts", req.Attempts)
		return nil
	}
	w.log.Info("Save already locked, re-queueing request",
		"worker_id", w.id,
		"request_id", req.RequestID,
		"user", req.User,
		"save", req.SaveID,
	)
	w.sleep(requeueDelay)
	// The queue must get the request back even while shutting down.
	if err := w.queue.Enqueue(context.WithoutCancel(w.ctx), req); err != nil {
		return fmt.Errorf("failed to re-queue request: %w", err)
	}
	return nil
}

func lockKey(user, saveID string) string {
	return fmt.Sprintf("save-lock:%s:%s", user, saveID)
}

// acquireSaveLock takes the save's lock, or joins it when this worker
// already holds it. Returns false if another worker owns it.
func (w *Worker) acquireSaveLock(user, saveID string) (bool, error) {
	key := lockKey(user, saveID)
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.held[key] > 0 {
		if err := w.redisClient.PExpire(w.ctx, key, lockTTL).Err(); err != nil {
			return false, err
		}
		w.held[key]++
		return true, nil
	}

	ok, err := w.redisClient.SetNX(w.ctx, key, w.id, lockTTL).Result()
	if err != nil {
		return false, err
	}
	if ok {
		w.held[key] = 1
		w.log.Debug("Save lock acquired", "worker_id", w.id, "key", key)
	}
	return ok, nil
}

// releaseSaveLock drops this worker's hold and deletes the lock once the
// last holder is done.
func (w *Worker) releaseSaveLock(user, saveID string) {
	key := lockKey(user, saveID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.held[key]--
	if w.held[key] > 0 {
		return
	}
	delete(w.held, key)

	if err := releaseScript.Run(context.WithoutCancel(w.ctx), w.redisClient, []string{key}, w.id).Err(); err != nil {
		w.log.Error("Failed to release save lock", "error", err, "key", key)
	}
}

// keepLock extends the lock while a long refresh runs.
func (w *Worker) keepLock(user, saveID string) func() {
	key := lockKey(user, saveID)
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(lockTTL / 3)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-w.ctx.Done():
				return
			case <-t.C:
				if err := w.redisClient.PExpire(w.ctx, key, lockTTL).Err(); err != nil {
					w.log.Warn("Failed to extend save lock", "error", err, "key", key)
				}
			}
		}
	}()
	return func() { close(done) }
}
