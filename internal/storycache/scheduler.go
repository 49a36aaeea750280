package storycache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/gamemaster/internal/worker"
	"github.com/jwebster45206/gamemaster/pkg/queue"
)

// Scheduler starts a cache refresh for a save without waiting for it.
type Scheduler interface {
	Schedule(ctx context.Context, user, saveID string) error
	Cancel(user, saveID string)
}

// LocalScheduler refreshes in this process. Placeholders are written before
// Schedule returns; generation continues in the background.
type LocalScheduler struct {
	orch *Orchestrator
	pool *worker.Pool
}

var _ Scheduler = (*LocalScheduler)(nil)

func NewLocalScheduler(orch *Orchestrator, pool *worker.Pool) *LocalScheduler {
	return &LocalScheduler{orch: orch, pool: pool}
}

func (s *LocalScheduler) Schedule(ctx context.Context, user, saveID string) error {
	b, snap, err := s.orch.begin(context.WithoutCancel(ctx), user, saveID)
	if err != nil {
		return fmt.Errorf("failed to prime story cache: %w", err)
	}
	s.pool.Go(ctx, "cache refresh", func(context.Context) error {
		s.orch.fanOut(b, snap)
		return nil
	})
	return nil
}

func (s *LocalScheduler) Cancel(user, saveID string) {
	s.orch.Cancel(user, saveID)
}

// Enqueuer puts refresh requests on the shared queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *queue.Request) error
}

// QueueScheduler primes placeholders and leaves generation to a worker
// process reading the refresh queue.
type QueueScheduler struct {
	orch   *Orchestrator
	queue  Enqueuer
	logger *slog.Logger
}

var _ Scheduler = (*QueueScheduler)(nil)

func NewQueueScheduler(orch *Orchestrator, q Enqueuer, logger *slog.Logger) *QueueScheduler {
	return &QueueScheduler{orch: orch, queue: q, logger: logger}
}

func (s *QueueScheduler) Schedule(ctx context.Context, user, saveID string) error {
	if err := s.orch.Reset(ctx, user, saveID); err != nil {
		return fmt.Errorf("failed to prime story cache: %w", err)
	}
	req := queue.NewRefreshRequest(user, saveID)
	if err := s.queue.Enqueue(ctx, req); err != nil {
		return err
	}
	s.logger.Debug("Cache refresh queued", "user", user, "save", saveID, "request_id", req.RequestID)
	return nil
}

// Cancel is a no-op: a worker drops results for a turn the save has left.
func (s *QueueScheduler) Cancel(string, string) {}
