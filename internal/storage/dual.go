package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// cloudWriteTimeout bounds one background write to the cloud.
const cloudWriteTimeout = 30 * time.Second

// Dual mirrors a local backend to a cloud backend. Reads prefer local and
// fall back to cloud, repopulating local. Writes land locally first and
// reach the cloud in the background, in commit order per user. Cache
// entries stay local.
type Dual struct {
	local  Backend
	cloud  Backend
	logger *slog.Logger
	wg     sync.WaitGroup

	mu    sync.Mutex
	lanes map[string][]cloudOp
}

type cloudOp struct {
	ctx context.Context
	op  string
	fn  func(ctx context.Context) error
}

var (
	_ Backend = (*Dual)(nil)
	_ Syncer  = (*Dual)(nil)
)

func NewDual(local, cloud Backend, logger *slog.Logger) *Dual {
	return &Dual{local: local, cloud: cloud, logger: logger, lanes: make(map[string][]cloudOp)}
}

// background queues fn on the user's lane without tying it to the caller's
// lifetime. A user's cloud writes run one at a time in the order they were
// queued, so an older save never lands after a newer one.
func (d *Dual) background(ctx context.Context, user, op string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	queue, running := d.lanes[user]
	d.lanes[user] = append(queue, cloudOp{ctx: context.WithoutCancel(ctx), op: op, fn: fn})
	if !running {
		go d.drain(user)
	}
}

// drain runs the user's lane until it is empty.
func (d *Dual) drain(user string) {
	for {
		d.mu.Lock()
		queue := d.lanes[user]
		if len(queue) == 0 {
			delete(d.lanes, user)
			d.mu.Unlock()
			return
		}
		next := queue[0]
		d.lanes[user] = queue[1:]
		d.mu.Unlock()

		ctx, cancel := context.WithTimeout(next.ctx, cloudWriteTimeout)
		if err := next.fn(ctx); err != nil {
			d.logger.Error("Cloud write failed", "operation", next.op, "user", user, "error", err)
		}
		cancel()
		d.wg.Done()
	}
}

// Wait blocks until pending cloud writes finish.
func (d *Dual) Wait() {
	d.wg.Wait()
}

func (d *Dual) Ping(ctx context.Context) error {
	return errors.Join(d.local.Ping(ctx), d.cloud.Ping(ctx))
}

func (d *Dual) Close() error {
	d.wg.Wait()
	return errors.Join(d.local.Close(), d.cloud.Close())
}

func (d *Dual) Read(ctx context.Context, user, saveID string) ([]byte, error) {
	blob, err := d.local.Read(ctx, user, saveID)
	if err == nil {
		return blob, nil
	}
	if !errors.Is(err, ErrNotFound) {
		d.logger.Warn("Local read failed, trying cloud", "user", user, "save", saveID, "error", err)
	}
	blob, cerr := d.cloud.Read(ctx, user, saveID)
	if cerr != nil {
		return nil, cerr
	}
	ts, terr := d.cloud.Timestamp(ctx, user)
	if terr != nil {
		ts = time.Now().UnixMilli()
	}
	if err := d.local.Commit(ctx, user, saveID, blob, ts); err != nil {
		d.logger.Warn("Failed to repopulate local save", "user", user, "save", saveID, "error", err)
	}
	return blob, nil
}

func (d *Dual) ReadAll(ctx context.Context, user string) (map[string][]byte, error) {
	saves, err := d.local.ReadAll(ctx, user)
	if err == nil && len(saves) > 0 {
		return saves, nil
	}
	return d.cloud.ReadAll(ctx, user)
}

func (d *Dual) Commit(ctx context.Context, user, saveID string, blob []byte, timestamp int64) error {
	if err := d.local.Commit(ctx, user, saveID, blob, timestamp); err != nil {
		return err
	}
	d.background(ctx, user, "commit", func(ctx context.Context) error {
		return d.cloud.Commit(ctx, user, saveID, blob, timestamp)
	})
	return nil
}

func (d *Dual) CommitAll(ctx context.Context, user string, saves map[string][]byte, timestamp int64) error {
	if err := d.local.CommitAll(ctx, user, saves, timestamp); err != nil {
		return err
	}
	d.background(ctx, user, "commit all", func(ctx context.Context) error {
		return d.cloud.CommitAll(ctx, user, saves, timestamp)
	})
	return nil
}

func (d *Dual) Delete(ctx context.Context, user, saveID string) error {
	err := d.local.Delete(ctx, user, saveID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		// only the cloud may hold it
		return d.cloud.Delete(ctx, user, saveID)
	}
	d.background(ctx, user, "delete", func(ctx context.Context) error {
		if err := d.cloud.Delete(ctx, user, saveID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	})
	return nil
}

func (d *Dual) GetAllSaves(ctx context.Context, user string) ([]string, error) {
	saves, err := d.local.GetAllSaves(ctx, user)
	if err == nil && len(saves) > 0 {
		return saves, nil
	}
	return d.cloud.GetAllSaves(ctx, user)
}

func (d *Dual) Timestamp(ctx context.Context, user string) (int64, error) {
	return d.local.Timestamp(ctx, user)
}

func (d *Dual) SaveImage(ctx context.Context, user, saveID, category string, data []byte) error {
	if err := d.local.SaveImage(ctx, user, saveID, category, data); err != nil {
		return err
	}
	d.background(ctx, user, "save image", func(ctx context.Context) error {
		return d.cloud.SaveImage(ctx, user, saveID, category, data)
	})
	return nil
}

func (d *Dual) LoadImage(ctx context.Context, user, saveID, category string) ([]byte, error) {
	data, err := d.local.LoadImage(ctx, user, saveID, category)
	if err == nil {
		return data, nil
	}
	data, cerr := d.cloud.LoadImage(ctx, user, saveID, category)
	if cerr != nil {
		return nil, cerr
	}
	if err := d.local.SaveImage(ctx, user, saveID, category, data); err != nil {
		d.logger.Warn("Failed to repopulate local image", "user", user, "save", saveID, "error", err)
	}
	return data, nil
}

func (d *Dual) Cache(ctx context.Context, user, saveID, key string, value []byte) error {
	return d.local.Cache(ctx, user, saveID, key, value)
}

func (d *Dual) GetCache(ctx context.Context, user, saveID, key string) ([]byte, error) {
	return d.local.GetCache(ctx, user, saveID, key)
}

func (d *Dual) DeleteCache(ctx context.Context, user, saveID, key string) error {
	return d.local.DeleteCache(ctx, user, saveID, key)
}

func (d *Dual) DeleteAllCache(ctx context.Context, user, saveID string) error {
	return d.local.DeleteAllCache(ctx, user, saveID)
}

// Sync overwrites the side with the older timestamp with the other side.
func (d *Dual) Sync(ctx context.Context, user string) error {
	lt, err := d.local.Timestamp(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to read local timestamp: %w", err)
	}
	ct, err := d.cloud.Timestamp(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to read cloud timestamp: %w", err)
	}

	switch {
	case ct > lt:
		saves, err := d.cloud.ReadAll(ctx, user)
		if err != nil {
			return err
		}
		d.logger.Info("Syncing saves from cloud", "user", user, "saves", len(saves))
		return d.local.CommitAll(ctx, user, saves, ct)
	case lt > ct:
		saves, err := d.local.ReadAll(ctx, user)
		if err != nil {
			return err
		}
		d.logger.Info("Syncing saves to cloud", "user", user, "saves", len(saves))
		return d.cloud.CommitAll(ctx, user, saves, lt)
	}
	return nil
}
