package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jwebster45206/gamemaster/pkg/savedata"
)

// Database is the save-level view over a Backend. Writes carry the save's
// version and a write older than the stored one is dropped.
type Database struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewDatabase(backend Backend, logger *slog.Logger) *Database {
	return &Database{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Backend exposes the underlying store.
func (d *Database) Backend() Backend {
	return d.backend
}

func (d *Database) lock(user, saveID string) func() {
	d.mu.Lock()
	key := user + "\x00" + saveID
	l, ok := d.locks[key]
	if !ok {
		l = &sync.Mutex{}
		d.locks[key] = l
	}
	d.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (d *Database) Ping(ctx context.Context) error {
	return d.backend.Ping(ctx)
}

func (d *Database) Close() error {
	return d.backend.Close()
}

// Sync reconciles a mirrored backend for user. It is a no-op otherwise.
func (d *Database) Sync(ctx context.Context, user string) error {
	if s, ok := d.backend.(Syncer); ok {
		return s.Sync(ctx, user)
	}
	return nil
}

func (d *Database) GetSaveData(ctx context.Context, user, saveID string) (*savedata.SaveData, error) {
	blob, err := d.backend.Read(ctx, user, saveID)
	if err != nil {
		return nil, err
	}
	var s savedata.SaveData
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, fmt.Errorf("failed to decode save %s: %w", saveID, err)
	}
	return &s, nil
}

// storedVersion reads only the version of the stored save.
func (d *Database) storedVersion(ctx context.Context, user, saveID string) (int, error) {
	blob, err := d.backend.Read(ctx, user, saveID)
	if err != nil {
		return 0, err
	}
	var v struct {
		Ver int `json:"ver"`
	}
	if err := json.Unmarshal(blob, &v); err != nil {
		return 0, fmt.Errorf("failed to decode save %s: %w", saveID, err)
	}
	return v.Ver, nil
}

// SaveGameData commits s unless the stored save is newer. A dropped stale
// write is not an error.
func (d *Database) SaveGameData(ctx context.Context, user, saveID string, s *savedata.SaveData) error {
	unlock := d.lock(user, saveID)
	defer unlock()

	stored, err := d.storedVersion(ctx, user, saveID)
	if err != nil {
		return err
	}
	if s.Ver < stored {
		d.logger.Warn("Tried to commit earlier version, dropping write",
			"user", user, "save", saveID, "ver", s.Ver, "stored_ver", stored)
		return nil
	}
	return d.commit(ctx, user, saveID, s)
}

func (d *Database) commit(ctx context.Context, user, saveID string, s *savedata.SaveData) error {
	blob, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode save %s: %w", saveID, err)
	}
	if err := d.backend.Commit(ctx, user, saveID, blob, d.now().UnixMilli()); err != nil {
		return err
	}
	d.logger.Debug("Save committed", "user", user, "save", saveID, "ver", s.Ver)
	return nil
}

// CreateSave stores a new save, failing with ErrSaveExists if the name is
// taken.
func (d *Database) CreateSave(ctx context.Context, user, saveID string, s *savedata.SaveData) error {
	unlock := d.lock(user, saveID)
	defer unlock()

	exists, err := d.SaveExists(ctx, user, saveID)
	if err != nil {
		return err
	}
	if exists {
		return ErrSaveExists
	}
	if err := d.commit(ctx, user, saveID, s); err != nil {
		return err
	}
	d.logger.Info("Save created", "user", user, "save", saveID)
	return nil
}

// DeleteSave removes a save with its images and cache entries.
func (d *Database) DeleteSave(ctx context.Context, user, saveID string) error {
	unlock := d.lock(user, saveID)
	defer unlock()

	if err := d.backend.Delete(ctx, user, saveID); err != nil {
		return err
	}
	if err := d.backend.DeleteAllCache(ctx, user, saveID); err != nil {
		return err
	}
	d.logger.Info("Save deleted", "user", user, "save", saveID)
	return nil
}

func (d *Database) SavesList(ctx context.Context, user string) ([]string, error) {
	return d.backend.GetAllSaves(ctx, user)
}

func (d *Database) SaveExists(ctx context.Context, user, saveID string) (bool, error) {
	saves, err := d.backend.GetAllSaves(ctx, user)
	if err != nil {
		return false, err
	}
	return slices.Contains(saves, saveID), nil
}

func (d *Database) SaveImage(ctx context.Context, user, saveID, category string, data []byte) error {
	return d.backend.SaveImage(ctx, user, saveID, category, data)
}

// GetSaveImage returns the image as base64, or the category placeholder
// when the save has none.
func (d *Database) GetSaveImage(ctx context.Context, user, saveID, category string) string {
	data, err := d.backend.LoadImage(ctx, user, saveID, category)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			d.logger.Warn("Failed to load image, using placeholder",
				"user", user, "save", saveID, "category", category, "error", err)
		}
		return DefaultImage(category)
	}
	return base64.StdEncoding.EncodeToString(data)
}

// Cache stores value under the hash of key.
func (d *Database) Cache(ctx context.Context, user, saveID, key string, value []byte) error {
	return d.backend.Cache(ctx, user, saveID, HashKey(key), value)
}

// GetCache returns nil, nil for a missing entry.
func (d *Database) GetCache(ctx context.Context, user, saveID, key string) ([]byte, error) {
	return d.backend.GetCache(ctx, user, saveID, HashKey(key))
}

func (d *Database) DeleteCache(ctx context.Context, user, saveID, key string) error {
	return d.backend.DeleteCache(ctx, user, saveID, HashKey(key))
}

func (d *Database) DeleteAllCache(ctx context.Context, user, saveID string) error {
	return d.backend.DeleteAllCache(ctx, user, saveID)
}
