package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrSaveExists = errors.New("Save already exists.")
)

// Image categories kept per save.
const (
	ImageCharacter = "character"
	ImageShop      = "shop"
	ImageScene     = "scene"
)

// ImageCategories lists every category a save may hold an image for.
var ImageCategories = []string{ImageCharacter, ImageShop, ImageScene}

// Backend is a durable blob store for saves, cache entries and images,
// partitioned by user. Timestamps are logical clocks used to reconcile two
// backends; a user without data has timestamp 0.
type Backend interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Save blobs
	Read(ctx context.Context, user, saveID string) ([]byte, error)
	ReadAll(ctx context.Context, user string) (map[string][]byte, error)
	Commit(ctx context.Context, user, saveID string, blob []byte, timestamp int64) error
	CommitAll(ctx context.Context, user string, saves map[string][]byte, timestamp int64) error
	Delete(ctx context.Context, user, saveID string) error
	GetAllSaves(ctx context.Context, user string) ([]string, error)
	Timestamp(ctx context.Context, user string) (int64, error)

	// Images
	SaveImage(ctx context.Context, user, saveID, category string, data []byte) error
	LoadImage(ctx context.Context, user, saveID, category string) ([]byte, error)

	// Cache entries. GetCache returns nil, nil for a missing key.
	Cache(ctx context.Context, user, saveID, key string, value []byte) error
	GetCache(ctx context.Context, user, saveID, key string) ([]byte, error)
	DeleteCache(ctx context.Context, user, saveID, key string) error
	DeleteAllCache(ctx context.Context, user, saveID string) error
}

// Syncer is implemented by backends that mirror two stores.
type Syncer interface {
	Sync(ctx context.Context, user string) error
}

// HashKey maps a cache key to a fixed length digest.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
