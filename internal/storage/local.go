package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS saves (
	username TEXT NOT NULL,
	save_id  TEXT NOT NULL,
	data     BLOB NOT NULL,
	PRIMARY KEY (username, save_id)
);
CREATE TABLE IF NOT EXISTS user_meta (
	username  TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache (
	username TEXT NOT NULL,
	save_id  TEXT NOT NULL,
	key      TEXT NOT NULL,
	value    BLOB NOT NULL,
	PRIMARY KEY (username, save_id, key)
);
CREATE TABLE IF NOT EXISTS images (
	username TEXT NOT NULL,
	save_id  TEXT NOT NULL,
	category TEXT NOT NULL,
	data     BLOB NOT NULL,
	PRIMARY KEY (username, save_id, category)
);`

// userLocks guards one user's save rows and cache rows independently.
type userLocks struct {
	save  sync.Mutex
	cache sync.Mutex
}

// LocalBackend stores everything in a single SQLite file.
type LocalBackend struct {
	db     *sql.DB
	logger *slog.Logger

	mu    sync.Mutex
	users map[string]*userLocks
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend opens (or creates) the SQLite database at path.
func NewLocalBackend(ctx context.Context, path string, logger *slog.Logger) (*LocalBackend, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time keeps SQLite away from SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	logger.Info("Local storage ready", "path", path)
	return &LocalBackend{db: db, logger: logger, users: make(map[string]*userLocks)}, nil
}

func (l *LocalBackend) locks(user string) *userLocks {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul, ok := l.users[user]
	if !ok {
		ul = &userLocks{}
		l.users[user] = ul
	}
	return ul
}

func (l *LocalBackend) Ping(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

func (l *LocalBackend) Close() error {
	return l.db.Close()
}

func (l *LocalBackend) Read(ctx context.Context, user, saveID string) ([]byte, error) {
	var data []byte
	err := l.db.QueryRowContext(ctx,
		`SELECT data FROM saves WHERE username = ? AND save_id = ?`, user, saveID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read save: %w", err)
	}
	return data, nil
}

func (l *LocalBackend) ReadAll(ctx context.Context, user string) (map[string][]byte, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT save_id, data FROM saves WHERE username = ?`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to read saves: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan save: %w", err)
		}
		out[id] = data
	}
	return out, rows.Err()
}

func (l *LocalBackend) Commit(ctx context.Context, user, saveID string, blob []byte, timestamp int64) error {
	ul := l.locks(user)
	ul.save.Lock()
	defer ul.save.Unlock()

	return l.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO saves (username, save_id, data) VALUES (?, ?, ?)
			 ON CONFLICT (username, save_id) DO UPDATE SET data = excluded.data`,
			user, saveID, blob); err != nil {
			return fmt.Errorf("failed to commit save: %w", err)
		}
		return setTimestamp(ctx, tx, user, timestamp)
	})
}

func (l *LocalBackend) CommitAll(ctx context.Context, user string, saves map[string][]byte, timestamp int64) error {
	ul := l.locks(user)
	ul.save.Lock()
	defer ul.save.Unlock()

	return l.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM saves WHERE username = ?`, user); err != nil {
			return fmt.Errorf("failed to clear saves: %w", err)
		}
		for id, blob := range saves {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO saves (username, save_id, data) VALUES (?, ?, ?)`, user, id, blob); err != nil {
				return fmt.Errorf("failed to commit save %s: %w", id, err)
			}
		}
		return setTimestamp(ctx, tx, user, timestamp)
	})
}

func setTimestamp(ctx context.Context, tx *sql.Tx, user string, timestamp int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_meta (username, timestamp) VALUES (?, ?)
		 ON CONFLICT (username) DO UPDATE SET timestamp = excluded.timestamp`,
		user, timestamp)
	if err != nil {
		return fmt.Errorf("failed to set timestamp: %w", err)
	}
	return nil
}

func (l *LocalBackend) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Delete removes the save and its images.
func (l *LocalBackend) Delete(ctx context.Context, user, saveID string) error {
	ul := l.locks(user)
	ul.save.Lock()
	defer ul.save.Unlock()

	return l.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM saves WHERE username = ? AND save_id = ?`, user, saveID)
		if err != nil {
			return fmt.Errorf("failed to delete save: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM images WHERE username = ? AND save_id = ?`, user, saveID); err != nil {
			return fmt.Errorf("failed to delete images: %w", err)
		}
		return nil
	})
}

func (l *LocalBackend) GetAllSaves(ctx context.Context, user string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT save_id FROM saves WHERE username = ? ORDER BY save_id`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan save id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (l *LocalBackend) Timestamp(ctx context.Context, user string) (int64, error) {
	var ts int64
	err := l.db.QueryRowContext(ctx, `SELECT timestamp FROM user_meta WHERE username = ?`, user).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read timestamp: %w", err)
	}
	return ts, nil
}

func (l *LocalBackend) SaveImage(ctx context.Context, user, saveID, category string, data []byte) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO images (username, save_id, category, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT (username, save_id, category) DO UPDATE SET data = excluded.data`,
		user, saveID, category, data)
	if err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

func (l *LocalBackend) LoadImage(ctx context.Context, user, saveID, category string) ([]byte, error) {
	var data []byte
	err := l.db.QueryRowContext(ctx,
		`SELECT data FROM images WHERE username = ? AND save_id = ? AND category = ?`,
		user, saveID, category).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return data, nil
}

func (l *LocalBackend) Cache(ctx context.Context, user, saveID, key string, value []byte) error {
	ul := l.locks(user)
	ul.cache.Lock()
	defer ul.cache.Unlock()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO cache (username, save_id, key, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (username, save_id, key) DO UPDATE SET value = excluded.value`,
		user, saveID, key, value)
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

func (l *LocalBackend) GetCache(ctx context.Context, user, saveID, key string) ([]byte, error) {
	var value []byte
	err := l.db.QueryRowContext(ctx,
		`SELECT value FROM cache WHERE username = ? AND save_id = ? AND key = ?`,
		user, saveID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	return value, nil
}

func (l *LocalBackend) DeleteCache(ctx context.Context, user, saveID, key string) error {
	ul := l.locks(user)
	ul.cache.Lock()
	defer ul.cache.Unlock()

	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM cache WHERE username = ? AND save_id = ? AND key = ?`, user, saveID, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (l *LocalBackend) DeleteAllCache(ctx context.Context, user, saveID string) error {
	ul := l.locks(user)
	ul.cache.Lock()
	defer ul.cache.Unlock()

	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM cache WHERE username = ? AND save_id = ?`, user, saveID); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
