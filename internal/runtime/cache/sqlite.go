package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteConfig struct {
	// Path of the database file. Empty opens a shared in-memory database.
	Path string
	// Retention bounds how long a record is kept; see Retention.
	Retention time.Duration
}

type sqliteStore struct {
	db         *sql.DB
	retention  time.Duration
	now        func() time.Time
	writeMutex sync.Mutex
}

// NewSQLite opens (or creates) the records table in the configured database.
func NewSQLite(cfg SQLiteConfig) (Store, error) {
	path := cfg.Path
	if path == "" {
		path = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite open: %w", err)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
			key TEXT PRIMARY KEY,
			expires INTEGER,
			payload BLOB
		)`,
		"CREATE INDEX IF NOT EXISTS records_expires_idx ON records (expires)",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cache: sqlite init: %w", err)
		}
	}
	return &sqliteStore{db: db, retention: cfg.Retention, now: time.Now}, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		expires int64
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, "SELECT expires, payload FROM records WHERE key = ?", key).Scan(&expires, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("cache: sqlite get: %w", err)
	}
	if s.now().UnixMilli() > expires {
		return Record{}, false, nil
	}
	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return Record{}, false, fmt.Errorf("cache: sqlite unmarshal: %w", err)
	}
	return record, true, nil
}

func (s *sqliteStore) Put(ctx context.Context, key string, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("cache: sqlite marshal: %w", err)
	}
	expires := s.now().Add(Retention(record, s.retention)).UnixMilli()
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO records (key, expires, payload) VALUES (?, ?, ?)", key, expires, payload); err != nil {
		return fmt.Errorf("cache: sqlite put: %w", err)
	}
	// Expired rows are pruned opportunistically on write.
	if _, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE expires < ?", s.now().UnixMilli()); err != nil {
		return fmt.Errorf("cache: sqlite prune: %w", err)
	}
	return nil
}

func (s *sqliteStore) Size(ctx context.Context) (int64, error) {
	var size int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&size); err != nil {
		return 0, fmt.Errorf("cache: sqlite count: %w", err)
	}
	return size, nil
}

func (s *sqliteStore) Close(context.Context) error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("cache: sqlite close: %w", err)
	}
	return nil
}
