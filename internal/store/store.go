// Package store implements the embedded persistence store (§3.11, §4.1):
// a single-file modernc.org/sqlite database holding requests, messages,
// tool calls, settings, per-user memories, conversation summaries, and
// file-recall instances/files, with cascading deletes and a throttled
// write-flush.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound classifies a lookup miss as semantic, not fatal (§4.1:
// "not-found ... return empty/null").
var ErrNotFound = errors.New("store: not found")

// CorruptionError classifies a database error as fatal (§4.1: "corruption
// (fatal, surface to GW)"), wrapping the underlying driver error.
type CorruptionError struct {
	Err error
}

func (e *CorruptionError) Error() string { return fmt.Sprintf("store: database corrupted: %v", e.Err) }
func (e *CorruptionError) Unwrap() error { return e.Err }

// classifyError turns a raw database/sql error into ErrNotFound,
// *CorruptionError, or the error unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database") ||
		strings.Contains(msg, "corrupt") {
		return &CorruptionError{Err: err}
	}
	return err
}

// checkpointInterval bounds how often the WAL is flushed into the main
// database file: "flushed at most once per second after a write burst"
// (§4.1). Reads always observe the latest write regardless of checkpoint
// timing since they go through the same *sql.DB handle; the checkpoint
// only bounds how often the on-disk file itself is brought up to date.
const checkpointInterval = time.Second

// Store is the embedded persistence store.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	dsn string

	stopCheckpoint chan struct{}
	checkpointDone chan struct{}
}

// Open opens (creating if absent) the sqlite file at path, runs pending
// migrations, and starts the throttled checkpoint loop.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite is single-writer; avoid SQLITE_BUSY under concurrent goroutines.

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:             db,
		dsn:            dsn,
		stopCheckpoint: make(chan struct{}),
		checkpointDone: make(chan struct{}),
	}
	go s.checkpointLoop()
	return s, nil
}

func (s *Store) checkpointLoop() {
	defer close(s.checkpointDone)
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			_, _ = s.db.Exec(`PRAGMA wal_checkpoint(PASSIVE)`)
			s.mu.RUnlock()
		case <-s.stopCheckpoint:
			return
		}
	}
}

// Reload re-opens the DSN, for read-mostly consumers that want to observe
// writes made by another process against the same file (§4.1).
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return fmt.Errorf("store: reload: %w", err)
	}
	fresh.SetMaxOpenConns(1)
	if err := fresh.Ping(); err != nil {
		fresh.Close()
		return classifyError(fmt.Errorf("store: reload ping: %w", err))
	}

	old := s.db
	s.db = fresh
	return old.Close()
}

// Close flushes the WAL synchronously and closes the database (§4.1:
// "synchronously on process shutdown").
func (s *Store) Close() error {
	close(s.stopCheckpoint)
	<-s.checkpointDone

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		// Best-effort: still attempt Close so the file descriptor isn't leaked.
		_ = err
	}
	return s.db.Close()
}

func (s *Store) conn() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Purge deletes requests (cascading to their messages/tool_calls) older
// than cutoff and reclaims free space, per §4.1's maintenance operation.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	db := s.conn()
	res, err := db.ExecContext(ctx, `DELETE FROM requests WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, classifyError(err)
	}
	n, _ := res.RowsAffected()

	if _, err := db.ExecContext(ctx, `VACUUM`); err != nil {
		return n, classifyError(err)
	}
	return n, nil
}

// SetSetting and GetSetting implement the key/value settings table (§3).
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	db := s.conn()
	_, err := db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return classifyError(err)
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	db := s.conn()
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return "", classifyError(err)
	}
	return value, nil
}
