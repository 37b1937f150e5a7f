// Package history records served directory listing requests in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Zycon42/list-dir/internal/protocol"
)

const (
	// DefaultRetention is how long records are kept when no retention is
	// configured.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultPruneInterval is how often old records are removed.
	DefaultPruneInterval = time.Hour
)

// Record is one handled request.
type Record struct {
	ID        string
	Remote    string
	Path      string
	Status    protocol.Status
	Entries   int
	Error     string // transport or protocol failure, empty on success
	StartedAt time.Time
	Duration  time.Duration
}

// Options configures a Store.
type Options struct {
	// Retention is the maximum age of a record. Negative disables pruning.
	// Default: 30 days
	Retention time.Duration

	// PruneInterval is how often the background pruner runs.
	// Default: 1 hour
	PruneInterval time.Duration

	// Logger is the structured logger (optional, uses default if nil)
	Logger *slog.Logger
}

// Store persists request records.
type Store struct {
	db        *sql.DB
	retention time.Duration
	logger    *slog.Logger

	stopCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the database at path and starts the background
// pruner.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("history database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// modernc.org/sqlite uses _pragma=name(value) syntax
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retention := opts.Retention
	if retention == 0 {
		retention = DefaultRetention
	}
	interval := opts.PruneInterval
	if interval <= 0 {
		interval = DefaultPruneInterval
	}

	s := &Store{
		db:        db,
		retention: retention,
		logger:    logger,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	go s.pruneLoop(interval)
	return s, nil
}

// Close stops the pruner and closes the database. It is safe to call Close
// multiple times.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.stoppedCh
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// Record stores r.
func (s *Store) Record(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (request_id, remote, path, status, entries, error, started_at_unix_ms, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Remote, r.Path, int(r.Status), r.Entries, r.Error, r.StartedAt.UnixMilli(), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert request %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, remote, path, status, entries, error, started_at_unix_ms, duration_ms
		FROM requests
		ORDER BY started_at_unix_ms DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                Record
			status           int
			startedMs, durMs int64
		)
		if err := rows.Scan(&r.ID, &r.Remote, &r.Path, &status, &r.Entries, &r.Error, &startedMs, &durMs); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		r.Status = protocol.Status(status)
		r.StartedAt = time.UnixMilli(startedMs)
		r.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes records started before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE started_at_unix_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune requests: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) pruneLoop(interval time.Duration) {
	defer close(s.stoppedCh)

	if s.retention < 0 {
		<-s.stopCh
		return
	}

	s.prune()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.prune()
		}
	}
}

func (s *Store) prune() {
	n, err := s.Prune(context.Background(), time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Warn("failed to prune request history", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pruned request history", "count", n)
	}
}

func (s *Store) migrate(ctx context.Context) error {
	current := 0
	row := s.db.QueryRowContext(ctx, `SELECT version FROM schema_meta ORDER BY version DESC LIMIT 1`)
	if err := row.Scan(&current); err != nil {
		if !errors.Is(err, sql.ErrNoRows) && !strings.Contains(err.Error(), "no such table") {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		current = 0
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{version: 1, sql: migrationV1},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration v%d failed: %w", m.version, err)
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO schema_meta (version, applied_at_unix_ms)
			VALUES (?, ?)
		`, m.version, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS schema_meta (
  version INTEGER PRIMARY KEY,
  applied_at_unix_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS requests (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  request_id TEXT NOT NULL UNIQUE,
  remote TEXT NOT NULL,
  path TEXT NOT NULL,
  status INTEGER NOT NULL,
  entries INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT '',
  started_at_unix_ms INTEGER NOT NULL,
  duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_requests_started ON requests(started_at_unix_ms DESC);
`
