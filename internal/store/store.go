// Package store is the Proxy Store (spec.md §4.1): durable,
// concurrency-safe storage of Proxy and ProxyTest rows, and the sole
// source of truth the Manager uses for scheduling decisions.
//
// Persistence uses database/sql with the pure-Go modernc.org/sqlite
// driver, grounded on mercator-hq-jupiter/pkg/limits/storage/sqlite.go's
// WAL-mode DSN and prepared-statement shape. SQLite's single-writer
// model is what gives ClaimBatch its atomicity: the DSN's _txlock=immediate
// makes every db.BeginTx issue "BEGIN IMMEDIATE" rather than a deferred
// begin, so every claim and every release takes SQLite's write lock up
// front and two concurrent callers are serialized by SQLite itself rather
// than by an in-process lock — the equivalent of the "SELECT ... FOR
// UPDATE SKIP LOCKED" pattern spec.md §5 asks for, for a single embedded
// database file.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the Proxy Store handle.
type Store struct {
	db     *sql.DB
	log    *slog.Logger
	banAt  int
}

// Options configures Open.
type Options struct {
	// Path is the SQLite database file path ("" means "proxypool.db";
	// ":memory:" gives an ephemeral in-memory database, mainly for tests).
	Path string
	// MaxOpenConns bounds the shared connection pool; spec.md §5 asks for
	// at least max_workers + 4.
	MaxOpenConns int
	// BanThreshold is the consecutive CONN_REFUSED/TIMEOUT count after
	// which a Proxy transitions to BANNED (spec.md §9 Open Question,
	// resolved as a configurable in SPEC_FULL.md §8).
	BanThreshold int
	Log          *slog.Logger
}

// Open opens (creating if absent) the SQLite-backed Proxy Store and
// applies its schema.
func Open(opts Options) (*Store, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.BanThreshold <= 0 {
		opts.BanThreshold = 5
	}

	path := opts.Path
	if path == "" {
		path = "proxypool.db"
	}

	dsn := path
	if path != ":memory:" {
		// _txlock=immediate makes every db.BeginTx issue "BEGIN IMMEDIATE"
		// instead of SQLite's default deferred begin, so withTx acquires the
		// write lock up front rather than on first write.
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	maxConns := opts.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 1
	}
	if path == ":memory:" {
		// A private in-memory database only exists on one connection.
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	s := &Store{db: db, log: opts.Log, banAt: opts.BanThreshold}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS proxy (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	protocol INTEGER NOT NULL,
	ip INTEGER NOT NULL,
	port INTEGER NOT NULL,
	country TEXT,
	status INTEGER NOT NULL,
	latency_ms INTEGER,
	anonymous INTEGER NOT NULL DEFAULT 0,
	test_count INTEGER NOT NULL DEFAULT 0,
	fail_count INTEGER NOT NULL DEFAULT 0,
	last_tested_at DATETIME,
	created_at DATETIME NOT NULL,
	modified_at DATETIME NOT NULL,
	UNIQUE(protocol, ip, port)
);

CREATE TABLE IF NOT EXISTS proxy_test (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	proxy_id INTEGER NOT NULL REFERENCES proxy(id),
	outcome INTEGER NOT NULL,
	latency_ms INTEGER,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	info TEXT
);
CREATE INDEX IF NOT EXISTS idx_proxy_test_proxy_finished ON proxy_test(proxy_id, finished_at);

CREATE INDEX IF NOT EXISTS idx_proxy_status ON proxy(status);
CREATE INDEX IF NOT EXISTS idx_proxy_protocol_status ON proxy(protocol, status, last_tested_at);
`

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// withTx runs fn inside a transaction opened with BEGIN IMMEDIATE (via
// the DSN's _txlock=immediate, set in Open), retrying on transient
// "database is locked"/"busy" failures with bounded exponential backoff
// (spec.md §4.1 Failure semantics), in the teacher's hand-rolled
// retry-loop idiom rather than pulling in a backoff library (see
// DESIGN.md).
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	const maxAttempts = 5
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * 50 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			lastErr = err
			if isTransient(err) {
				continue
			}
			return fmt.Errorf("store: begin tx: %w", err)
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if isTransient(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			lastErr = err
			if isTransient(err) {
				continue
			}
			return fmt.Errorf("store: commit: %w", err)
		}
		return nil
	}

	return fmt.Errorf("store: transaction exhausted retries: %w", lastErr)
}

// isTransient reports whether err looks like a retryable SQLite
// lock-contention error rather than a fatal one.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}
