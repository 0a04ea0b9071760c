/*
Package sqlite provides a SQLite-backed implementation of core.Store.

PURPOSE:
  Implements every leaf store (accounts, content, grants, snapshots, ledger
  entries, daily records) plus the collaborator stores (links, point
  policies, notifications) on one SQLite database.

APPEND-ONLY ENFORCEMENT:
  - ledger_entries, grants, snapshots: INSERT only
  - content_items: no DELETE; soft deletion is state = 'deleted'
  - balances and token counts carry CHECK (>= 0) constraints

KEY TABLES:
  accounts, account_tokens: BalanceStore
  content_items:            ContentStore (UNIQUE owner + period key)
  grants, snapshots:        PRIMARY KEY (reader_id, content_id)
  ledger_entries:           LedgerStore (UNIQUE idempotency_key)
  daily_records:            PRIMARY KEY (account_id, date)
  links, point_policies, notifications: collaborators

CONCURRENCY:
  Transactions open with BEGIN IMMEDIATE (_txlock=immediate), so the write
  lock is taken up front and a unit of work never upgrades mid-way. Units
  are also serialized in-process. SQLITE_BUSY / SQLITE_LOCKED restart the
  whole unit up to MaxAttempts times, then it fails with core.ErrAborted.

WAL MODE:
  File databases are opened with WAL so readers never block the writer.

USAGE:
  store, err := sqlite.New("./data/story.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/warp/story-ledger/core"
)

// Options tunes the transaction layer.
type Options struct {
	MaxAttempts int           // attempts per unit of work, default 5
	Backoff     time.Duration // multiplied by the attempt number; 0 means 10ms, negative disables
	Logger      logrus.FieldLogger
	OnRetry     func(attempt int, err error)
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	} else if o.Backoff == 0 {
		o.Backoff = 10 * time.Millisecond
	}
	if o.Logger == nil {
		l := logrus.New()
		l.Out = discard{}
		o.Logger = l
	}
	return o
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Store implements core.Store on SQLite.
type Store struct {
	conn
	db   *sql.DB
	mu   sync.Mutex
	opts Options
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Options) (*Store, error) {
	params := "?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"
	memory := dbPath == ":memory:"
	if !memory {
		params += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dbPath+params)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	store := NewWithDB(db, opts...)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an open database without migrating it.
func NewWithDB(db *sql.DB, opts ...Options) *Store {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	return &Store{conn: conn{q: db}, db: db, opts: o.withDefaults()}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		privileged BOOLEAN NOT NULL DEFAULT FALSE,
		time_zone TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS account_tokens (
		account_id TEXT NOT NULL REFERENCES accounts(id),
		genre TEXT NOT NULL,
		count INTEGER NOT NULL CHECK (count >= 0),
		PRIMARY KEY (account_id, genre)
	);

	CREATE TABLE IF NOT EXISTS content_items (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES accounts(id),
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		week_index INTEGER NOT NULL,
		genre TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'live' CHECK (state IN ('live', 'private', 'deleted')),
		title TEXT NOT NULL DEFAULT '',
		cover_ref TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		reader_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		UNIQUE (owner_id, year, month, week_index, genre)
	);

	CREATE INDEX IF NOT EXISTS idx_content_owner
		ON content_items(owner_id, created_at DESC);

	-- Grants: existence is the sole proof of purchase. Never deleted.
	CREATE TABLE IF NOT EXISTS grants (
		reader_id TEXT NOT NULL,
		content_id TEXT NOT NULL REFERENCES content_items(id),
		granted_at TEXT NOT NULL,
		PRIMARY KEY (reader_id, content_id)
	);

	CREATE INDEX IF NOT EXISTS idx_grants_content ON grants(content_id);

	CREATE TABLE IF NOT EXISTS snapshots (
		reader_id TEXT NOT NULL,
		content_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		week_index INTEGER NOT NULL,
		genre TEXT NOT NULL,
		title TEXT NOT NULL,
		cover_ref TEXT NOT NULL,
		body TEXT NOT NULL,
		taken_at TEXT NOT NULL,
		PRIMARY KEY (reader_id, content_id)
	);

	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('earn', 'spend')),
		amount INTEGER NOT NULL CHECK (amount > 0),
		descriptor TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account_created
		ON ledger_entries(account_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_account_descriptor
		ON ledger_entries(account_id, descriptor, created_at);

	CREATE TABLE IF NOT EXISTS daily_records (
		account_id TEXT NOT NULL,
		date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (account_id, date)
	);

	CREATE TABLE IF NOT EXISTS links (
		account_a TEXT NOT NULL,
		account_b TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (account_a, account_b)
	);

	CREATE TABLE IF NOT EXISTS point_policies (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}',
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_account
		ON notifications(account_id, created_at DESC);
`

// =============================================================================
// TRANSACTIONAL STORE (core.Store interface)
// =============================================================================

// WithTx executes fn within a database transaction, restarting it on
// conflicts. Errors returned by fn pass through unchanged unless retryable.
func (s *Store) WithTx(ctx context.Context, fn func(core.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err := s.runTx(ctx, attempt, fn)
		if err == nil {
			return nil
		}
		if !core.IsRetryable(err) {
			return err
		}
		lastErr = err
		s.opts.Logger.WithFields(logrus.Fields{"attempt": attempt, "error": err}).Warn("transaction conflict, retrying")
		if s.opts.OnRetry != nil {
			s.opts.OnRetry(attempt, err)
		}
		if attempt < s.opts.MaxAttempts {
			select {
			case <-ctx.Done():
				return &core.AbortedError{Attempts: attempt, Cause: ctx.Err()}
			case <-time.After(s.opts.Backoff * time.Duration(attempt)):
			}
		}
	}
	return &core.AbortedError{Attempts: s.opts.MaxAttempts, Cause: lastErr}
}

func (s *Store) runTx(ctx context.Context, attempt int, fn func(core.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if err = classify(err); core.IsRetryable(err) {
			return err
		}
		return &core.AbortedError{Attempts: attempt, Cause: err}
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		if err = classify(err); core.IsRetryable(err) {
			return err
		}
		return &core.AbortedError{Attempts: attempt, Cause: err}
	}
	return nil
}

// CreateAccount inserts the account and its token rows atomically.
func (s *Store) CreateAccount(ctx context.Context, acct core.Account) error {
	return s.WithTx(ctx, func(tx core.Tx) error {
		return tx.CreateAccount(ctx, acct)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements the leaf stores against a querier.
type conn struct {
	q querier
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// classify maps driver busy/locked errors to core.ErrConflict.
func classify(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", core.ErrConflict, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	// drivers wrapped by test doubles only carry the message
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isCheckConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintCheck
	}
	return err != nil && strings.Contains(err.Error(), "CHECK constraint failed")
}

var _ core.Store = (*Store)(nil)
