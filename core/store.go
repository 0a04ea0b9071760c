/*
store.go - Persistence contracts

PURPOSE:
  Defines the interface between the ledger logic and the database. One Tx
  value exposes every leaf store (balances, content, grants, snapshots,
  ledger entries, daily records) so a unit of work can touch all of them
  and commit or roll back as one.

KEY INTERFACES:
  Tx:     all leaf stores, usable inside or outside a transaction
  Store:  Tx plus WithTx for atomic units of work
  Relationships, PolicySource, NotificationStore: read-mostly collaborators

APPEND-ONLY CONTRACT:
  Ledger entries, grants and snapshots have Insert/Append but no Update or
  Delete. Content items have no Delete; soft deletion is a state change.

ATOMICITY:
  WithTx runs fn as one serializable unit. On error nothing fn wrote is
  visible. Conflicts (busy database) restart fn from the beginning, so fn
  must not have side effects outside the Tx it is handed.

IMPLEMENTATIONS:
  - core/store/memory.go: in-memory, one lock, snapshot + rollback
  - store/sqlite:         SQLite with IMMEDIATE transactions and retry
*/
package core

import "context"

// =============================================================================
// LEAF STORES
// =============================================================================

// AccountStore is the BalanceStore: balances and genre-token counts.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct Account) error
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	// AdjustBalance adds delta to the balance and returns the new balance.
	// Fails with *InsufficientFundsError if the result would be negative.
	AdjustBalance(ctx context.Context, id AccountID, delta int64) (int64, error)

	// CompareAndSetTokens sets the genre count to next only if it currently
	// equals expected. Returns ErrTokenConflict otherwise.
	CompareAndSetTokens(ctx context.Context, id AccountID, genre Genre, expected, next int) error
}

type ContentStore interface {
	// InsertContent fails with ErrDuplicateContent if the owner already has an
	// item for the period key.
	InsertContent(ctx context.Context, item ContentItem) error
	GetContent(ctx context.Context, id ContentID) (ContentItem, error)
	GetContentByPeriod(ctx context.Context, owner AccountID, key PeriodKey) (ContentItem, error)
	ListContentByOwner(ctx context.Context, owner AccountID) ([]ContentItem, error)
	SetContentState(ctx context.Context, id ContentID, state ContentState) error
	IncrementReaderCount(ctx context.Context, id ContentID) (int64, error)
}

type GrantStore interface {
	// GetGrant returns (grant, true) if present.
	GetGrant(ctx context.Context, reader AccountID, item ContentID) (Grant, bool, error)
	// InsertGrant fails with ErrDuplicateGrant if one exists.
	InsertGrant(ctx context.Context, g Grant) error
	CountGrants(ctx context.Context, item ContentID) (int64, error)
}

type SnapshotStore interface {
	GetSnapshot(ctx context.Context, reader AccountID, item ContentID) (Snapshot, bool, error)
	// InsertSnapshot fails with ErrDuplicateSnapshot if one exists.
	InsertSnapshot(ctx context.Context, s Snapshot) error
	ListSnapshots(ctx context.Context, reader AccountID) ([]Snapshot, error)
}

// EntryFilter narrows a ledger query. Zero fields match everything.
type EntryFilter struct {
	Descriptor Descriptor
	Reference  string
	From       *Date // inclusive, by CreatedAt in UTC
	To         *Date // inclusive
	Limit      int
}

// LedgerStore is append-only.
type LedgerStore interface {
	// AppendEntry fails with ErrDuplicateIdempotencyKey if the key exists.
	AppendEntry(ctx context.Context, e LedgerEntry) error
	EntryExists(ctx context.Context, idempotencyKey string) (bool, error)
	// ListEntries returns entries newest first.
	ListEntries(ctx context.Context, account AccountID, f EntryFilter) ([]LedgerEntry, error)
}

type DailyRecordStore interface {
	// PutDailyRecord creates the marker and reports whether it was new.
	PutDailyRecord(ctx context.Context, r DailyRecord) (created bool, err error)
	DeleteDailyRecord(ctx context.Context, account AccountID, d Date) (deleted bool, err error)
	// ListDailyRecords returns records with from <= date <= to, oldest first.
	ListDailyRecords(ctx context.Context, account AccountID, from, to Date) ([]DailyRecord, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Tx is every leaf store behind one handle.
type Tx interface {
	AccountStore
	ContentStore
	GrantStore
	SnapshotStore
	LedgerStore
	DailyRecordStore
}

// Store is the root persistence handle.
type Store interface {
	Tx

	// WithTx executes fn within a serializable transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Relationships answers whether two accounts are linked ("friends").
type Relationships interface {
	AreLinked(ctx context.Context, a, b AccountID) (bool, error)
}

// PolicySource is the Config policy store: key to integer value.
type PolicySource interface {
	// PolicyInt returns the stored value for key, or def when absent.
	PolicyInt(ctx context.Context, key string, def int64) (int64, error)
}

// Notifier delivers fire-and-forget notifications.
type Notifier interface {
	Notify(ctx context.Context, account AccountID, kind NotificationKind, payload map[string]string) error
}

// NotificationStore persists in-app notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, account AccountID, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, account AccountID, id string) error
}
