package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/story-ledger/core"
	"github.com/warp/story-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedAccount(t *testing.T, store *sqlite.Store, id core.AccountID, balance int64) {
	t.Helper()
	require.NoError(t, store.CreateAccount(context.Background(), core.Account{
		ID:      id,
		Balance: balance,
		Tokens:  map[core.Genre]int{core.GenreMystery: 1},
	}))
}

func testItem(owner core.AccountID, id core.ContentID) core.ContentItem {
	return core.ContentItem{
		ID:        id,
		OwnerID:   owner,
		Period:    core.PeriodKey{Year: 2025, Month: time.March, WeekIndex: 2, Genre: core.GenreMystery},
		State:     core.StateLive,
		Payload:   core.Payload{Title: "The Lighthouse", CoverRef: "covers/1.png", Body: "Once..."},
		CreatedAt: time.Date(2025, time.March, 17, 9, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestStore_CreateAndGetAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedAccount(t, store, "alice", 40)

	acct, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(40), acct.Balance)
	assert.Equal(t, 1, acct.TokenCount(core.GenreMystery))
	assert.Equal(t, 0, acct.TokenCount(core.GenreHorror))

	err = store.CreateAccount(ctx, core.Account{ID: "alice"})
	assert.ErrorIs(t, err, core.ErrDuplicateAccount)

	_, err = store.GetAccount(ctx, "nobody")
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
}

func TestStore_AdjustBalance_NeverNegative(t *testing.T) {
	// GIVEN: Account with 20 points
	// WHEN: Debiting 30
	// THEN: InsufficientFundsError, balance unchanged

	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "alice", 20)

	_, err := store.AdjustBalance(ctx, "alice", -30)
	var insufficient *core.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(20), insufficient.Balance)
	assert.Equal(t, int64(30), insufficient.Required)

	bal, err := store.AdjustBalance(ctx, "alice", -20)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	_, err = store.AdjustBalance(ctx, "nobody", 5)
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
}

func TestStore_CompareAndSetTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "alice", 0)

	// stale expectation
	err := store.CompareAndSetTokens(ctx, "alice", core.GenreMystery, 3, 2)
	assert.ErrorIs(t, err, core.ErrTokenConflict)

	require.NoError(t, store.CompareAndSetTokens(ctx, "alice", core.GenreMystery, 1, 0))

	// absent row counts as zero
	require.NoError(t, store.CompareAndSetTokens(ctx, "alice", core.GenreHorror, 0, 2))

	acct, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, acct.TokenCount(core.GenreMystery))
	assert.Equal(t, 2, acct.TokenCount(core.GenreHorror))

	err = store.CompareAndSetTokens(ctx, "alice", core.GenreMystery, 0, -1)
	assert.ErrorIs(t, err, core.ErrInsufficientTokens)
}

// =============================================================================
// CONTENT, GRANTS, SNAPSHOTS
// =============================================================================

func TestStore_ContentUniquePerPeriod(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "owner", 0)

	item := testItem("owner", "c-1")
	require.NoError(t, store.InsertContent(ctx, item))

	dup := testItem("owner", "c-2")
	assert.ErrorIs(t, store.InsertContent(ctx, dup), core.ErrDuplicateContent)

	got, err := store.GetContentByPeriod(ctx, "owner", item.Period)
	require.NoError(t, err)
	assert.Equal(t, item.Payload, got.Payload)
	assert.Equal(t, core.StateLive, got.State)

	_, err = store.GetContent(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrContentNotFound)
}

func TestStore_ContentStateAndReaderCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "owner", 0)
	require.NoError(t, store.InsertContent(ctx, testItem("owner", "c-1")))

	require.NoError(t, store.SetContentState(ctx, "c-1", core.StateDeleted))
	n, err := store.IncrementReaderCount(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	item, err := store.GetContent(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, item.Deleted())
	assert.Equal(t, int64(1), item.ReaderCount)

	assert.ErrorIs(t, store.SetContentState(ctx, "missing", core.StatePrivate), core.ErrContentNotFound)
}

func TestStore_GrantAndSnapshotWrittenOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "owner", 0)
	item := testItem("owner", "c-1")
	require.NoError(t, store.InsertContent(ctx, item))

	now := time.Date(2025, time.March, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertGrant(ctx, core.Grant{ReaderID: "bob", ContentID: "c-1", GrantedAt: now}))
	assert.ErrorIs(t, store.InsertGrant(ctx, core.Grant{ReaderID: "bob", ContentID: "c-1", GrantedAt: now}),
		core.ErrDuplicateGrant)

	g, ok, err := store.GetGrant(ctx, "bob", "c-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, now.Equal(g.GrantedAt))

	_, ok, err = store.GetGrant(ctx, "carol", "c-1")
	require.NoError(t, err)
	assert.False(t, ok)

	snap := core.SnapshotOf("bob", item, now)
	require.NoError(t, store.InsertSnapshot(ctx, snap))
	assert.ErrorIs(t, store.InsertSnapshot(ctx, snap), core.ErrDuplicateSnapshot)

	got, ok, err := store.GetSnapshot(ctx, "bob", "c-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, item.Payload, got.Payload)
	assert.Equal(t, item.Period, got.Period)

	count, err := store.CountGrants(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// =============================================================================
// LEDGER & DAILY RECORDS
// =============================================================================

func TestStore_LedgerIdempotencyKeyUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "alice", 0)

	entry := core.LedgerEntry{
		AccountID:      "alice",
		Direction:      core.DirectionEarn,
		Amount:         10,
		Descriptor:     core.DescDailyActivityReward,
		Reference:      "2025-03-17",
		IdempotencyKey: "daily-activity-reward:alice:2025-03-17",
	}

	err := store.WithTx(ctx, func(tx core.Tx) error {
		_, err := core.Post(ctx, tx, entry)
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx core.Tx) error {
		_, err := core.Post(ctx, tx, entry)
		return err
	})
	assert.ErrorIs(t, err, core.ErrDuplicateIdempotencyKey)

	acct, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.Balance, "duplicate must not credit twice")

	exists, err := store.EntryExists(ctx, entry.IdempotencyKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_ListEntries_NewestFirstAndFiltered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "alice", 100)

	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	for i, d := range []core.Descriptor{core.DescDailyActivityReward, core.DescContentPurchaseSpend, core.DescDailyActivityReward} {
		dir := core.DirectionEarn
		if d == core.DescContentPurchaseSpend {
			dir = core.DirectionSpend
		}
		require.NoError(t, store.AppendEntry(ctx, core.LedgerEntry{
			ID:         core.NewEntryID(),
			AccountID:  "alice",
			Direction:  dir,
			Amount:     int64(10 * (i + 1)),
			Descriptor: d,
			CreatedAt:  base.AddDate(0, 0, i),
		}))
	}

	all, err := store.ListEntries(ctx, "alice", core.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(30), all[0].Amount)
	assert.Equal(t, int64(10), all[2].Amount)

	day := core.NewDate(2025, time.March, 12)
	daily, err := store.ListEntries(ctx, "alice", core.EntryFilter{
		Descriptor: core.DescDailyActivityReward,
		From:       &day,
		To:         &day,
	})
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, int64(30), daily[0].Amount)

	limited, err := store.ListEntries(ctx, "alice", core.EntryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_DailyRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	monday := core.NewDate(2025, time.March, 10)

	created, err := store.PutDailyRecord(ctx, core.DailyRecord{AccountID: "alice", Date: monday, CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.PutDailyRecord(ctx, core.DailyRecord{AccountID: "alice", Date: monday, CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, created, "edit of an existing day is not a creation")

	_, err = store.PutDailyRecord(ctx, core.DailyRecord{AccountID: "alice", Date: monday.AddDays(3), CreatedAt: time.Now()})
	require.NoError(t, err)

	records, err := store.ListDailyRecords(ctx, "alice", monday, monday.AddDays(6))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Date.Equal(monday))

	deleted, err := store.DeleteDailyRecord(ctx, "alice", monday)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.DeleteDailyRecord(ctx, "alice", monday)
	require.NoError(t, err)
	assert.False(t, deleted)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A unit of work that debits then fails
	// WHEN: WithTx returns the error
	// THEN: The debit and its entry are not visible

	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "alice", 50)
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx core.Tx) error {
		if _, err := core.Post(ctx, tx, core.LedgerEntry{
			AccountID:  "alice",
			Direction:  core.DirectionSpend,
			Amount:     30,
			Descriptor: core.DescContentPurchaseSpend,
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	acct, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), acct.Balance)

	entries, err := store.ListEntries(ctx, "alice", core.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_WithTx_ConcurrentTokenConsumption(t *testing.T) {
	// GIVEN: One mystery token
	// WHEN: Ten goroutines try to consume it
	// THEN: Exactly one succeeds

	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "alice", 0)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithTx(ctx, func(tx core.Tx) error {
				acct, err := tx.GetAccount(ctx, "alice")
				if err != nil {
					return err
				}
				n := acct.TokenCount(core.GenreMystery)
				if n == 0 {
					return core.ErrInsufficientTokens
				}
				return tx.CompareAndSetTokens(ctx, "alice", core.GenreMystery, n, n-1)
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func busy() error {
	return sqlite3.Error{Code: sqlite3.ErrBusy}
}

func TestStore_WithTx_BusyExhaustsAttempts(t *testing.T) {
	// GIVEN: A database that is busy on every BEGIN
	// WHEN: Running a unit of work with 3 attempts
	// THEN: ErrAborted after exactly 3 attempts, fn never runs

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var retries []int
	store := sqlite.NewWithDB(db, sqlite.Options{
		MaxAttempts: 3,
		Backoff:     -1,
		OnRetry:     func(attempt int, _ error) { retries = append(retries, attempt) },
	})

	for i := 0; i < 3; i++ {
		mock.ExpectBegin().WillReturnError(busy())
	}

	ran := false
	err = store.WithTx(context.Background(), func(core.Tx) error {
		ran = true
		return nil
	})

	assert.ErrorIs(t, err, core.ErrAborted)
	var aborted *core.AbortedError
	require.ErrorAs(t, err, &aborted)
	assert.Equal(t, 3, aborted.Attempts)
	assert.False(t, ran)
	assert.Equal(t, []int{1, 2, 3}, retries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithTx_BusyThenSucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := sqlite.NewWithDB(db, sqlite.Options{MaxAttempts: 3, Backoff: -1})

	mock.ExpectBegin().WillReturnError(busy())
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("k-1").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectCommit()

	var exists bool
	err = store.WithTx(context.Background(), func(tx core.Tx) error {
		var err error
		exists, err = tx.EntryExists(context.Background(), "k-1")
		return err
	})

	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithTx_CommitFailureAborts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := sqlite.NewWithDB(db, sqlite.Options{MaxAttempts: 2, Backoff: -1})

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	err = store.WithTx(context.Background(), func(core.Tx) error { return nil })
	assert.ErrorIs(t, err, core.ErrAborted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// COLLABORATORS
// =============================================================================

func TestStore_LinksAreSymmetric(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Link(ctx, "alice", "bob"))
	require.NoError(t, store.Link(ctx, "bob", "alice"), "relinking is a no-op")

	linked, err := store.AreLinked(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, linked)

	linked, err = store.AreLinked(ctx, "alice", "carol")
	require.NoError(t, err)
	assert.False(t, linked)

	assert.ErrorIs(t, store.Link(ctx, "alice", "alice"), core.ErrInvalidInput)
}

func TestStore_PolicyDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v, err := store.PolicyInt(ctx, "daily_activity_reward", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	require.NoError(t, store.SetPolicy(ctx, "daily_activity_reward", 25))
	require.NoError(t, store.SetPolicy(ctx, "daily_activity_reward", 20))

	v, err = store.PolicyInt(ctx, "daily_activity_reward", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(20), v)
}

func TestStore_Notifications(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertNotification(ctx, core.Notification{
		ID: "n-1", AccountID: "alice", Kind: core.NotifyPointsEarned,
		Payload: map[string]string{"amount": "15"}, CreatedAt: base,
	}))
	require.NoError(t, store.InsertNotification(ctx, core.Notification{
		ID: "n-2", AccountID: "alice", Kind: core.NotifyContentPurchased,
		Payload: map[string]string{"content_id": "c-1"}, CreatedAt: base.Add(time.Minute),
	}))

	list, err := store.ListNotifications(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n-2", list[0].ID)
	assert.Equal(t, "c-1", list[0].Payload["content_id"])
	assert.False(t, list[0].Read)

	require.NoError(t, store.MarkNotificationRead(ctx, "alice", "n-1"))
	assert.ErrorIs(t, store.MarkNotificationRead(ctx, "bob", "n-1"), core.ErrNotificationNotFound)

	list, err = store.ListNotifications(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "n-2", list[0].ID)
}
