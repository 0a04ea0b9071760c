package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/story-ledger/core"
	"github.com/warp/story-ledger/core/store"
)

func TestMemory_WithTx_RollbackRestoresEverything(t *testing.T) {
	// GIVEN: An account, an item and a failing unit of work that touches both
	// WHEN: The unit returns an error
	// THEN: Balance, grant, snapshot, counter and entries are as before

	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.CreateAccount(ctx, core.Account{ID: "reader", Balance: 30}))
	item := core.ContentItem{
		ID: "c-1", OwnerID: "owner", State: core.StateLive,
		Period: core.PeriodKey{Year: 2025, Month: time.March, WeekIndex: 2, Genre: core.GenreRomance},
	}
	require.NoError(t, mem.InsertContent(ctx, item))

	boom := errors.New("boom")
	err := mem.WithTx(ctx, func(tx core.Tx) error {
		if _, err := core.Post(ctx, tx, core.LedgerEntry{
			AccountID: "reader", Direction: core.DirectionSpend, Amount: 30,
			Descriptor: core.DescContentPurchaseSpend, IdempotencyKey: "k",
		}); err != nil {
			return err
		}
		if err := tx.InsertGrant(ctx, core.Grant{ReaderID: "reader", ContentID: "c-1"}); err != nil {
			return err
		}
		if err := tx.InsertSnapshot(ctx, core.SnapshotOf("reader", item, time.Now())); err != nil {
			return err
		}
		if _, err := tx.IncrementReaderCount(ctx, "c-1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	acct, err := mem.GetAccount(ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, int64(30), acct.Balance)

	_, ok, err := mem.GetGrant(ctx, "reader", "c-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = mem.GetSnapshot(ctx, "reader", "c-1")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := mem.GetContent(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.ReaderCount)

	exists, err := mem.EntryExists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemory_WithTx_CancelledContext(t *testing.T) {
	mem := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := mem.WithTx(ctx, func(core.Tx) error { ran = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestMemory_AccountsAreNotAliased(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	tokens := map[core.Genre]int{core.GenreHorror: 2}
	require.NoError(t, mem.CreateAccount(ctx, core.Account{ID: "alice", Tokens: tokens}))

	tokens[core.GenreHorror] = 99
	acct, err := mem.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, acct.TokenCount(core.GenreHorror))

	acct.Tokens[core.GenreHorror] = 0
	again, err := mem.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, again.TokenCount(core.GenreHorror))
}

func TestMemory_DailyRecordsAndEntriesOrdered(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	monday := core.NewDate(2025, time.March, 10)

	for _, d := range []core.Date{monday.AddDays(2), monday, monday.AddDays(1)} {
		created, err := mem.PutDailyRecord(ctx, core.DailyRecord{AccountID: "alice", Date: d})
		require.NoError(t, err)
		assert.True(t, created)
	}
	created, err := mem.PutDailyRecord(ctx, core.DailyRecord{AccountID: "alice", Date: monday})
	require.NoError(t, err)
	assert.False(t, created)

	records, err := mem.ListDailyRecords(ctx, "alice", monday, monday.AddDays(6))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, monday.String(), records[0].Date.String())
	assert.Equal(t, monday.AddDays(2).String(), records[2].Date.String())
}

func TestMemory_Collaborators(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Link(ctx, "alice", "bob"))
	linked, err := mem.AreLinked(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, linked)
	assert.ErrorIs(t, mem.Link(ctx, "alice", "alice"), core.ErrInvalidInput)

	v, err := mem.PolicyInt(ctx, "weekly_streak_bonus", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), v)
	require.NoError(t, mem.SetPolicy(ctx, "weekly_streak_bonus", 70))
	v, err = mem.PolicyInt(ctx, "weekly_streak_bonus", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(70), v)

	require.NoError(t, mem.InsertNotification(ctx, core.Notification{ID: "n-1", AccountID: "alice"}))
	require.NoError(t, mem.InsertNotification(ctx, core.Notification{ID: "n-2", AccountID: "alice"}))
	list, err := mem.ListNotifications(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n-2", list[0].ID)

	require.NoError(t, mem.MarkNotificationRead(ctx, "alice", "n-1"))
	assert.ErrorIs(t, mem.MarkNotificationRead(ctx, "alice", "n-9"), core.ErrNotificationNotFound)
}
