package core_test

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

// =============================================================================
// WEEK WINDOWS
// =============================================================================

func TestWindowOf_MondayStart(t *testing.T) {
	tests := []struct {
		name  string
		day   core.Date
		start core.Date
	}{
		{"monday is its own start", core.NewDate(2025, time.March, 10), core.NewDate(2025, time.March, 10)},
		{"wednesday", core.NewDate(2025, time.March, 12), core.NewDate(2025, time.March, 10)},
		{"sunday belongs to the previous monday", core.NewDate(2025, time.March, 16), core.NewDate(2025, time.March, 10)},
		{"crosses month boundary", core.NewDate(2025, time.March, 2), core.NewDate(2025, time.February, 24)},
		{"crosses year boundary", core.NewDate(2025, time.January, 1), core.NewDate(2024, time.December, 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := core.WindowOf(tt.day)
			assert.Equal(t, tt.start.String(), w.Start.String())
			assert.Equal(t, time.Sunday, w.End().Weekday())
			assert.True(t, w.Contains(tt.day))
			assert.Len(t, w.Dates(), 7)
		})
	}
}

func TestWindowID_OrdinalOfMonday(t *testing.T) {
	// March 2025: Mondays are 3, 10, 17, 24, 31
	tests := []struct {
		day  core.Date
		want string
	}{
		{core.NewDate(2025, time.March, 3), "2025-03-w1"},
		{core.NewDate(2025, time.March, 16), "2025-03-w2"},
		{core.NewDate(2025, time.April, 2), "2025-03-w5"}, // week of Monday March 31
		{core.NewDate(2025, time.March, 1), "2025-02-w4"}, // week of Monday February 24
	}
	for _, tt := range tests {
		id := core.WindowOf(tt.day).ID()
		assert.Equal(t, tt.want, id.String(), tt.day.String())
		assert.Equal(t, core.WindowOf(tt.day).Start.String(), id.Start().String())
	}
}

func TestCalendar_TodayUsesAccountZone(t *testing.T) {
	// 2025-03-10 23:30 UTC is already 2025-03-11 in Seoul
	instant := time.Date(2025, time.March, 10, 23, 30, 0, 0, time.UTC)
	cal := core.Calendar{Clock: core.FixedClock(instant), DefaultLocation: time.UTC}

	assert.Equal(t, "2025-03-10", cal.Today(core.Account{}).String())
	assert.Equal(t, "2025-03-11", cal.Today(core.Account{TimeZone: "Asia/Seoul"}).String())
	assert.Equal(t, "2025-03-10", cal.Today(core.Account{TimeZone: "Not/AZone"}).String())
}

// =============================================================================
// PERIOD KEYS & STATE
// =============================================================================

func TestPeriodKey_StringRoundTrip(t *testing.T) {
	key := core.PeriodKey{Year: 2025, Month: time.March, WeekIndex: 2, Genre: core.GenreFantasy}
	assert.Equal(t, "2025-3-2-fantasy", key.String())

	parsed, err := core.ParsePeriodKey("2025-3-2-fantasy")
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
	assert.Equal(t, core.WindowID{Year: 2025, Month: time.March, Index: 2}, parsed.Window())

	for _, bad := range []string{"2025-3-2", "2025-13-2-fantasy", "2025-3-6-fantasy", "2025-3-2-western"} {
		_, err := core.ParsePeriodKey(bad)
		assert.ErrorIs(t, err, core.ErrInvalidInput, bad)
	}
}

func TestAccount_Validate(t *testing.T) {
	require.NoError(t, core.Account{ID: "alice", Balance: 500, TimeZone: "Asia/Seoul",
		Tokens: map[core.Genre]int{core.GenreRomance: 1}}.Validate())

	tests := []struct {
		name string
		acct core.Account
	}{
		{"empty id", core.Account{}},
		{"reserved platform id", core.Account{ID: core.PlatformAccountID}},
		{"negative balance", core.Account{ID: "alice", Balance: -1}},
		{"unknown genre", core.Account{ID: "alice", Tokens: map[core.Genre]int{"western": 1}}},
		{"negative tokens", core.Account{ID: "alice", Tokens: map[core.Genre]int{core.GenreHorror: -1}}},
		{"unknown time zone", core.Account{ID: "alice", TimeZone: "Mars/Olympus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.acct.Validate(), core.ErrInvalidInput)
		})
	}
}

func TestContentState_DeletedIsTerminal(t *testing.T) {
	assert.True(t, core.StateLive.CanTransition(core.StatePrivate))
	assert.True(t, core.StatePrivate.CanTransition(core.StateLive))
	assert.True(t, core.StatePrivate.CanTransition(core.StateDeleted))
	assert.False(t, core.StateDeleted.CanTransition(core.StateLive))
	assert.False(t, core.StateDeleted.CanTransition(core.StatePrivate))
	assert.False(t, core.StateLive.CanTransition("archived"))
}

func TestDenyReason_DistinctMessages(t *testing.T) {
	reasons := []core.DenyReason{
		core.DenyNotFound, core.DenyPrivate, core.DenyGone,
		core.DenyNotFriend, core.DenyInsufficientFunds, core.DenyError,
	}
	seen := make(map[string]core.DenyReason)
	for _, r := range reasons {
		msg := r.Message()
		require.NotEmpty(t, msg)
		if prev, dup := seen[msg]; dup {
			t.Errorf("%s and %s share message %q", prev, r, msg)
		}
		seen[msg] = r
	}
}

// =============================================================================
// ERRORS
// =============================================================================

func TestAbortedError_UnwrapsBoth(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&core.AbortedError{Attempts: 5, Cause: cause})

	assert.ErrorIs(t, err, core.ErrAborted)
	assert.ErrorIs(t, err, cause)
	assert.False(t, core.IsRetryable(err))
	assert.True(t, core.IsRetryable(core.ErrTokenConflict))
}

func TestInsufficientFundsError_IsClientError(t *testing.T) {
	err := error(&core.InsufficientFundsError{AccountID: "alice", Balance: 10, Required: 30})
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)
	assert.True(t, core.IsClientError(err))
	assert.Contains(t, err.Error(), "alice")
}

// =============================================================================
// POSTINGS
// =============================================================================

func TestPost_PairsEntryWithBalance(t *testing.T) {
	// GIVEN: Account with 30 points
	// WHEN: Posting a 30 point spend and a platform line
	// THEN: Balance is 0, two entries exist, the platform has no balance row

	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.CreateAccount(ctx, core.Account{ID: "reader", Balance: 30}))

	err := mem.WithTx(ctx, func(tx core.Tx) error {
		bal, err := core.Post(ctx, tx, core.LedgerEntry{
			AccountID: "reader", Direction: core.DirectionSpend, Amount: 30,
			Descriptor: core.DescContentPurchaseSpend, Reference: "c-1",
		})
		if err != nil {
			return err
		}
		assert.Equal(t, int64(0), bal)
		_, err = core.Post(ctx, tx, core.LedgerEntry{
			AccountID: core.PlatformAccountID, Direction: core.DirectionEarn, Amount: 15,
			Descriptor: core.DescPlatformMargin, Reference: "c-1",
		})
		return err
	})
	require.NoError(t, err)

	entries, err := mem.ListEntries(ctx, "reader", core.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-30), entries[0].Signed())

	_, err = mem.GetAccount(ctx, core.PlatformAccountID)
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
}

func TestPost_RejectsInvalidEntry(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	err := mem.WithTx(ctx, func(tx core.Tx) error {
		_, err := core.Post(ctx, tx, core.LedgerEntry{
			AccountID: "reader", Direction: core.DirectionEarn, Amount: 0,
			Descriptor: core.DescDailyActivityReward,
		})
		return err
	})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestIdempotencyKey_Format(t *testing.T) {
	assert.Equal(t, "weekly-streak-bonus:alice:2025-03-w2",
		core.IdempotencyKey(core.DescWeeklyStreakBonus, "alice", "2025-03-w2"))
}
