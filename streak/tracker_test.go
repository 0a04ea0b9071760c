package streak_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/story-ledger/core"
	"github.com/warp/story-ledger/core/store"
	"github.com/warp/story-ledger/streak"
)

// Monday 2025-03-10 .. Sunday 2025-03-16 is window 2025-03-w2.
var monday = core.NewDate(2025, time.March, 10)

func newTracker(mem *store.Memory, today core.Date) *streak.Tracker {
	noon := today.Time.Add(12 * time.Hour)
	return streak.NewTracker(mem, core.Calendar{Clock: core.FixedClock(noon), DefaultLocation: time.UTC})
}

func write(t *testing.T, mem *store.Memory, days ...core.Date) {
	t.Helper()
	for _, d := range days {
		_, err := mem.PutDailyRecord(context.Background(), core.DailyRecord{AccountID: "alice", Date: d})
		require.NoError(t, err)
	}
}

func TestCompletion_Ratio(t *testing.T) {
	tests := []struct {
		name     string
		written  []int // offsets from Monday
		want     int
		complete bool
	}{
		{"empty week", nil, 0, false},
		{"three days", []int{0, 2, 4}, 3, false},
		{"six days", []int{0, 1, 2, 3, 4, 5}, 6, false},
		{"all seven", []int{0, 1, 2, 3, 4, 5, 6}, 7, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			for _, off := range tt.written {
				write(t, mem, monday.AddDays(off))
			}
			// records just outside the window never count
			write(t, mem, monday.AddDays(-1), monday.AddDays(7))

			c, err := newTracker(mem, monday).Completion(context.Background(), "alice", core.WindowOf(monday))
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Written)
			assert.True(t, c.Ratio.Equal(decimal.NewFromInt(int64(tt.want)).Div(decimal.NewFromInt(7))))
			assert.Equal(t, tt.complete, c.Complete())
			assert.Equal(t, "2025-03-w2", c.ID().String())
		})
	}
}

func TestOnDailyRecordCreated_OnlyForToday(t *testing.T) {
	// GIVEN: Today is Wednesday
	// WHEN: A record is created for Wednesday, then one for Monday
	// THEN: Only the Wednesday write yields a signal

	mem := store.NewMemory()
	wednesday := monday.AddDays(2)
	tracker := newTracker(mem, wednesday)
	ctx := context.Background()
	alice := core.Account{ID: "alice"}

	write(t, mem, wednesday)
	sig, ok, err := tracker.OnDailyRecordCreated(ctx, alice, wednesday)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, sig.Written)
	assert.False(t, sig.Complete())

	write(t, mem, monday)
	_, ok, err = tracker.OnDailyRecordCreated(ctx, alice, monday)
	require.NoError(t, err)
	assert.False(t, ok, "backdated writes produce no signal")
}

func TestOnDailyRecordCreated_TodayInAccountZone(t *testing.T) {
	// 2025-03-16 23:30 UTC is Monday 2025-03-17 in Seoul
	mem := store.NewMemory()
	instant := time.Date(2025, time.March, 16, 23, 30, 0, 0, time.UTC)
	tracker := streak.NewTracker(mem, core.Calendar{Clock: core.FixedClock(instant)})
	seoul := core.Account{ID: "alice", TimeZone: "Asia/Seoul"}

	_, ok, err := tracker.OnDailyRecordCreated(context.Background(), seoul, core.NewDate(2025, time.March, 17))
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = tracker.OnDailyRecordCreated(context.Background(), seoul, core.NewDate(2025, time.March, 16))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanGenerate(t *testing.T) {
	mem := store.NewMemory()
	tracker := newTracker(mem, monday.AddDays(6))
	ctx := context.Background()
	id := core.WindowOf(monday).ID()

	for i := 0; i < 6; i++ {
		write(t, mem, monday.AddDays(i))
	}
	ok, err := tracker.CanGenerate(ctx, "alice", id)
	require.NoError(t, err)
	assert.False(t, ok)

	write(t, mem, monday.AddDays(6))
	ok, err = tracker.CanGenerate(ctx, "alice", id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWeekStatus_BonusFlag(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	tracker := newTracker(mem, monday)
	write(t, mem, monday, monday.AddDays(3))

	status, err := tracker.WeekStatus(ctx, "alice", monday.AddDays(4))
	require.NoError(t, err)
	assert.Equal(t, [7]bool{true, false, false, true, false, false, false}, status.Days)
	assert.False(t, status.BonusReceived)

	require.NoError(t, mem.CreateAccount(ctx, core.Account{ID: "alice"}))
	require.NoError(t, mem.WithTx(ctx, func(tx core.Tx) error {
		_, err := core.Post(ctx, tx, core.LedgerEntry{
			AccountID:      "alice",
			Direction:      core.DirectionEarn,
			Amount:         50,
			Descriptor:     core.DescWeeklyStreakBonus,
			Reference:      "2025-03-w2",
			IdempotencyKey: core.IdempotencyKey(core.DescWeeklyStreakBonus, "alice", "2025-03-w2"),
		})
		return err
	}))

	status, err = tracker.WeekStatus(ctx, "alice", monday)
	require.NoError(t, err)
	assert.True(t, status.BonusReceived)
}
