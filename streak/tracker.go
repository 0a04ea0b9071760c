/*
Package streak derives weekly journaling completion from daily records.

PURPOSE:
  A week is the Monday-start window of seven calendar days. Its completion
  ratio is written days / 7. The ratio gates content generation (only a
  complete week can be converted) and the weekly streak bonus.

SIGNALS:
  OnDailyRecordCreated only produces a signal for the first creation of the
  record for the account's today. Edits of an existing day and backdated
  writes produce nothing.

  Nothing here is persisted; windows are computed on demand.
*/
package streak

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/story-ledger/core"
)

var daysPerWeek = decimal.NewFromInt(7)

// Store is the read side the tracker needs.
type Store interface {
	ListDailyRecords(ctx context.Context, account core.AccountID, from, to core.Date) ([]core.DailyRecord, error)
	EntryExists(ctx context.Context, idempotencyKey string) (bool, error)
}

// Completion is the state of one weekly window for one account.
type Completion struct {
	Window  core.WeekWindow
	Days    [7]bool // Monday first
	Written int
	Ratio   decimal.Decimal
}

func (c Completion) ID() core.WindowID { return c.Window.ID() }

// Complete reports whether every day of the window has a record.
func (c Completion) Complete() bool { return c.Ratio.Equal(decimal.NewFromInt(1)) }

// Signal is emitted when today's record is first created.
type Signal struct {
	Completion
	Date core.Date
}

// Status is the read-only weekly view, including whether the bonus for the
// window was already paid.
type Status struct {
	Completion
	BonusReceived bool
}

// Tracker is the StreakTracker.
type Tracker struct {
	Store    Store
	Calendar core.Calendar
}

func NewTracker(store Store, cal core.Calendar) *Tracker {
	return &Tracker{Store: store, Calendar: cal}
}

// OnDailyRecordCreated evaluates the week containing date. ok is false when
// no signal applies because date is not the account's today.
func (t *Tracker) OnDailyRecordCreated(ctx context.Context, acct core.Account, date core.Date) (sig Signal, ok bool, err error) {
	if !date.Equal(t.Calendar.Today(acct)) {
		return Signal{}, false, nil
	}
	c, err := t.Completion(ctx, acct.ID, core.WindowOf(date))
	if err != nil {
		return Signal{}, false, err
	}
	return Signal{Completion: c, Date: date}, true, nil
}

// Completion counts the records of account inside w.
func (t *Tracker) Completion(ctx context.Context, account core.AccountID, w core.WeekWindow) (Completion, error) {
	records, err := t.Store.ListDailyRecords(ctx, account, w.Start, w.End())
	if err != nil {
		return Completion{}, fmt.Errorf("list daily records for %s: %w", w.ID(), err)
	}

	c := Completion{Window: w}
	for _, r := range records {
		if !w.Contains(r.Date) {
			continue
		}
		i := int(r.Date.Time.Sub(w.Start.Time).Hours() / 24)
		if !c.Days[i] {
			c.Days[i] = true
			c.Written++
		}
	}
	c.Ratio = decimal.NewFromInt(int64(c.Written)).Div(daysPerWeek)
	return c, nil
}

// CanGenerate is the generation predicate: true only for a complete window.
func (t *Tracker) CanGenerate(ctx context.Context, account core.AccountID, id core.WindowID) (bool, error) {
	c, err := t.Completion(ctx, account, id.Window())
	if err != nil {
		return false, err
	}
	return c.Complete(), nil
}

// WeekStatus returns the window containing date with its bonus flag.
func (t *Tracker) WeekStatus(ctx context.Context, account core.AccountID, date core.Date) (Status, error) {
	c, err := t.Completion(ctx, account, core.WindowOf(date))
	if err != nil {
		return Status{}, err
	}
	paid, err := t.Store.EntryExists(ctx, core.IdempotencyKey(core.DescWeeklyStreakBonus, account, c.ID().String()))
	if err != nil {
		return Status{}, fmt.Errorf("check weekly bonus for %s: %w", c.ID(), err)
	}
	return Status{Completion: c, BonusReceived: paid}, nil
}
