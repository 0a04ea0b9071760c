/*
Package rewards grants the daily activity reward and the weekly streak bonus.

PURPOSE:
  Credits points for journaling. Both awards are idempotent: each one carries
  a deterministic idempotency key that the ledger enforces as unique, and the
  check and the credit run in one unit of work.

KEYS:
  daily-activity-reward:<account>:<YYYY-MM-DD>
  weekly-streak-bonus:<account>:<YYYY-MM-wN>

AMOUNTS:
  Read at award time from the point policy store, falling back to the
  configured defaults:
    daily_activity_reward  default 10, multiplied for privileged accounts
    weekly_streak_bonus    default 50, never multiplied

ELIGIBILITY:
  Daily:  date must be the account's today.
  Weekly: the window must contain the account's today and be complete.

FAILURES:
  Awards are best-effort for their callers. Errors are returned so the caller
  can log them; they must never fail the journal save that triggered them.
*/
package rewards

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/warp/story-ledger/core"
	"github.com/warp/story-ledger/metrics"
	"github.com/warp/story-ledger/streak"
)

// Policy keys in the point policy store.
const (
	PolicyDailyReward = "daily_activity_reward"
	PolicyWeeklyBonus = "weekly_streak_bonus"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

type Config struct {
	DefaultDaily         int64
	DefaultWeekly        int64
	PrivilegedMultiplier int64
}

func DefaultConfig() Config {
	return Config{DefaultDaily: 10, DefaultWeekly: 50, PrivilegedMultiplier: 2}
}

func (c Config) Validate() error {
	if c.DefaultDaily <= 0 || c.DefaultWeekly <= 0 {
		return fmt.Errorf("%w: reward defaults must be positive", core.ErrInvalidInput)
	}
	if c.PrivilegedMultiplier < 1 {
		return fmt.Errorf("%w: privileged multiplier must be at least 1", core.ErrInvalidInput)
	}
	return nil
}

// =============================================================================
// RESULTS
// =============================================================================

type Result string

const (
	ResultAwarded        Result = "awarded"
	ResultAlreadyAwarded Result = "duplicate"
	ResultIneligible     Result = "ineligible"
)

type Award struct {
	Result  Result
	Entry   core.LedgerEntry // set when awarded
	Balance int64            // balance after the credit
}

// CompletionSource reports weekly completion; satisfied by *streak.Tracker.
type CompletionSource interface {
	Completion(ctx context.Context, account core.AccountID, w core.WeekWindow) (streak.Completion, error)
}

// =============================================================================
// AWARDER
// =============================================================================

// Awarder is the RewardAwarder.
type Awarder struct {
	Store    core.Store
	Policies core.PolicySource
	Streaks  CompletionSource
	Calendar core.Calendar
	Config   Config
	Notifier core.Notifier // optional
	Logger   logrus.FieldLogger
}

// AwardDailyIfEligible credits the daily activity reward for date once.
func (a *Awarder) AwardDailyIfEligible(ctx context.Context, account core.AccountID, date core.Date) (Award, error) {
	acct, err := a.Store.GetAccount(ctx, account)
	if err != nil {
		return a.failed("daily", err)
	}
	if !date.Equal(a.Calendar.Today(acct)) {
		metrics.Rewards.WithLabelValues("daily", string(ResultIneligible)).Inc()
		return Award{Result: ResultIneligible}, nil
	}

	amount := a.policy(ctx, PolicyDailyReward, a.Config.DefaultDaily)
	if acct.Privileged && a.Config.PrivilegedMultiplier > 1 {
		amount *= a.Config.PrivilegedMultiplier
	}

	return a.credit(ctx, "daily", core.LedgerEntry{
		AccountID:      account,
		Direction:      core.DirectionEarn,
		Amount:         amount,
		Descriptor:     core.DescDailyActivityReward,
		Reference:      date.String(),
		IdempotencyKey: core.IdempotencyKey(core.DescDailyActivityReward, account, date.String()),
	})
}

// AwardWeeklyBonusIfEligible credits the streak bonus for window id once,
// only while id is the account's current week and the week is complete.
func (a *Awarder) AwardWeeklyBonusIfEligible(ctx context.Context, account core.AccountID, id core.WindowID) (Award, error) {
	acct, err := a.Store.GetAccount(ctx, account)
	if err != nil {
		return a.failed("weekly", err)
	}
	if core.WindowOf(a.Calendar.Today(acct)).ID() != id {
		metrics.Rewards.WithLabelValues("weekly", string(ResultIneligible)).Inc()
		return Award{Result: ResultIneligible}, nil
	}

	c, err := a.Streaks.Completion(ctx, account, id.Window())
	if err != nil {
		return a.failed("weekly", err)
	}
	if !c.Complete() {
		metrics.Rewards.WithLabelValues("weekly", string(ResultIneligible)).Inc()
		return Award{Result: ResultIneligible}, nil
	}

	return a.credit(ctx, "weekly", core.LedgerEntry{
		AccountID:      account,
		Direction:      core.DirectionEarn,
		Amount:         a.policy(ctx, PolicyWeeklyBonus, a.Config.DefaultWeekly),
		Descriptor:     core.DescWeeklyStreakBonus,
		Reference:      id.String(),
		IdempotencyKey: core.IdempotencyKey(core.DescWeeklyStreakBonus, account, id.String()),
	})
}

// credit posts e once. The key check and the posting share one unit of work,
// and the unique key catches anything that slips between them.
func (a *Awarder) credit(ctx context.Context, kind string, e core.LedgerEntry) (Award, error) {
	log := a.logger().WithFields(logrus.Fields{
		"account_id": e.AccountID,
		"descriptor": e.Descriptor,
		"reference":  e.Reference,
	})

	var award Award
	err := a.Store.WithTx(ctx, func(tx core.Tx) error {
		award = Award{}
		exists, err := tx.EntryExists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			award.Result = ResultAlreadyAwarded
			return nil
		}
		e.ID = core.NewEntryID()
		e.CreatedAt = a.Calendar.Now().UTC()
		balance, err := core.Post(ctx, tx, e)
		if err != nil {
			return err
		}
		award = Award{Result: ResultAwarded, Entry: e, Balance: balance}
		return nil
	})
	if errors.Is(err, core.ErrDuplicateIdempotencyKey) {
		award, err = Award{Result: ResultAlreadyAwarded}, nil
	}
	if err != nil {
		return a.failed(kind, err)
	}

	metrics.Rewards.WithLabelValues(kind, string(award.Result)).Inc()
	if award.Result != ResultAwarded {
		log.Debug("reward already granted")
		return award, nil
	}

	metrics.PointsMoved.WithLabelValues(string(e.Descriptor)).Add(float64(e.Amount))
	log.WithFields(logrus.Fields{"amount": e.Amount, "balance": award.Balance}).Info("reward granted")
	a.notify(ctx, award.Entry)
	return award, nil
}

func (a *Awarder) policy(ctx context.Context, key string, def int64) int64 {
	if a.Policies == nil {
		return def
	}
	v, err := a.Policies.PolicyInt(ctx, key, def)
	if err != nil {
		a.logger().WithError(err).WithField("policy", key).Warn("point policy unavailable, using default")
		return def
	}
	if v <= 0 {
		return def
	}
	return v
}

func (a *Awarder) notify(ctx context.Context, e core.LedgerEntry) {
	if a.Notifier == nil {
		return
	}
	err := a.Notifier.Notify(ctx, e.AccountID, core.NotifyPointsEarned, map[string]string{
		"amount":     strconv.FormatInt(e.Amount, 10),
		"descriptor": string(e.Descriptor),
		"reference":  e.Reference,
	})
	if err != nil {
		metrics.NotificationFailures.WithLabelValues(string(core.NotifyPointsEarned)).Inc()
		a.logger().WithError(err).WithField("account_id", e.AccountID).Warn("reward notification failed")
	}
}

func (a *Awarder) failed(kind string, err error) (Award, error) {
	metrics.Rewards.WithLabelValues(kind, "failed").Inc()
	return Award{}, fmt.Errorf("%s reward: %w", kind, err)
}

func (a *Awarder) logger() logrus.FieldLogger {
	if a.Logger != nil {
		return a.Logger
	}
	l := logrus.New()
	l.Out = io.Discard
	return l
}
