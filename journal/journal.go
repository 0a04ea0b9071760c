/*
Package journal turns journal saves into daily records and rewards.

FLOW (RecordEntry):
  1. Put the DailyRecord for (account, date). Edits of an existing day are
     not creations and stop here.
  2. On first creation, ask the streak tracker for a signal. Only today's
     date produces one.
  3. With a signal: award the daily reward, then the weekly bonus when the
     signal says the week is complete.

  Reward failures become warnings on the outcome; the save itself has
  already succeeded and is never undone by them.
*/
package journal

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/warp/story-ledger/core"
	"github.com/warp/story-ledger/rewards"
	"github.com/warp/story-ledger/streak"
)

// Awarder is the reward side; satisfied by *rewards.Awarder.
type Awarder interface {
	AwardDailyIfEligible(ctx context.Context, account core.AccountID, date core.Date) (rewards.Award, error)
	AwardWeeklyBonusIfEligible(ctx context.Context, account core.AccountID, id core.WindowID) (rewards.Award, error)
}

// Signaler is the streak side; satisfied by *streak.Tracker.
type Signaler interface {
	OnDailyRecordCreated(ctx context.Context, acct core.Account, date core.Date) (streak.Signal, bool, error)
}

// Outcome reports what a journal save triggered.
type Outcome struct {
	Created  bool
	Signal   *streak.Signal
	Daily    *rewards.Award
	Weekly   *rewards.Award
	Warnings []string
}

type Service struct {
	Store    core.Store
	Streaks  Signaler
	Rewards  Awarder
	Calendar core.Calendar
	Logger   logrus.FieldLogger
}

// RecordEntry registers that a journal entry for date was saved.
func (s *Service) RecordEntry(ctx context.Context, account core.AccountID, date core.Date) (Outcome, error) {
	acct, err := s.Store.GetAccount(ctx, account)
	if err != nil {
		return Outcome{}, err
	}
	if date.After(s.Calendar.Today(acct)) {
		return Outcome{}, fmt.Errorf("%w: journal date %s is in the future", core.ErrInvalidInput, date)
	}

	created, err := s.Store.PutDailyRecord(ctx, core.DailyRecord{
		AccountID: account,
		Date:      date,
		CreatedAt: s.Calendar.Now().UTC(),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("save daily record: %w", err)
	}
	out := Outcome{Created: created}
	if !created {
		return out, nil
	}

	log := s.logger().WithFields(logrus.Fields{"account_id": account, "date": date.String()})

	sig, ok, err := s.Streaks.OnDailyRecordCreated(ctx, acct, date)
	if err != nil {
		out.warn(log, "streak evaluation failed", err)
		return out, nil
	}
	if !ok {
		return out, nil
	}
	out.Signal = &sig

	daily, err := s.Rewards.AwardDailyIfEligible(ctx, account, date)
	if err != nil {
		out.warn(log, "daily reward failed", err)
	} else {
		out.Daily = &daily
	}

	if sig.Complete() {
		weekly, err := s.Rewards.AwardWeeklyBonusIfEligible(ctx, account, sig.ID())
		if err != nil {
			out.warn(log.WithField("window", sig.ID().String()), "weekly bonus failed", err)
		} else {
			out.Weekly = &weekly
		}
	}
	return out, nil
}

// DeleteEntry removes the DailyRecord when the journal entry itself is
// deleted. Rewards already granted stay.
func (s *Service) DeleteEntry(ctx context.Context, account core.AccountID, date core.Date) (bool, error) {
	deleted, err := s.Store.DeleteDailyRecord(ctx, account, date)
	if err != nil {
		return false, fmt.Errorf("delete daily record: %w", err)
	}
	if deleted {
		s.logger().WithFields(logrus.Fields{"account_id": account, "date": date.String()}).Info("daily record deleted")
	}
	return deleted, nil
}

func (o *Outcome) warn(log logrus.FieldLogger, msg string, err error) {
	log.WithError(err).Warn(msg)
	o.Warnings = append(o.Warnings, fmt.Sprintf("%s: %v", msg, err))
}

func (s *Service) logger() logrus.FieldLogger {
	if s.Logger != nil {
		return s.Logger
	}
	l := logrus.New()
	l.Out = io.Discard
	return l
}
