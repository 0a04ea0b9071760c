/*
settlement.go - Pay-per-read settlement

PURPOSE:
  Moves points from a reader to a content owner exactly once per
  (reader, item) and issues the Grant that proves the purchase.

ONE UNIT OF WORK:
  Everything below runs inside a single Store.WithTx call:
    1. Re-read Grant(reader, item). Present: AlreadyGranted, nothing written.
    2. Re-read the item. Deleted or Private: fail, nothing written.
    3. Read reader balance. Below FEE: InsufficientFunds, nothing written.
    4. Post spend(reader, FEE), earn(owner, EARNING), margin(platform).
    5. Insert Grant(reader, item).
    6. Increment the item's reader counter.
    7. Insert Snapshot(reader, item) = copy of the payload.
  A busy store restarts the whole unit; exhausting the retries surfaces as
  core.ErrAborted with nothing written.

OUTCOMES VS ERRORS:
  AlreadyGranted and InsufficientFunds are outcomes (nil error). Errors are
  reserved for lifecycle races (deleted/private after the caller checked),
  missing rows and transaction-layer failures.
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/story-ledger/core"
	"github.com/warp/story-ledger/metrics"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the settlement amounts.
type Config struct {
	Fee          int64 // debited from the reader
	Earning      int64 // credited to the owner; Fee - Earning is the platform margin
	RecordMargin bool  // append a platform-margin ledger line
}

func DefaultConfig() Config {
	return Config{Fee: 30, Earning: 15, RecordMargin: true}
}

func (c Config) Validate() error {
	if c.Fee <= 0 || c.Earning <= 0 {
		return fmt.Errorf("%w: fee and earning must be positive", core.ErrInvalidInput)
	}
	if c.Earning >= c.Fee {
		return fmt.Errorf("%w: earning %d must be below fee %d", core.ErrInvalidInput, c.Earning, c.Fee)
	}
	return nil
}

// Margin is the part of the fee kept by the platform.
func (c Config) Margin() int64 { return c.Fee - c.Earning }

// =============================================================================
// OUTCOMES
// =============================================================================

type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeAlreadyGranted    Outcome = "already_granted"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
)

// Result describes a completed purchase attempt.
type Result struct {
	Outcome       Outcome
	Item          core.ContentItem // as read inside the unit of work
	Grant         core.Grant       // set for OK and AlreadyGranted
	Entries       []core.LedgerEntry
	ReaderBalance int64
	OwnerBalance  int64 // only set for OK
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the SettlementEngine.
type Engine struct {
	Store  core.Store
	Config Config
	Clock  core.Clock
	Logger logrus.FieldLogger
}

func NewEngine(store core.Store, cfg Config, logger logrus.FieldLogger) *Engine {
	return &Engine{Store: store, Config: cfg, Clock: core.SystemClock, Logger: orDiscard(logger)}
}

// Purchase settles reader's purchase of item.
func (e *Engine) Purchase(ctx context.Context, reader core.AccountID, itemID core.ContentID) (Result, error) {
	log := e.logger().WithFields(logrus.Fields{"reader_id": reader, "content_id": itemID})

	var res Result
	err := e.Store.WithTx(ctx, func(tx core.Tx) error {
		// A retried unit must not carry state from the failed attempt.
		res = Result{}
		return e.settle(ctx, tx, reader, itemID, &res)
	})
	if err != nil {
		outcome := failureOutcome(err)
		metrics.Purchases.WithLabelValues(outcome).Inc()
		if errors.Is(err, core.ErrAborted) {
			log.WithError(err).Error("purchase aborted")
		} else {
			log.WithError(err).WithField("outcome", outcome).Info("purchase refused")
		}
		return Result{}, err
	}

	metrics.Purchases.WithLabelValues(string(res.Outcome)).Inc()
	for _, entry := range res.Entries {
		metrics.PointsMoved.WithLabelValues(string(entry.Descriptor)).Add(float64(entry.Amount))
	}
	log.WithFields(logrus.Fields{
		"owner_id": res.Item.OwnerID,
		"outcome":  res.Outcome,
		"balance":  res.ReaderBalance,
	}).Info("purchase settled")
	return res, nil
}

func (e *Engine) settle(ctx context.Context, tx core.Tx, reader core.AccountID, itemID core.ContentID, res *Result) error {
	// Postings against the platform account skip the balance, so it can never pay.
	if reader == core.PlatformAccountID {
		return fmt.Errorf("%w: %s cannot purchase", core.ErrInvalidInput, reader)
	}

	// 1. Grant re-check
	grant, ok, err := tx.GetGrant(ctx, reader, itemID)
	if err != nil {
		return err
	}
	item, err := tx.GetContent(ctx, itemID)
	if err != nil {
		return err
	}
	res.Item = item
	if ok {
		res.Outcome = OutcomeAlreadyGranted
		res.Grant = grant
		return nil
	}

	// 2. Lifecycle re-check
	switch {
	case item.Deleted():
		return core.ErrContentDeleted
	case item.Private():
		return core.ErrContentPrivate
	case item.OwnerID == reader:
		return core.ErrSelfPurchase
	}

	// 3. Balance check
	acct, err := tx.GetAccount(ctx, reader)
	if err != nil {
		return err
	}
	res.ReaderBalance = acct.Balance
	if acct.Balance < e.Config.Fee {
		res.Outcome = OutcomeInsufficientFunds
		return nil
	}

	// 4. Debit, credit, margin
	now := e.now()
	scope := fmt.Sprintf("%s:%s", itemID, reader)
	spend := core.LedgerEntry{
		AccountID:      reader,
		Direction:      core.DirectionSpend,
		Amount:         e.Config.Fee,
		Descriptor:     core.DescContentPurchaseSpend,
		Reference:      string(itemID),
		IdempotencyKey: core.IdempotencyKey(core.DescContentPurchaseSpend, reader, string(itemID)),
		CreatedAt:      now,
	}
	earn := core.LedgerEntry{
		AccountID:      item.OwnerID,
		Direction:      core.DirectionEarn,
		Amount:         e.Config.Earning,
		Descriptor:     core.DescContentSaleEarning,
		Reference:      string(itemID),
		IdempotencyKey: core.IdempotencyKey(core.DescContentSaleEarning, item.OwnerID, scope),
		CreatedAt:      now,
	}
	entries := []core.LedgerEntry{spend, earn}
	if e.Config.RecordMargin && e.Config.Margin() > 0 {
		entries = append(entries, core.LedgerEntry{
			AccountID:      core.PlatformAccountID,
			Direction:      core.DirectionEarn,
			Amount:         e.Config.Margin(),
			Descriptor:     core.DescPlatformMargin,
			Reference:      string(itemID),
			IdempotencyKey: core.IdempotencyKey(core.DescPlatformMargin, core.PlatformAccountID, scope),
			CreatedAt:      now,
		})
	}
	for i := range entries {
		entries[i].ID = core.NewEntryID()
		balance, err := core.Post(ctx, tx, entries[i])
		if err != nil {
			return err
		}
		switch entries[i].AccountID {
		case reader:
			res.ReaderBalance = balance
		case item.OwnerID:
			res.OwnerBalance = balance
		}
	}

	// 5. Grant
	grant = core.Grant{ReaderID: reader, ContentID: itemID, GrantedAt: now}
	if err := tx.InsertGrant(ctx, grant); err != nil {
		return err
	}

	// 6. Reader counter
	count, err := tx.IncrementReaderCount(ctx, itemID)
	if err != nil {
		return err
	}
	item.ReaderCount = count

	// 7. Snapshot
	if err := tx.InsertSnapshot(ctx, core.SnapshotOf(reader, item, now)); err != nil {
		return err
	}

	res.Outcome = OutcomeOK
	res.Item = item
	res.Grant = grant
	res.Entries = entries
	return nil
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now().UTC()
	}
	return e.Clock.Now().UTC()
}

func (e *Engine) logger() logrus.FieldLogger {
	return orDiscard(e.Logger)
}

// failureOutcome names a failed purchase for metrics and logs.
func failureOutcome(err error) string {
	switch {
	case errors.Is(err, core.ErrAborted):
		return "aborted"
	case errors.Is(err, core.ErrContentDeleted):
		return "gone"
	case errors.Is(err, core.ErrContentPrivate):
		return "private"
	case core.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}

func orDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l != nil {
		return l
	}
	discard := logrus.New()
	discard.Out = io.Discard
	return discard
}
