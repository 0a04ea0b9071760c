/*
resolver.go - Read-access decisions

PURPOSE:
  Decides whether an identity may read a content item and, when access has
  to be bought, hands off to the settlement engine.

DECISION ORDER:
  1. Item missing                          -> Denied(not_found)
  2. Reader is the owner                   -> Owner (live payload, reader count)
  3. Grant exists                          -> Granted (snapshot if deleted, else live)
  4. No grant:
       deleted                             -> Denied(gone)
       private                             -> Denied(private)
       not linked to the owner             -> Denied(not_friend)
       purchase ok                         -> Granted(live), owner notified
       purchase short of funds             -> Denied(insufficient_funds)
       anything else                       -> Denied(error), nothing written

  A Grant is the only thing that ever unlocks a deleted or private item.

ERRORS:
  Business outcomes come back as a Decision with a nil error. A non-nil
  error is only returned next to Denied(error) for storage and
  transaction-layer failures, so the caller can log or map it.
*/
package access

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/warp/story-ledger/core"
	"github.com/warp/story-ledger/metrics"
	"github.com/warp/story-ledger/settlement"
)

// =============================================================================
// DECISION
// =============================================================================

type Kind string

const (
	KindOwner   Kind = "owner"
	KindGranted Kind = "granted"
	KindDenied  Kind = "denied"
)

// Source says which copy of the payload was served.
type Source string

const (
	SourceLive     Source = "live"
	SourceSnapshot Source = "snapshot"
)

type Decision struct {
	Kind      Kind
	ContentID core.ContentID
	OwnerID   core.AccountID
	Period    core.PeriodKey
	Source    Source
	Payload   core.Payload
	Reason    core.DenyReason // set when Kind is Denied

	ReaderCount int64 // owner view only
	Purchased   bool  // this call settled a purchase
	Balance     int64 // reader balance after a purchase or a funds denial
}

func (d Decision) Allowed() bool { return d.Kind != KindDenied }

// Message is the user-facing text for a denial.
func (d Decision) Message() string {
	if d.Kind != KindDenied {
		return ""
	}
	return d.Reason.Message()
}

func (d Decision) label() string {
	switch {
	case d.Kind == KindDenied:
		return "denied_" + string(d.Reason)
	case d.Purchased:
		return "purchased"
	case d.Kind == KindGranted:
		return "granted_" + string(d.Source)
	}
	return string(d.Kind)
}

func denied(id core.ContentID, reason core.DenyReason) Decision {
	return Decision{Kind: KindDenied, ContentID: id, Reason: reason}
}

// =============================================================================
// RESOLVER
// =============================================================================

// Reader is the read side the resolver needs from the store.
type Reader interface {
	GetContent(ctx context.Context, id core.ContentID) (core.ContentItem, error)
	GetGrant(ctx context.Context, reader core.AccountID, item core.ContentID) (core.Grant, bool, error)
	GetSnapshot(ctx context.Context, reader core.AccountID, item core.ContentID) (core.Snapshot, bool, error)
}

// Purchaser settles a purchase; satisfied by *settlement.Engine.
type Purchaser interface {
	Purchase(ctx context.Context, reader core.AccountID, item core.ContentID) (settlement.Result, error)
}

// Resolver is the AccessResolver.
type Resolver struct {
	Store      Reader
	Links      core.Relationships
	Settlement Purchaser
	Notifier   core.Notifier // optional
	Logger     logrus.FieldLogger
}

func NewResolver(store Reader, links core.Relationships, purchaser Purchaser, notifier core.Notifier, logger logrus.FieldLogger) *Resolver {
	return &Resolver{Store: store, Links: links, Settlement: purchaser, Notifier: notifier, Logger: logger}
}

// Resolve decides whether reader may read item, purchasing access if needed.
func (r *Resolver) Resolve(ctx context.Context, reader core.AccountID, id core.ContentID) (Decision, error) {
	d, err := r.resolve(ctx, reader, id)
	metrics.AccessDecisions.WithLabelValues(d.label()).Inc()
	if err != nil {
		r.logger().WithFields(logrus.Fields{"reader_id": reader, "content_id": id}).
			WithError(err).Error("access resolution failed")
	}
	return d, err
}

func (r *Resolver) resolve(ctx context.Context, reader core.AccountID, id core.ContentID) (Decision, error) {
	item, err := r.Store.GetContent(ctx, id)
	if errors.Is(err, core.ErrContentNotFound) {
		return denied(id, core.DenyNotFound), nil
	}
	if err != nil {
		return denied(id, core.DenyError), err
	}

	if reader == item.OwnerID {
		d := live(item, KindOwner)
		d.ReaderCount = item.ReaderCount
		return d, nil
	}

	_, granted, err := r.Store.GetGrant(ctx, reader, id)
	if err != nil {
		return denied(id, core.DenyError), err
	}
	if granted {
		return r.servedGrant(ctx, reader, item)
	}

	switch {
	case item.Deleted():
		return denied(id, core.DenyGone), nil
	case item.Private():
		return denied(id, core.DenyPrivate), nil
	}

	linked, err := r.Links.AreLinked(ctx, reader, item.OwnerID)
	if err != nil {
		return denied(id, core.DenyError), err
	}
	if !linked {
		return denied(id, core.DenyNotFriend), nil
	}

	return r.purchase(ctx, reader, item)
}

// servedGrant serves a granted reader: the snapshot once the item is
// deleted, the live payload otherwise.
func (r *Resolver) servedGrant(ctx context.Context, reader core.AccountID, item core.ContentItem) (Decision, error) {
	if !item.Deleted() {
		return live(item, KindGranted), nil
	}
	snap, ok, err := r.Store.GetSnapshot(ctx, reader, item.ID)
	if err != nil {
		return denied(item.ID, core.DenyError), err
	}
	if !ok {
		return denied(item.ID, core.DenyError), fmt.Errorf("grant without snapshot for %s on %s", reader, item.ID)
	}
	return Decision{
		Kind:      KindGranted,
		ContentID: item.ID,
		OwnerID:   snap.OwnerID,
		Period:    snap.Period,
		Source:    SourceSnapshot,
		Payload:   snap.Payload,
	}, nil
}

func (r *Resolver) purchase(ctx context.Context, reader core.AccountID, item core.ContentItem) (Decision, error) {
	res, err := r.Settlement.Purchase(ctx, reader, item.ID)
	switch {
	case errors.Is(err, core.ErrContentDeleted):
		return denied(item.ID, core.DenyGone), nil
	case errors.Is(err, core.ErrContentPrivate):
		return denied(item.ID, core.DenyPrivate), nil
	case errors.Is(err, core.ErrContentNotFound):
		return denied(item.ID, core.DenyNotFound), nil
	case err != nil:
		return denied(item.ID, core.DenyError), err
	}

	switch res.Outcome {
	case settlement.OutcomeInsufficientFunds:
		d := denied(item.ID, core.DenyInsufficientFunds)
		d.Balance = res.ReaderBalance
		return d, nil
	case settlement.OutcomeAlreadyGranted:
		// lost a race with a concurrent purchase of the same key
		return r.servedGrant(ctx, reader, res.Item)
	}

	d := live(res.Item, KindGranted)
	d.Purchased = true
	d.Balance = res.ReaderBalance
	r.notifyOwner(ctx, reader, res)
	return d, nil
}

func live(item core.ContentItem, kind Kind) Decision {
	return Decision{
		Kind:      kind,
		ContentID: item.ID,
		OwnerID:   item.OwnerID,
		Period:    item.Period,
		Source:    SourceLive,
		Payload:   item.Payload,
	}
}

// notifyOwner emits the purchase notifications. Failures are logged only;
// the settlement has already committed.
func (r *Resolver) notifyOwner(ctx context.Context, reader core.AccountID, res settlement.Result) {
	if r.Notifier == nil {
		return
	}
	owner := res.Item.OwnerID
	var earned int64
	for _, e := range res.Entries {
		if e.AccountID == owner && e.Descriptor == core.DescContentSaleEarning {
			earned = e.Amount
		}
	}

	notes := []struct {
		kind    core.NotificationKind
		payload map[string]string
	}{
		{core.NotifyContentPurchased, map[string]string{
			"content_id": string(res.Item.ID),
			"reader_id":  string(reader),
			"title":      res.Item.Payload.Title,
		}},
		{core.NotifyPointsEarned, map[string]string{
			"amount":     strconv.FormatInt(earned, 10),
			"descriptor": string(core.DescContentSaleEarning),
			"content_id": string(res.Item.ID),
		}},
	}
	for _, n := range notes {
		if err := r.Notifier.Notify(ctx, owner, n.kind, n.payload); err != nil {
			metrics.NotificationFailures.WithLabelValues(string(n.kind)).Inc()
			r.logger().WithFields(logrus.Fields{
				"owner_id":   owner,
				"content_id": res.Item.ID,
				"kind":       n.kind,
			}).WithError(err).Warn("purchase notification failed")
		}
	}
}

func (r *Resolver) logger() logrus.FieldLogger {
	if r.Logger != nil {
		return r.Logger
	}
	l := logrus.New()
	l.Out = io.Discard
	return l
}
