/*
Package content is the owner side of the content lifecycle.

GENERATION GATE (Generate), in order:
  1. The period key is valid and names a real weekly window.
  2. The owner has no item for the key yet.
  3. The window is complete (every day has a daily record).
  4. One token of the key's genre is consumed.
  5. The generation service is called.
  6. The item is stored Live under a fresh id.
  A failure after step 4 does not refund the token.

LIFECYCLE:
  Live <-> Private by the owner. Any state -> Deleted, terminal. Items are
  never erased so grant holders keep their snapshots.
*/
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/story-ledger/core"
)

// Gate answers whether a window may be converted; satisfied by *streak.Tracker.
type Gate interface {
	CanGenerate(ctx context.Context, account core.AccountID, id core.WindowID) (bool, error)
}

// TokenSpender consumes genre tokens; satisfied by *settlement.Inventory.
type TokenSpender interface {
	ConsumeToken(ctx context.Context, account core.AccountID, genre core.Genre) (int, error)
}

type Service struct {
	Store     core.Store
	Gate      Gate
	Tokens    TokenSpender
	Generator Generator
	Clock     core.Clock
	Logger    logrus.FieldLogger
}

// Generate creates the owner's content item for key.
func (s *Service) Generate(ctx context.Context, owner core.AccountID, key core.PeriodKey) (core.ContentItem, error) {
	if err := key.Validate(); err != nil {
		return core.ContentItem{}, err
	}
	window := key.Window().Window()
	if window.ID() != key.Window() {
		return core.ContentItem{}, fmt.Errorf("%w: %s has no week %d", core.ErrInvalidInput, key.Window(), key.WeekIndex)
	}
	if _, err := s.Store.GetAccount(ctx, owner); err != nil {
		return core.ContentItem{}, err
	}

	_, err := s.Store.GetContentByPeriod(ctx, owner, key)
	switch {
	case err == nil:
		return core.ContentItem{}, fmt.Errorf("%w: %s", core.ErrDuplicateContent, key)
	case !errors.Is(err, core.ErrContentNotFound):
		return core.ContentItem{}, err
	}

	ok, err := s.Gate.CanGenerate(ctx, owner, key.Window())
	if err != nil {
		return core.ContentItem{}, err
	}
	if !ok {
		return core.ContentItem{}, fmt.Errorf("%w: %s", core.ErrWeekIncomplete, key.Window())
	}

	if _, err := s.Tokens.ConsumeToken(ctx, owner, key.Genre); err != nil {
		return core.ContentItem{}, err
	}

	log := s.logger().WithFields(logrus.Fields{"owner_id": owner, "period": key.String()})
	payload, err := s.Generator.Generate(ctx, Request{
		OwnerID:   owner,
		Period:    key,
		WeekStart: window.Start,
		WeekEnd:   window.End(),
	})
	if err != nil {
		log.WithError(err).Warn("generation failed after token consumption")
		if !errors.Is(err, core.ErrGenerationFailed) {
			err = fmt.Errorf("%w: %v", core.ErrGenerationFailed, err)
		}
		return core.ContentItem{}, err
	}

	item := core.ContentItem{
		ID:        core.ContentID(uuid.NewString()),
		OwnerID:   owner,
		Period:    key,
		State:     core.StateLive,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}
	if err := s.Store.InsertContent(ctx, item); err != nil {
		log.WithError(err).Error("generated content not stored")
		return core.ContentItem{}, err
	}
	log.WithField("content_id", item.ID).Info("content generated")
	return item, nil
}

// SetVisibility moves an item between Live and Private.
func (s *Service) SetVisibility(ctx context.Context, owner core.AccountID, id core.ContentID, private bool) (core.ContentItem, error) {
	next := core.StateLive
	if private {
		next = core.StatePrivate
	}
	return s.transition(ctx, owner, id, next)
}

// Delete soft-deletes an item. Deleting twice is an error.
func (s *Service) Delete(ctx context.Context, owner core.AccountID, id core.ContentID) (core.ContentItem, error) {
	return s.transition(ctx, owner, id, core.StateDeleted)
}

// List returns the owner's items, deleted ones included, newest first.
func (s *Service) List(ctx context.Context, owner core.AccountID) ([]core.ContentItem, error) {
	return s.Store.ListContentByOwner(ctx, owner)
}

func (s *Service) transition(ctx context.Context, owner core.AccountID, id core.ContentID, next core.ContentState) (core.ContentItem, error) {
	var item core.ContentItem
	err := s.Store.WithTx(ctx, func(tx core.Tx) error {
		var err error
		item, err = tx.GetContent(ctx, id)
		if err != nil {
			return err
		}
		if item.OwnerID != owner {
			return core.ErrNotOwner
		}
		if !item.State.CanTransition(next) {
			return fmt.Errorf("%w: %s", core.ErrContentDeleted, id)
		}
		if item.State == next {
			return nil
		}
		if err := tx.SetContentState(ctx, id, next); err != nil {
			return err
		}
		item.State = next
		return nil
	})
	if err != nil {
		return core.ContentItem{}, err
	}
	s.logger().WithFields(logrus.Fields{"owner_id": owner, "content_id": id, "state": next}).Info("content state changed")
	return item, nil
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now()
}

func (s *Service) logger() logrus.FieldLogger {
	if s.Logger != nil {
		return s.Logger
	}
	l := logrus.New()
	l.Out = io.Discard
	return l
}
