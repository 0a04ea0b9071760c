package settlement

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/warp/story-ledger/core"
	"github.com/warp/story-ledger/metrics"
)

// =============================================================================
// INVENTORY LEDGER - genre tokens
// =============================================================================

// Inventory consumes genre tokens. Consumption runs in the same transaction
// class as a purchase: the count is read and swapped inside one unit of work,
// and a count that moved underneath restarts the unit.
type Inventory struct {
	Store  core.Store
	Logger logrus.FieldLogger
}

func NewInventory(store core.Store, logger logrus.FieldLogger) *Inventory {
	return &Inventory{Store: store, Logger: orDiscard(logger)}
}

// ConsumeToken takes one genre token from account and returns how many are
// left. Fails with *core.InsufficientTokensError when none remain. The
// generation call must only follow a nil error.
func (inv *Inventory) ConsumeToken(ctx context.Context, account core.AccountID, genre core.Genre) (int, error) {
	if !genre.Valid() {
		_, err := core.ParseGenre(string(genre))
		return 0, err
	}

	var remaining int
	err := inv.Store.WithTx(ctx, func(tx core.Tx) error {
		acct, err := tx.GetAccount(ctx, account)
		if err != nil {
			return err
		}
		count := acct.TokenCount(genre)
		if count <= 0 {
			return &core.InsufficientTokensError{AccountID: account, Genre: genre}
		}
		if err := tx.CompareAndSetTokens(ctx, account, genre, count, count-1); err != nil {
			return err
		}
		remaining = count - 1
		return nil
	})

	log := orDiscard(inv.Logger).WithFields(logrus.Fields{"account_id": account, "genre": genre})
	if err != nil {
		log.WithError(err).Info("token not consumed")
		return 0, err
	}
	metrics.TokensConsumed.WithLabelValues(string(genre)).Inc()
	log.WithField("remaining", remaining).Info("token consumed")
	return remaining, nil
}
