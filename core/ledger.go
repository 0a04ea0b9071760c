/*
ledger.go - Balance postings

PURPOSE:
  The only sanctioned way to move points. Post appends the ledger entry and
  applies its signed amount to the account balance inside the caller's Tx,
  so a balance can never change without a matching entry.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted.
  2. PAIRED: every balance change has exactly one entry in the same Tx.
  3. IDEMPOTENT: an entry with a known idempotency key is rejected before
     the balance is touched.

  The platform account has no balance row; its entries are audit lines only.
*/
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewEntryID returns a fresh ledger entry id.
func NewEntryID() EntryID { return EntryID(uuid.NewString()) }

// Post appends e and applies it to the account balance. Must be called with
// a Tx obtained from Store.WithTx. Returns the account's new balance (zero for
// the platform account).
func Post(ctx context.Context, tx Tx, e LedgerEntry) (int64, error) {
	if e.ID == "" {
		e.ID = NewEntryID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		return 0, err
	}

	if err := tx.AppendEntry(ctx, e); err != nil {
		return 0, fmt.Errorf("append %s entry for %s: %w", e.Descriptor, e.AccountID, err)
	}
	if e.AccountID == PlatformAccountID {
		return 0, nil
	}
	balance, err := tx.AdjustBalance(ctx, e.AccountID, e.Signed())
	if err != nil {
		return 0, fmt.Errorf("apply %s to %s: %w", e.Descriptor, e.AccountID, err)
	}
	return balance, nil
}

// IdempotencyKey builds the deterministic key for a once-only posting.
func IdempotencyKey(d Descriptor, account AccountID, scope string) string {
	return fmt.Sprintf("%s:%s:%s", d, account, scope)
}
