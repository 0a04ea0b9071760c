/*
errors.go - Error taxonomy for the story ledger

PURPOSE:
  All sentinel errors and denial reasons in one place. Expected business
  conditions (private content, not a friend, insufficient funds) travel as
  typed outcomes; the sentinels below are for the store layer and for true
  failures that callers must propagate.

ERROR CATEGORIES:
  1. Lookup errors     - account or content missing
  2. Constraint errors - duplicate grant / idempotency key / period key
  3. Business errors   - insufficient funds or tokens, ownership, lifecycle
  4. Transaction errors - aborted after conflict retries, storage failure

USAGE:
  if errors.Is(err, core.ErrDuplicateIdempotencyKey) {
      // reward already granted, nothing to do
  }
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrContentNotFound = errors.New("content not found")

	// ErrNotificationNotFound is returned when marking an unknown notification
	// (or one addressed to another account) as read.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same
	// idempotency key already exists. Expected for reward retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateGrant means a Grant for (reader, item) already exists.
	ErrDuplicateGrant = errors.New("grant already exists")

	// ErrDuplicateSnapshot means a Snapshot for (reader, item) already exists.
	ErrDuplicateSnapshot = errors.New("snapshot already exists")

	// ErrDuplicateContent means the owner already has an item for the period key.
	ErrDuplicateContent = errors.New("content already exists for period")

	ErrDuplicateAccount = errors.New("account already exists")

	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientTokens = errors.New("insufficient tokens")

	// ErrTokenConflict is returned by a compare-and-swap on a token count that
	// moved underneath the caller. Retryable.
	ErrTokenConflict = errors.New("token count changed concurrently")

	// ErrConflict marks a transaction-layer conflict (busy database). Retryable.
	ErrConflict = errors.New("transaction conflict")

	// ErrAborted is returned when a unit of work could not commit: conflict
	// retries were exhausted or storage failed. Nothing was written.
	ErrAborted = errors.New("transaction aborted")

	ErrNotOwner         = errors.New("not the content owner")
	ErrContentDeleted   = errors.New("content deleted")
	ErrContentPrivate   = errors.New("content private")
	ErrSelfPurchase     = errors.New("owner cannot purchase own content")
	ErrInvalidInput     = errors.New("invalid input")
	ErrWeekIncomplete   = errors.New("week not complete")
	ErrGenerationFailed = errors.New("generation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError details a balance shortage.
type InsufficientFundsError struct {
	AccountID AccountID
	Balance   int64
	Required  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s has %d, needs %d", e.AccountID, e.Balance, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// InsufficientTokensError details a missing genre token.
type InsufficientTokensError struct {
	AccountID AccountID
	Genre     Genre
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: account %s has no %s token", e.AccountID, e.Genre)
}

func (e *InsufficientTokensError) Unwrap() error { return ErrInsufficientTokens }

// AbortedError wraps the cause of an aborted unit of work.
type AbortedError struct {
	Attempts int
	Cause    error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("transaction aborted after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *AbortedError) Unwrap() []error { return []error{ErrAborted, e.Cause} }

// =============================================================================
// DENIAL REASONS
// =============================================================================

// DenyReason explains why a read was refused. Each reason maps to exactly one
// user-facing message.
type DenyReason string

const (
	DenyNotFound          DenyReason = "not_found"
	DenyPrivate           DenyReason = "private"
	DenyGone              DenyReason = "gone"
	DenyNotFriend         DenyReason = "not_friend"
	DenyInsufficientFunds DenyReason = "insufficient_funds"
	DenyError             DenyReason = "error"
)

var denyMessages = map[DenyReason]string{
	DenyNotFound:          "This story does not exist.",
	DenyPrivate:           "The author has made this story private.",
	DenyGone:              "The author has removed this story.",
	DenyNotFriend:         "Only the author's friends can read this story.",
	DenyInsufficientFunds: "You do not have enough points to read this story.",
	DenyError:             "Something went wrong. Please try again.",
}

// Message returns the user-facing text for the reason.
func (r DenyReason) Message() string {
	if m, ok := denyMessages[r]; ok {
		return m
	}
	return denyMessages[DenyError]
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole unit of work may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTokenConflict)
}

// IsClientError returns true if the error is due to the caller's input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientTokens) ||
		errors.Is(err, ErrDuplicateContent) ||
		errors.Is(err, ErrDuplicateAccount) ||
		errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrContentDeleted) ||
		errors.Is(err, ErrSelfPurchase) ||
		errors.Is(err, ErrWeekIncomplete) ||
		errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrContentNotFound) ||
		errors.Is(err, ErrNotificationNotFound)
}
