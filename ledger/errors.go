/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

USAGE:
  Domain packages can test with errors.Is / errors.As:

    if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
        // Already processed, safe to ignore
    }

SEE ALSO:
  - ledger.go: Uses these errors
  - credits/errors.go: Domain-level errors (insufficient credits, etc.)
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidEntry is returned when an entry fails basic validation
	// (unknown cause, missing user id).
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrConservationViolated is returned by the audit when the sum of a
	// user's entries does not equal their stored balance.
	ErrConservationViolated = errors.New("ledger conservation violated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConservationError reports the discrepancy found by Audit.
type ConservationError struct {
	UserID   UserID
	Balance  int // stored account balance
	LedgerSum int // sum of all entry amounts
}

func (e *ConservationError) Error() string {
	return fmt.Sprintf("ledger conservation violated for %s: balance=%d, ledger sum=%d (drift %d)",
		e.UserID, e.Balance, e.LedgerSum, e.Balance-e.LedgerSum)
}

func (e *ConservationError) Unwrap() error {
	return ErrConservationViolated
}
