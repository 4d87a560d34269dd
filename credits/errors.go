/*
errors.go - Domain errors for the credits package

Sentinels for errors.Is, structured types for errors.As. The structured
types carry the context a caller needs to build a remediation message
(how many credits short, which user could not be resolved).
*/
package credits

import (
	"errors"
	"fmt"

	"github.com/makos-ai/credit-engine/ledger"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInsufficientCredits is returned when a debit exceeds the balance.
	// User-visible and recoverable by purchase or upgrade.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAccountNotFound is returned when no credit record exists for a user.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned by CreateAccount when the user already
	// has a record. Callers should re-read instead of treating it as fatal.
	ErrAccountExists = errors.New("account already exists")

	// ErrConcurrentModification is returned when a conditional write loses
	// the race to another writer. Retryable: re-read and reapply.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidCost guards the spend path precondition cost > 0.
	ErrInvalidCost = errors.New("cost must be positive")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientCreditsError reports a blocked debit with the shortfall the
// UI surfaces to the user.
type InsufficientCreditsError struct {
	UserID    ledger.UserID
	Available int
	Required  int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d (short %d)",
		e.Available, e.Required, e.Shortfall())
}

func (e *InsufficientCreditsError) Shortfall() int {
	return e.Required - e.Available
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's state or
// input rather than infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrInvalidCost) ||
		errors.Is(err, ErrAccountNotFound)
}
