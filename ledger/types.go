/*
Package ledger provides the append-only credit transaction log.

PURPOSE:
  This package contains the domain-agnostic pieces of credit bookkeeping:
  the immutable Entry record, the Ledger interface, and the conservation
  audit. It knows nothing about plans, webhooks, or worksheet costs - those
  live in the credits and billing packages.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable ledger record of a single balance change
  - Cause: Why the balance changed (purchase, usage, bonus, subscription)
  - EntryID / UserID: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only offset by new entries
  2. Signed integers: Credits are indivisible units; positive = credit,
     negative = debit
  3. Auditability: Every entry has a cause, description, and idempotency key

SEE ALSO:
  - ledger.go: Ledger interface and default implementation
  - store.go: Persistence interface
  - audit.go: Balance conservation check
*/
package ledger

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID string
type UserID string

// =============================================================================
// CAUSE - Why a balance changed
// =============================================================================

type Cause string

const (
	CausePurchase     Cause = "purchase"     // One-time credit pack top-up
	CauseUsage        Cause = "usage"        // Worksheet generation debit
	CauseBonus        Cause = "bonus"        // Welcome grant or monthly free refresh
	CauseSubscription Cause = "subscription" // Plan issuance, renewal, or downgrade marker
)

// ValidCause reports whether c is one of the known cause tags.
func ValidCause(c Cause) bool {
	switch c {
	case CausePurchase, CauseUsage, CauseBonus, CauseSubscription:
		return true
	}
	return false
}

// =============================================================================
// ENTRY - Atomic change to a credit balance
// =============================================================================

// Entry records a single balance change. Entries are append-only and
// immutable; corrections are made by appending an offsetting entry.
//
// Amount is a SIGNED DELTA. Subscription resets record new-minus-old, not
// the plan ceiling, so that the running sum of a user's entries always
// equals their stored balance (see audit.go).
type Entry struct {
	ID             EntryID
	UserID         UserID
	Amount         int // positive = credit, negative = debit
	Cause          Cause
	Description    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// IsDebit reports whether the entry reduces the balance.
func (e Entry) IsDebit() bool { return e.Amount < 0 }
