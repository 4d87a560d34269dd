/*
Package credits implements the Makos credit domain: accounts, plans,
the worksheet cost calculator, the spend guard, and the monthly free-tier
refresher.

The account record holds the operational balance; every mutation writes a
matching ledger entry in the same store transaction so the two never drift.
*/
package credits

import (
	"context"
	"time"

	"github.com/makos-ai/credit-engine/ledger"
)

// WelcomeBonus is granted when an account is created lazily on first login.
const WelcomeBonus = 5

// =============================================================================
// ACCOUNT - One credit record per user
// =============================================================================

// Account is the per-user credit record. The user identity itself is owned
// by the hosted auth service; UserID is a foreign reference and Email is
// kept only for webhook fallback resolution.
type Account struct {
	UserID          ledger.UserID
	Email           string
	Credits         int // invariant: >= 0
	Plan            Plan
	PlanActivatedAt time.Time
	SubscriptionRef string // opaque provider reference; empty = none
	UpdatedAt       time.Time
}

// OnPaidPlan reports whether the account has an active paid subscription tier.
func (a Account) OnPaidPlan() bool { return a.Plan != PlanFree }

// EventMark identifies a processed provider event. Stores record marks
// atomically with the account write they accompany, so a replayed event id
// is rejected before it can mutate anything.
type EventMark struct {
	ID   string
	Type string
}

// =============================================================================
// ACCOUNT STORE - Persistence interface
// =============================================================================

// AccountStore persists account records. Balance mutations are guarded:
// DebitIfSufficient uses a conditional decrement and UpdateAccount uses a
// compare-and-swap on the expected balance, so concurrent writers can never
// produce a lost update or a negative balance.
//
// Every mutating method writes its ledger entries in the same transaction
// as the balance change.
type AccountStore interface {
	// GetAccount returns the account or ErrAccountNotFound.
	GetAccount(ctx context.Context, userID ledger.UserID) (*Account, error)

	// FindAccountByEmail resolves an account by billing email, used only as
	// webhook fallback when no machine-readable user id is present.
	// Returns ErrAccountNotFound when no account matches.
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)

	// CreateAccount inserts a new account and, when welcome is non-nil, its
	// welcome bonus entry atomically. Returns ErrAccountExists if the user
	// already has an account (callers should re-read).
	CreateAccount(ctx context.Context, acct Account, welcome *ledger.Entry) error

	// DebitIfSufficient atomically decrements the balance by cost, guarded
	// by credits >= cost, and appends the usage entry. Returns the new
	// balance, or an *InsufficientCreditsError without mutating anything.
	DebitIfSufficient(ctx context.Context, userID ledger.UserID, cost int, entry ledger.Entry) (int, error)

	// UpdateAccount writes the full account state conditionally on the
	// balance still being expectedCredits, appending entries in the same
	// transaction. Returns ErrConcurrentModification when the guard fails;
	// callers re-read and retry. A non-nil mark is recorded in the
	// processed-events log atomically with the write and causes
	// ErrDuplicateEvent if its id is already present.
	UpdateAccount(ctx context.Context, acct Account, expectedCredits int, entries []ledger.Entry, mark *EventMark) error

	// ListAccounts returns up to limit accounts ordered by user id,
	// strictly after afterUserID (empty starts from the beginning).
	// Used by the monthly refresher for paged iteration.
	ListAccounts(ctx context.Context, afterUserID ledger.UserID, limit int) ([]Account, error)
}
