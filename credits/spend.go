/*
spend.go - Spend guard for worksheet generation

PURPOSE:
  The single gate between a generation request and the balance. Checks
  balance >= cost and debits atomically, so two simultaneous generations
  can never spend the same credit twice.

HOW THE RACE IS CLOSED:
  The naive read-then-write sequence leaves a window where a concurrent
  debit (or a webhook redelivery) commits between the read and the write.
  DebitIfSufficient pushes the guard into the store as a conditional
  decrement (UPDATE ... WHERE credits >= cost), which either applies fully
  or not at all. The usage ledger entry is written in the same transaction.
*/
package credits

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/makos-ai/credit-engine/ledger"
)

// SpendGuard debits credits for worksheet generations.
type SpendGuard struct {
	Accounts AccountStore
}

func NewSpendGuard(accounts AccountStore) *SpendGuard {
	return &SpendGuard{Accounts: accounts}
}

// Debit attempts to spend cost credits for the given user. On success it
// returns the new balance; the generation may then proceed. On shortfall it
// returns an *InsufficientCreditsError and nothing is mutated.
//
// Callers must debit BEFORE starting the generation. Debit-after-generate
// gives away free work whenever the debit fails.
func (g *SpendGuard) Debit(ctx context.Context, userID ledger.UserID, cost int, description string) (int, error) {
	if cost <= 0 {
		return 0, ErrInvalidCost
	}

	entry := ledger.Entry{
		ID:          ledger.EntryID(uuid.NewString()),
		UserID:      userID,
		Amount:      -cost,
		Cause:       ledger.CauseUsage,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	return g.Accounts.DebitIfSufficient(ctx, userID, cost, entry)
}

// DebitForGeneration computes the cost from the request shape and debits it.
// Convenience wrapper keeping the cost calculation server-side.
func (g *SpendGuard) DebitForGeneration(ctx context.Context, userID ledger.UserID, subject, topic string, questionCount int) (cost, newBalance int, err error) {
	cost = Cost(subject, topic, questionCount)
	desc := "worksheet: " + subject
	if topic != "" {
		desc += " / " + topic
	}
	newBalance, err = g.Debit(ctx, userID, cost, desc)
	return cost, newBalance, err
}
