/*
audit.go - Balance conservation check

PURPOSE:
  The stored account balance and the ledger are written together, but they
  are still two representations of one fact. The audit recomputes the
  balance from entries and compares it to the stored value. Any drift means
  a write path skipped its ledger entry (or recorded a ceiling instead of a
  signed delta) and should be treated as a bug.

WHEN TO RUN:
  - Admin endpoint for a single user (spot check)
  - Test assertions after operation sequences
*/
package ledger

import "context"

// Sum returns the running total of a set of entries.
func Sum(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += e.Amount
	}
	return total
}

// Audit verifies that the sum of a user's ledger entries equals the stored
// balance. Returns a *ConservationError on drift.
func Audit(ctx context.Context, l Ledger, userID UserID, balance int) error {
	entries, err := l.Entries(ctx, userID)
	if err != nil {
		return err
	}
	sum := Sum(entries)
	if sum != balance {
		return &ConservationError{UserID: userID, Balance: balance, LedgerSum: sum}
	}
	return nil
}
