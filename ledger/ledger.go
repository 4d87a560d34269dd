/*
ledger.go - Append-only credit transaction log

PURPOSE:
  The Ledger is the immutable audit trail for all balance changes. Every
  purchase, usage debit, bonus, and subscription change is recorded here.
  The stored account balance is the operational value; the ledger is how
  you explain it.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. CONSERVATION: Sum of a user's entries equals their stored balance
     (entries record signed deltas, including subscription resets)
  4. IDEMPOTENT: Same idempotency key = same entry (no duplicates)

CORRECTIONS:
  If a mistake is made, you don't edit the entry. Append an offsetting
  entry; both remain in the ledger and the history stays honest.

SEE ALSO:
  - store.go: Low-level persistence interface
  - audit.go: Conservation check between entries and stored balance
*/
package ledger

import "context"

// =============================================================================
// LEDGER - Append-only entry log
// =============================================================================

// Ledger is the audit trail for all balance changes.
//
// INVARIANTS:
//   - Append-only: entries are never updated or deleted.
//   - Immutable: corrections are offsetting entries, not edits.
type Ledger interface {
	// Append adds an entry. Fails if its idempotency key exists.
	Append(ctx context.Context, e Entry) error

	// AppendBatch adds multiple entries atomically.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Entries returns all entries for a user, oldest first. Read-only.
	Entries(ctx context.Context, userID UserID) ([]Entry, error)

	// History returns a newest-first page of a user's entries.
	History(ctx context.Context, userID UserID, cursor string, limit int) ([]Entry, string, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, e Entry) error {
	if e.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, e)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, entries []Entry) error {
	// Check all idempotency keys first
	for _, e := range entries {
		if e.IdempotencyKey != "" {
			exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateIdempotencyKey
			}
		}
	}
	return l.Store.AppendBatch(ctx, entries)
}

func (l *DefaultLedger) Entries(ctx context.Context, userID UserID) ([]Entry, error) {
	return l.Store.Load(ctx, userID)
}

func (l *DefaultLedger) History(ctx context.Context, userID UserID, cursor string, limit int) ([]Entry, string, error) {
	return l.Store.LoadNewest(ctx, userID, cursor, limit)
}
