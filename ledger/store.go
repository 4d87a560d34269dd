/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  handles persistence while maintaining append-only semantics. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

APPEND-ONLY CONTRACT:
  - Append(): Single entry write
  - AppendBatch(): Atomic multi-entry write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  Every write may carry an idempotency key. If the key already exists,
  the write is rejected. This prevents duplicate entries from webhook
  redelivery or user double-clicks.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package ledger

import "context"

// =============================================================================
// STORE - Interface for entry persistence (append-only)
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
// Corrections are made via offsetting entries.
type Store interface {
	// Append persists an entry. Returns ErrDuplicateIdempotencyKey if the
	// entry's idempotency key already exists.
	Append(ctx context.Context, e Entry) error

	// AppendBatch persists multiple entries atomically.
	// Either all succeed or none do.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Load returns all entries for a user, oldest first.
	Load(ctx context.Context, userID UserID) ([]Entry, error)

	// LoadNewest returns up to limit entries for a user, newest first,
	// starting after the opaque cursor. An empty cursor starts from the
	// most recent entry. The returned cursor is empty when the history
	// is exhausted.
	LoadNewest(ctx context.Context, userID UserID, cursor string, limit int) ([]Entry, string, error)

	// Exists checks if an idempotency key has already been written.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
