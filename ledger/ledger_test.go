package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makos-ai/credit-engine/ledger"
	"github.com/makos-ai/credit-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger() *ledger.DefaultLedger {
	return ledger.NewLedger(store.NewMemory())
}

func entry(id string, amount int, cause ledger.Cause, at time.Time) ledger.Entry {
	return ledger.Entry{
		ID:             ledger.EntryID(id),
		UserID:         "user-1",
		Amount:         amount,
		Cause:          cause,
		IdempotencyKey: "key-" + id,
		CreatedAt:      at,
	}
}

// =============================================================================
// APPEND / IDEMPOTENCY
// =============================================================================

func TestLedger_Append_DuplicateKey_Rejected(t *testing.T) {
	// GIVEN: An entry already appended
	// WHEN: Appending a second entry with the same idempotency key
	// THEN: Rejected; the ledger holds exactly one entry

	l := newTestLedger()
	ctx := context.Background()
	now := time.Now().UTC()

	e := entry("e-1", 5, ledger.CauseBonus, now)
	require.NoError(t, l.Append(ctx, e))

	dup := entry("e-2", 5, ledger.CauseBonus, now)
	dup.IdempotencyKey = e.IdempotencyKey
	err := l.Append(ctx, dup)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	entries, err := l.Entries(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedger_AppendBatch_AllOrNothing(t *testing.T) {
	// GIVEN: A batch where the second entry's key already exists
	// WHEN: AppendBatch runs
	// THEN: Nothing from the batch lands

	l := newTestLedger()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, l.Append(ctx, entry("e-1", 5, ledger.CauseBonus, now)))

	clash := entry("e-3", -1, ledger.CauseUsage, now)
	clash.IdempotencyKey = "key-e-1"
	err := l.AppendBatch(ctx, []ledger.Entry{
		entry("e-2", 50, ledger.CausePurchase, now),
		clash,
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	entries, err := l.Entries(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedger_Append_InvalidEntry(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	// Missing user
	e := ledger.Entry{ID: "e-1", Amount: 1, Cause: ledger.CauseBonus}
	assert.ErrorIs(t, l.Append(ctx, e), ledger.ErrInvalidEntry)

	// Unknown cause
	e = ledger.Entry{ID: "e-2", UserID: "user-1", Amount: 1, Cause: "mystery"}
	assert.ErrorIs(t, l.Append(ctx, e), ledger.ErrInvalidEntry)
}

// =============================================================================
// READS
// =============================================================================

func TestLedger_Entries_OldestFirst(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	base := time.Now().UTC()

	// Append out of order; reads come back in creation order
	require.NoError(t, l.Append(ctx, entry("e-2", -1, ledger.CauseUsage, base.Add(time.Minute))))
	require.NoError(t, l.Append(ctx, entry("e-1", 5, ledger.CauseBonus, base)))

	entries, err := l.Entries(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EntryID("e-1"), entries[0].ID)
	assert.Equal(t, ledger.EntryID("e-2"), entries[1].ID)
}

func TestLedger_History_PagesNewestFirst(t *testing.T) {
	// GIVEN: Seven entries
	// WHEN: Paging with limit 3
	// THEN: Newest first, no overlap, no gap, cursor terminates

	l := newTestLedger()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 7; i++ {
		e := entry(fmt.Sprintf("e-%d", i), 1, ledger.CauseBonus, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, l.Append(ctx, e))
	}

	var seen []ledger.EntryID
	cursor := ""
	for {
		page, next, err := l.History(ctx, "user-1", cursor, 3)
		require.NoError(t, err)
		for _, e := range page {
			seen = append(seen, e.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	require.Len(t, seen, 7)
	assert.Equal(t, ledger.EntryID("e-6"), seen[0])
	assert.Equal(t, ledger.EntryID("e-0"), seen[6])
}

func TestLedger_Entries_UnknownUser_Empty(t *testing.T) {
	l := newTestLedger()

	entries, err := l.Entries(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// CONSERVATION AUDIT
// =============================================================================

func TestAudit_BalanceMatchesSum(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, l.Append(ctx, entry("e-1", 5, ledger.CauseBonus, now)))
	require.NoError(t, l.Append(ctx, entry("e-2", 50, ledger.CausePurchase, now.Add(time.Second))))
	require.NoError(t, l.Append(ctx, entry("e-3", -2, ledger.CauseUsage, now.Add(2*time.Second))))

	assert.NoError(t, ledger.Audit(ctx, l, "user-1", 53))
}

func TestAudit_Drift_Reported(t *testing.T) {
	// GIVEN: A stored balance the entries cannot explain
	// THEN: The audit names both numbers

	l := newTestLedger()
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, entry("e-1", 5, ledger.CauseBonus, time.Now().UTC())))

	err := ledger.Audit(ctx, l, "user-1", 9)
	require.Error(t, err)

	var drift *ledger.ConservationError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, 9, drift.Balance)
	assert.Equal(t, 5, drift.LedgerSum)
	assert.ErrorIs(t, err, ledger.ErrConservationViolated)
}
