/*
refresh.go - Monthly free-tier refresh

PURPOSE:
  Once per elapsed calendar month, free-plan accounts are reset to the free
  allotment. Paid plans are excluded: their resets arrive exclusively through
  the webhook reconciler's renewal path.

IDEMPOTENCE:
  An account refreshed earlier in the same calendar month compares equal on
  the month key and is skipped, so re-running the job within a month is a
  no-op. The month comparison uses UTC; a job host in another zone would
  otherwise refresh twice around midnight at month boundaries.

ITERATION:
  Accounts are walked in pages keyed by user id rather than loaded in one
  pass, so the job stays bounded as the user base grows.
*/
package credits

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/makos-ai/credit-engine/ledger"
)

const defaultRefreshPageSize = 200

// SameCalendarMonth reports whether two instants fall in the same calendar
// month (UTC).
func SameCalendarMonth(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// MonthKey renders the calendar month of t, used in idempotency keys so one
// refresh entry can exist per user per month.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// RefreshSummary reports what one run did.
type RefreshSummary struct {
	Scanned   int
	Refreshed int
	Skipped   int
	Failed    int
}

// Refresher resets free-tier balances once per elapsed calendar month.
type Refresher struct {
	Accounts AccountStore
	PageSize int
}

func NewRefresher(accounts AccountStore) *Refresher {
	return &Refresher{Accounts: accounts, PageSize: defaultRefreshPageSize}
}

// Run walks all accounts and refreshes eligible free-plan users as of now.
// Individual account failures are logged and counted, not fatal: the next
// run retries them because the month key has still not advanced.
func (r *Refresher) Run(ctx context.Context, now time.Time) (RefreshSummary, error) {
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = defaultRefreshPageSize
	}

	var summary RefreshSummary
	var after ledger.UserID

	for {
		accounts, err := r.Accounts.ListAccounts(ctx, after, pageSize)
		if err != nil {
			return summary, fmt.Errorf("list accounts after %q: %w", after, err)
		}
		if len(accounts) == 0 {
			return summary, nil
		}

		for _, acct := range accounts {
			summary.Scanned++
			if !r.eligible(acct, now) {
				summary.Skipped++
				continue
			}
			if err := r.refreshOne(ctx, acct, now); err != nil {
				summary.Failed++
				log.Printf("[Refresher] refresh failed user=%s: %v", acct.UserID, err)
				continue
			}
			summary.Refreshed++
		}

		after = accounts[len(accounts)-1].UserID
	}
}

func (r *Refresher) eligible(acct Account, now time.Time) bool {
	if acct.OnPaidPlan() {
		return false
	}
	// Cancellation lets users keep unspent credits; the refresh must not
	// claw them back. Only accounts below the free allotment are topped up.
	if acct.Credits >= MonthlyAllotment(PlanFree) {
		return false
	}
	return !SameCalendarMonth(acct.PlanActivatedAt, now)
}

func (r *Refresher) refreshOne(ctx context.Context, acct Account, now time.Time) error {
	allotment := MonthlyAllotment(PlanFree)
	updated := acct
	updated.Credits = allotment
	updated.PlanActivatedAt = now.UTC()
	updated.UpdatedAt = now.UTC()

	entry := ledger.Entry{
		ID:          ledger.EntryID(uuid.NewString()),
		UserID:      acct.UserID,
		Amount:      allotment - acct.Credits, // signed delta keeps the ledger sum exact
		Cause:       ledger.CauseBonus,
		Description: "monthly free credit refresh",
		// One refresh per user per calendar month, even across
		// concurrent job runs.
		IdempotencyKey: fmt.Sprintf("refresh:%s:%s", acct.UserID, MonthKey(now)),
		CreatedAt:      now.UTC(),
	}

	// A conflict here means another writer moved the balance mid-refresh;
	// the next run re-evaluates eligibility from fresh state.
	return r.Accounts.UpdateAccount(ctx, updated, acct.Credits, []ledger.Entry{entry}, nil)
}
