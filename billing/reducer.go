/*
reducer.go - Pure state transition for payment events

PURPOSE:
  One auditable definition of what each provider event does to an account.
  Reduce is a pure function: given a snapshot of the account and one event,
  it returns the next account state and the ledger entries recording the
  change. No I/O, no clock reads (the caller supplies now), deterministic.

TRANSITIONS (per event type):
  checkout confirmed, credits product      -> cumulative top-up (purchase)
  checkout confirmed, subscription product -> reset to plan ceiling (subscription)
  subscription.created / .updated          -> persist subscription reference
  order.paid, subscription product         -> reset to plan ceiling (renewal)
  subscription.canceled                    -> plan=free, ref cleared, balance kept
  anything else                            -> no-op

RESET-TO-CEILING:
  Subscription issuance and renewal OVERWRITE the balance to the plan's
  monthly allotment. Unused credits from the prior period are forfeited.
  The ledger entry records the SIGNED DELTA (ceiling minus prior balance),
  not the ceiling, so the conservation law between ledger and balance holds
  exactly even for mid-cycle upgrades.
*/
package billing

import (
	"fmt"
	"time"

	"github.com/makos-ai/credit-engine/credits"
	"github.com/makos-ai/credit-engine/ledger"
)

// Effect is the outcome of reducing one event over one account.
type Effect struct {
	Account credits.Account
	Entries []ledger.Entry
	Changed bool // false = nothing to persist beyond the event-id mark
	Note    string
}

// Reduce applies one event to an account snapshot. Entry IDs are left blank;
// the reconciler assigns them at write time. Idempotency keys are derived
// from the event id when present.
func Reduce(acct credits.Account, ev Event, now time.Time) (Effect, error) {
	switch ev.Type {
	case EventCheckoutCreated, EventCheckoutUpdated:
		if !ev.Confirmed() {
			return noop(acct, "checkout not confirmed"), nil
		}
		switch ev.ProductType {
		case ProductCredits:
			return reducePackPurchase(acct, ev, now)
		case ProductSubscription:
			return reduceSubscriptionGrant(acct, ev, now, "subscription confirmed")
		default:
			return noop(acct, fmt.Sprintf("unknown product type %q", ev.ProductType)), nil
		}

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if ev.SubscriptionRef == "" || ev.SubscriptionRef == acct.SubscriptionRef {
			return noop(acct, "subscription reference unchanged"), nil
		}
		next := acct
		next.SubscriptionRef = ev.SubscriptionRef
		next.UpdatedAt = now
		return Effect{Account: next, Changed: true, Note: "subscription reference stored"}, nil

	case EventOrderPaid:
		// Recurring renewals arrive as paid orders. The product-type gate
		// keeps one-time credit-pack orders from being misread as renewals.
		if ev.ProductType != ProductSubscription {
			return noop(acct, "order is not a subscription renewal"), nil
		}
		return reduceSubscriptionGrant(acct, ev, now, "subscription renewed")

	case EventSubscriptionCanceled:
		return reduceCancellation(acct, ev, now), nil

	default:
		return noop(acct, fmt.Sprintf("ignoring event type %q", ev.Type)), nil
	}
}

func noop(acct credits.Account, note string) Effect {
	return Effect{Account: acct, Note: note}
}

func reducePackPurchase(acct credits.Account, ev Event, now time.Time) (Effect, error) {
	size := ev.PackCredits
	if size == 0 {
		pack, ok := credits.PackByProductID(ev.ProductID)
		if !ok {
			return noop(acct, fmt.Sprintf("unknown credit pack product %q", ev.ProductID)), nil
		}
		size = pack.Credits
	}

	next := acct
	next.Credits += size // additive, never a reset
	next.UpdatedAt = now

	entry := ledger.Entry{
		UserID:         acct.UserID,
		Amount:         size,
		Cause:          ledger.CausePurchase,
		Description:    fmt.Sprintf("credit pack purchase (+%d)", size),
		IdempotencyKey: entryKey(ev, 0),
		CreatedAt:      now,
	}
	return Effect{Account: next, Entries: []ledger.Entry{entry}, Changed: true,
		Note: fmt.Sprintf("pack +%d", size)}, nil
}

func reduceSubscriptionGrant(acct credits.Account, ev Event, now time.Time, reason string) (Effect, error) {
	spec, err := resolvePlan(ev)
	if err != nil {
		return Effect{}, err
	}

	next := acct
	next.Plan = spec.Plan
	next.Credits = spec.MonthlyCredits // reset to ceiling, not additive
	next.PlanActivatedAt = now
	next.UpdatedAt = now
	if ev.SubscriptionRef != "" {
		next.SubscriptionRef = ev.SubscriptionRef
	}

	entry := ledger.Entry{
		UserID: acct.UserID,
		Amount: spec.MonthlyCredits - acct.Credits,
		Cause:  ledger.CauseSubscription,
		Description: fmt.Sprintf("%s: %s (balance set to %d)",
			reason, spec.Plan, spec.MonthlyCredits),
		IdempotencyKey: entryKey(ev, 0),
		CreatedAt:      now,
	}
	return Effect{Account: next, Entries: []ledger.Entry{entry}, Changed: true,
		Note: fmt.Sprintf("%s -> %s", reason, spec.Plan)}, nil
}

func reduceCancellation(acct credits.Account, ev Event, now time.Time) Effect {
	if acct.Plan == credits.PlanFree && acct.SubscriptionRef == "" {
		// Already downgraded (local cancel followed by the provider's
		// webhook, or a replay without an event id).
		return noop(acct, "already on free plan")
	}
	next := acct
	next.Plan = credits.PlanFree
	next.SubscriptionRef = ""
	next.PlanActivatedAt = now
	next.UpdatedAt = now
	// Balance is deliberately untouched: users keep unspent credits.

	entry := ledger.Entry{
		UserID:         acct.UserID,
		Amount:         0,
		Cause:          ledger.CauseSubscription,
		Description:    "subscription canceled; downgraded to free",
		IdempotencyKey: entryKey(ev, 0),
		CreatedAt:      now,
	}
	return Effect{Account: next, Entries: []ledger.Entry{entry}, Changed: true,
		Note: "canceled -> free"}
}

// resolvePlan finds the plan for a subscription event: explicit metadata
// name first, then reverse lookup of the product id.
func resolvePlan(ev Event) (credits.PlanSpec, error) {
	if ev.PlanName != "" {
		if spec, ok := credits.PlanByName(credits.Plan(ev.PlanName)); ok {
			return spec, nil
		}
	}
	if spec, ok := credits.PlanByProductID(ev.ProductID); ok {
		return spec, nil
	}
	return credits.PlanSpec{}, fmt.Errorf("%w: plan=%q product=%q",
		ErrUnresolvedPlan, ev.PlanName, ev.ProductID)
}

// entryKey derives a deterministic idempotency key from the provider event
// id, so even without the processed-events table a replay cannot write the
// same entry twice. Empty when the provider omitted an event id.
func entryKey(ev Event, n int) string {
	if ev.ID == "" {
		return ""
	}
	return fmt.Sprintf("evt:%s:%d", ev.ID, n)
}
