package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makos-ai/credit-engine/billing"
	"github.com/makos-ai/credit-engine/credits"
	"github.com/makos-ai/credit-engine/ledger"
)

var reduceNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func freeAccount(balance int) credits.Account {
	return credits.Account{
		UserID:          "user-1",
		Credits:         balance,
		Plan:            credits.PlanFree,
		PlanActivatedAt: reduceNow.AddDate(0, -1, 0),
	}
}

// =============================================================================
// PACK PURCHASES - cumulative
// =============================================================================

func TestReduce_PackPurchase_Additive(t *testing.T) {
	// GIVEN: An account with 10 credits buying the 50-pack
	// WHEN: The confirmed checkout event is reduced
	// THEN: Balance is 60; packs stack, they never reset

	ev := billing.Event{
		ID:          "evt-1",
		Type:        billing.EventCheckoutUpdated,
		Status:      "succeeded",
		ProductType: billing.ProductCredits,
		ProductID:   "prod_pack_50",
		UserID:      "user-1",
	}

	effect, err := billing.Reduce(freeAccount(10), ev, reduceNow)
	require.NoError(t, err)

	assert.True(t, effect.Changed)
	assert.Equal(t, 60, effect.Account.Credits)
	require.Len(t, effect.Entries, 1)
	assert.Equal(t, 50, effect.Entries[0].Amount)
	assert.Equal(t, ledger.CausePurchase, effect.Entries[0].Cause)
}

func TestReduce_PackPurchase_MetadataSizeWins(t *testing.T) {
	// GIVEN: Event metadata carries an explicit credit count
	// THEN: It takes precedence over the product-id lookup

	ev := billing.Event{
		ID:          "evt-1",
		Type:        billing.EventCheckoutUpdated,
		Status:      "succeeded",
		ProductType: billing.ProductCredits,
		ProductID:   "prod_pack_50",
		PackCredits: 250,
		UserID:      "user-1",
	}

	effect, err := billing.Reduce(freeAccount(0), ev, reduceNow)
	require.NoError(t, err)
	assert.Equal(t, 250, effect.Account.Credits)
}

func TestReduce_UnconfirmedCheckout_NoOp(t *testing.T) {
	// GIVEN: A checkout that has not reached a confirmed status
	// THEN: No credits move

	ev := billing.Event{
		ID:          "evt-1",
		Type:        billing.EventCheckoutCreated,
		Status:      "pending",
		ProductType: billing.ProductCredits,
		ProductID:   "prod_pack_50",
		UserID:      "user-1",
	}

	effect, err := billing.Reduce(freeAccount(10), ev, reduceNow)
	require.NoError(t, err)
	assert.False(t, effect.Changed)
	assert.Equal(t, 10, effect.Account.Credits)
}

// =============================================================================
// SUBSCRIPTION GRANTS - reset to ceiling
// =============================================================================

func TestReduce_Renewal_ResetsToCeilingExactly(t *testing.T) {
	// GIVEN: A pro subscriber down to 3 credits at period end
	// WHEN: The renewal order.paid event arrives
	// THEN: Balance is EXACTLY 200, not 203; the entry records the delta

	acct := credits.Account{
		UserID:          "user-1",
		Credits:         3,
		Plan:            credits.PlanPro,
		SubscriptionRef: "sub-9",
	}
	ev := billing.Event{
		ID:          "evt-renew",
		Type:        billing.EventOrderPaid,
		ProductType: billing.ProductSubscription,
		PlanName:    "pro",
		UserID:      "user-1",
	}

	effect, err := billing.Reduce(acct, ev, reduceNow)
	require.NoError(t, err)

	assert.Equal(t, 200, effect.Account.Credits)
	assert.Equal(t, credits.PlanPro, effect.Account.Plan)
	require.Len(t, effect.Entries, 1)
	assert.Equal(t, 197, effect.Entries[0].Amount) // signed delta, conservation
	assert.Equal(t, ledger.CauseSubscription, effect.Entries[0].Cause)
}

func TestReduce_SubscriptionCheckout_PlanFromProductID(t *testing.T) {
	// GIVEN: A confirmed subscription checkout without a plan name in
	//        metadata, only the provider product id
	// THEN: The plan resolves by reverse lookup (yearly variant included)

	ev := billing.Event{
		ID:          "evt-sub",
		Type:        billing.EventCheckoutUpdated,
		Status:      "confirmed",
		ProductType: billing.ProductSubscription,
		ProductID:   "prod_starter_yearly",
		UserID:      "user-1",
	}

	effect, err := billing.Reduce(freeAccount(2), ev, reduceNow)
	require.NoError(t, err)

	assert.Equal(t, credits.PlanStarter, effect.Account.Plan)
	assert.Equal(t, 100, effect.Account.Credits)
	assert.Equal(t, 98, effect.Entries[0].Amount)
}

func TestReduce_SubscriptionGrant_UnresolvablePlan(t *testing.T) {
	// GIVEN: A subscription event naming no known plan or product
	// THEN: ErrUnresolvedPlan; the caller drops the event

	ev := billing.Event{
		ID:          "evt-sub",
		Type:        billing.EventOrderPaid,
		ProductType: billing.ProductSubscription,
		ProductID:   "prod_mystery",
		UserID:      "user-1",
	}

	_, err := billing.Reduce(freeAccount(0), ev, reduceNow)
	assert.ErrorIs(t, err, billing.ErrUnresolvedPlan)
}

func TestReduce_OrderPaid_ForPack_NotARenewal(t *testing.T) {
	// GIVEN: A paid order for a one-time credit pack
	// THEN: The renewal path must NOT fire; the event is a no-op here
	//       (the pack was credited by its checkout event)

	ev := billing.Event{
		ID:          "evt-order",
		Type:        billing.EventOrderPaid,
		ProductType: billing.ProductCredits,
		ProductID:   "prod_pack_100",
		UserID:      "user-1",
	}

	effect, err := billing.Reduce(freeAccount(10), ev, reduceNow)
	require.NoError(t, err)
	assert.False(t, effect.Changed)
}

// =============================================================================
// SUBSCRIPTION LIFECYCLE
// =============================================================================

func TestReduce_SubscriptionCreated_StoresReference(t *testing.T) {
	// GIVEN: A subscription.created event with the provider reference
	// THEN: The reference is stored; no credits move

	ev := billing.Event{
		ID:              "evt-created",
		Type:            billing.EventSubscriptionCreated,
		SubscriptionRef: "sub-42",
		UserID:          "user-1",
	}

	effect, err := billing.Reduce(freeAccount(5), ev, reduceNow)
	require.NoError(t, err)

	assert.True(t, effect.Changed)
	assert.Equal(t, "sub-42", effect.Account.SubscriptionRef)
	assert.Equal(t, 5, effect.Account.Credits)
	assert.Empty(t, effect.Entries)
}

func TestReduce_Cancellation_KeepsUnspentCredits(t *testing.T) {
	// GIVEN: A starter subscriber with 47 unspent credits
	// WHEN: subscription.canceled arrives
	// THEN: Plan drops to free, reference clears, the 47 credits remain

	acct := credits.Account{
		UserID:          "user-1",
		Credits:         47,
		Plan:            credits.PlanStarter,
		SubscriptionRef: "sub-42",
	}
	ev := billing.Event{
		ID:     "evt-cancel",
		Type:   billing.EventSubscriptionCanceled,
		UserID: "user-1",
	}

	effect, err := billing.Reduce(acct, ev, reduceNow)
	require.NoError(t, err)

	assert.Equal(t, credits.PlanFree, effect.Account.Plan)
	assert.Empty(t, effect.Account.SubscriptionRef)
	assert.Equal(t, 47, effect.Account.Credits)
	require.Len(t, effect.Entries, 1)
	assert.Equal(t, 0, effect.Entries[0].Amount)
}

func TestReduce_Cancellation_AlreadyFree_NoOp(t *testing.T) {
	// GIVEN: An account already downgraded (local cancel beat the webhook)
	// THEN: The replayed cancellation changes nothing

	ev := billing.Event{Type: billing.EventSubscriptionCanceled, UserID: "user-1"}

	effect, err := billing.Reduce(freeAccount(12), ev, reduceNow)
	require.NoError(t, err)
	assert.False(t, effect.Changed)
}

func TestReduce_UnknownEventType_NoOp(t *testing.T) {
	// GIVEN: An event type added by the provider after this code shipped
	// THEN: Ignored, not an error

	ev := billing.Event{ID: "evt-x", Type: "invoice.finalized", UserID: "user-1"}

	effect, err := billing.Reduce(freeAccount(5), ev, reduceNow)
	require.NoError(t, err)
	assert.False(t, effect.Changed)
	assert.Equal(t, 5, effect.Account.Credits)
}
