package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makos-ai/credit-engine/billing"
	"github.com/makos-ai/credit-engine/credits"
	"github.com/makos-ai/credit-engine/ledger"
	"github.com/makos-ai/credit-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeProvider records cancellations instead of calling out.
type fakeProvider struct {
	canceled []string
	err      error
}

func (p *fakeProvider) CancelSubscription(_ context.Context, ref string) error {
	if p.err != nil {
		return p.err
	}
	p.canceled = append(p.canceled, ref)
	return nil
}

func newTestReconciler(t *testing.T) (*billing.Reconciler, *sqlite.Store, *fakeProvider) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provider := &fakeProvider{}
	return billing.NewReconciler(store, store, provider), store, provider
}

func createAccount(t *testing.T, store *sqlite.Store, userID ledger.UserID, email string, balance int, plan credits.Plan, ref string) {
	t.Helper()
	now := time.Now().UTC()
	acct := credits.Account{
		UserID:          userID,
		Email:           email,
		Credits:         balance,
		Plan:            plan,
		PlanActivatedAt: now,
		SubscriptionRef: ref,
		UpdatedAt:       now,
	}
	var grant *ledger.Entry
	if balance != 0 {
		grant = &ledger.Entry{
			ID:        ledger.EntryID("seed-" + string(userID)),
			UserID:    userID,
			Amount:    balance,
			Cause:     ledger.CauseBonus,
			CreatedAt: now,
		}
	}
	require.NoError(t, store.CreateAccount(context.Background(), acct, grant))
}

func packEvent(eventID, userID string) billing.Event {
	return billing.Event{
		ID:          eventID,
		Type:        billing.EventCheckoutUpdated,
		Status:      "succeeded",
		ProductType: billing.ProductCredits,
		ProductID:   "prod_pack_50",
		UserID:      userID,
	}
}

// =============================================================================
// REPLAY DEDUP
// =============================================================================

func TestReconciler_Replay_NoDoubleCredit(t *testing.T) {
	// GIVEN: A confirmed pack purchase already applied
	// WHEN: The provider redelivers the exact same event (at-least-once)
	// THEN: Acknowledged without crediting again

	rec, store, _ := newTestReconciler(t)
	ctx := context.Background()
	createAccount(t, store, "user-1", "u1@example.com", 10, credits.PlanFree, "")

	ev := packEvent("evt-pack-1", "user-1")
	require.NoError(t, rec.Process(ctx, ev))
	require.NoError(t, rec.Process(ctx, ev)) // replay
	require.NoError(t, rec.Process(ctx, ev)) // and again

	acct, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 60, acct.Credits)

	led := ledger.NewLedger(store)
	assert.NoError(t, ledger.Audit(ctx, led, "user-1", acct.Credits))

	done, err := store.IsEventProcessed(ctx, "evt-pack-1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestReconciler_DistinctEvents_BothApply(t *testing.T) {
	// GIVEN: Two different purchases by the same user
	// THEN: Both credit; dedup keys on event id, not content

	rec, store, _ := newTestReconciler(t)
	ctx := context.Background()
	createAccount(t, store, "user-1", "", 0, credits.PlanFree, "")

	require.NoError(t, rec.Process(ctx, packEvent("evt-a", "user-1")))
	require.NoError(t, rec.Process(ctx, packEvent("evt-b", "user-1")))

	acct, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 100, acct.Credits)
}

// =============================================================================
// ACCOUNT RESOLUTION
// =============================================================================

func TestReconciler_EmailFallback(t *testing.T) {
	// GIVEN: An event with no user id in metadata, only the billing email
	// THEN: The account resolves by email

	rec, store, _ := newTestReconciler(t)
	ctx := context.Background()
	createAccount(t, store, "user-1", "teacher@example.com", 5, credits.PlanFree, "")

	ev := packEvent("evt-1", "")
	ev.Email = "teacher@example.com"
	require.NoError(t, rec.Process(ctx, ev))

	acct, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 55, acct.Credits)
}

func TestReconciler_UnresolvableUser_Dropped(t *testing.T) {
	// GIVEN: A pack purchase naming an unknown user and unknown email
	// THEN: ErrUserNotResolved; nothing is written

	rec, store, _ := newTestReconciler(t)
	ctx := context.Background()

	ev := packEvent("evt-1", "ghost-user")
	ev.Email = "ghost@example.com"
	err := rec.Process(ctx, ev)
	assert.ErrorIs(t, err, billing.ErrUserNotResolved)

	done, err := store.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestReconciler_SubscriptionPayment_CreatesAccount(t *testing.T) {
	// GIVEN: A confirmed subscription checkout for a user id we have never
	//        seen (checkout completed before first login)
	// WHEN: The event is processed
	// THEN: The account is created and granted the plan ceiling

	rec, store, _ := newTestReconciler(t)
	ctx := context.Background()

	ev := billing.Event{
		ID:              "evt-sub-1",
		Type:            billing.EventCheckoutUpdated,
		Status:          "succeeded",
		ProductType:     billing.ProductSubscription,
		PlanName:        "starter",
		UserID:          "brand-new-user",
		Email:           "new@example.com",
		SubscriptionRef: "sub-7",
	}
	require.NoError(t, rec.Process(ctx, ev))

	acct, err := store.GetAccount(ctx, "brand-new-user")
	require.NoError(t, err)
	assert.Equal(t, credits.PlanStarter, acct.Plan)
	assert.Equal(t, 100, acct.Credits)
	assert.Equal(t, "sub-7", acct.SubscriptionRef)

	led := ledger.NewLedger(store)
	assert.NoError(t, ledger.Audit(ctx, led, "brand-new-user", acct.Credits))
}

// =============================================================================
// RENEWAL + CANCELLATION END TO END
// =============================================================================

func TestReconciler_Renewal_OverwritesBalance(t *testing.T) {
	// GIVEN: A pro subscriber down to 3 credits
	// WHEN: The renewal order arrives
	// THEN: Balance is exactly the plan ceiling and the ledger still sums

	rec, store, _ := newTestReconciler(t)
	ctx := context.Background()
	createAccount(t, store, "user-1", "", 3, credits.PlanPro, "sub-9")

	ev := billing.Event{
		ID:          "evt-renew",
		Type:        billing.EventOrderPaid,
		ProductType: billing.ProductSubscription,
		PlanName:    "pro",
		UserID:      "user-1",
	}
	require.NoError(t, rec.Process(ctx, ev))

	acct, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 200, acct.Credits)

	led := ledger.NewLedger(store)
	assert.NoError(t, ledger.Audit(ctx, led, "user-1", acct.Credits))
}

func TestReconciler_Cancel_LocalAndProvider(t *testing.T) {
	// GIVEN: A starter subscriber with 47 unspent credits
	// WHEN: The user cancels from our side
	// THEN: The provider is called, the plan drops to free, credits remain

	rec, store, provider := newTestReconciler(t)
	ctx := context.Background()
	createAccount(t, store, "user-1", "", 47, credits.PlanStarter, "sub-42")

	acct, err := rec.Cancel(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"sub-42"}, provider.canceled)
	assert.Equal(t, credits.PlanFree, acct.Plan)
	assert.Empty(t, acct.SubscriptionRef)
	assert.Equal(t, 47, acct.Credits)

	// The provider's own canceled webhook arrives afterwards: idempotent
	webhook := billing.Event{
		ID:     "evt-canceled",
		Type:   billing.EventSubscriptionCanceled,
		UserID: "user-1",
	}
	require.NoError(t, rec.Process(ctx, webhook))

	again, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 47, again.Credits)
	assert.Equal(t, credits.PlanFree, again.Plan)
}

func TestReconciler_Cancel_NoSubscription(t *testing.T) {
	// GIVEN: A free account with no provider reference
	// THEN: Cancel reports there is nothing to cancel

	rec, store, provider := newTestReconciler(t)
	ctx := context.Background()
	createAccount(t, store, "user-1", "", 5, credits.PlanFree, "")

	_, err := rec.Cancel(ctx, "user-1")
	assert.ErrorIs(t, err, billing.ErrNoSubscription)
	assert.Empty(t, provider.canceled)
}

func TestReconciler_Cancel_ProviderFailure_NoLocalChange(t *testing.T) {
	// GIVEN: The provider API is down
	// WHEN: Cancel runs
	// THEN: The error propagates and the account keeps its subscription

	rec, store, provider := newTestReconciler(t)
	provider.err = context.DeadlineExceeded
	ctx := context.Background()
	createAccount(t, store, "user-1", "", 47, credits.PlanStarter, "sub-42")

	_, err := rec.Cancel(ctx, "user-1")
	require.Error(t, err)

	acct, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, credits.PlanStarter, acct.Plan)
	assert.Equal(t, "sub-42", acct.SubscriptionRef)
}
