/*
reconciler.go - Applies payment events to the store

PURPOSE:
  Wires the pure reducer to persistence. Handles the messy parts the
  reducer must not know about: resolving which account an event belongs
  to, creating accounts for first-contact subscription payments, event-id
  replay dedup, and compare-and-swap retries against concurrent writers.

FAILURE SEMANTICS:
  - UserNotResolved / UnresolvedPlan: logged and dropped. The handler still
    acks, because the provider redelivering identical metadata cannot help.
  - Store write failures: PROPAGATED. The handler returns non-2xx so the
    provider's own retry machinery redelivers the event.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/makos-ai/credit-engine/credits"
	"github.com/makos-ai/credit-engine/ledger"
)

// casAttempts bounds the re-read/retry loop when a conditional write loses
// to a concurrent writer (e.g. a spend racing a renewal).
const casAttempts = 3

// EventLog records which provider event ids have been applied.
// Implemented by store/sqlite alongside the account store; the processed
// mark is written in the same transaction as the account mutation.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
}

// Reconciler interprets provider events and applies them to account state.
type Reconciler struct {
	Accounts credits.AccountStore
	Events   EventLog
	Provider ProviderClient // outbound cancel calls; nil disables Cancel
}

func NewReconciler(accounts credits.AccountStore, events EventLog, provider ProviderClient) *Reconciler {
	return &Reconciler{Accounts: accounts, Events: events, Provider: provider}
}

// Process applies one webhook event. Idempotent against redelivery: replays
// of an already-processed event id return nil without touching state.
func (r *Reconciler) Process(ctx context.Context, ev Event) error {
	if ev.ID != "" {
		done, err := r.Events.IsEventProcessed(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("check event %s: %w", ev.ID, err)
		}
		if done {
			log.Printf("[Reconciler] replay of event %s (%s), already applied", ev.ID, ev.Type)
			return nil
		}
	}

	acct, err := r.resolveAccount(ctx, ev)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	userID := acct.UserID
	for attempt := 0; attempt < casAttempts; attempt++ {
		effect, err := Reduce(*acct, ev, now)
		if err != nil {
			return err
		}
		if !effect.Changed {
			log.Printf("[Reconciler] event %s (%s): %s", ev.ID, ev.Type, effect.Note)
			return nil
		}

		entries := withEntryIDs(effect.Entries)
		err = r.Accounts.UpdateAccount(ctx, effect.Account, acct.Credits, entries, eventMark(ev))
		switch {
		case err == nil:
			log.Printf("[Reconciler] event %s (%s) applied to %s: %s",
				ev.ID, ev.Type, userID, effect.Note)
			return nil
		case errors.Is(err, ErrDuplicateEvent):
			// A concurrent delivery of the same event won the write.
			log.Printf("[Reconciler] event %s applied concurrently elsewhere", ev.ID)
			return nil
		case credits.IsRetryable(err):
			// Balance moved under us (a spend, another webhook). Re-read
			// and re-run the reducer on fresh state.
			acct, err = r.Accounts.GetAccount(ctx, userID)
			if err != nil {
				return fmt.Errorf("re-read %s after conflict: %w", userID, err)
			}
			continue
		default:
			return fmt.Errorf("apply event %s (%s): %w", ev.ID, ev.Type, err)
		}
	}
	return fmt.Errorf("apply event %s: %w after %d attempts",
		ev.ID, credits.ErrConcurrentModification, casAttempts)
}

// resolveAccount maps an event to an account: metadata user id first, then
// billing email. A subscription-confirming payment for an unseen user id
// creates the account (first contact may be the webhook, not a login).
func (r *Reconciler) resolveAccount(ctx context.Context, ev Event) (*credits.Account, error) {
	if ev.UserID != "" {
		acct, err := r.Accounts.GetAccount(ctx, ledger.UserID(ev.UserID))
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, credits.ErrAccountNotFound) {
			return nil, err
		}
		if createsAccount(ev) {
			return r.createForWebhook(ctx, ev)
		}
		return nil, fmt.Errorf("%w: user id %q unknown", ErrUserNotResolved, ev.UserID)
	}

	if ev.Email != "" {
		acct, err := r.Accounts.FindAccountByEmail(ctx, ev.Email)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, credits.ErrAccountNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no user id, email %q unknown", ErrUserNotResolved, ev.Email)
}

// createsAccount reports whether an event may establish a brand-new account.
func createsAccount(ev Event) bool {
	if !ev.Confirmed() {
		return false
	}
	switch ev.Type {
	case EventCheckoutCreated, EventCheckoutUpdated, EventOrderPaid:
		return ev.ProductType == ProductSubscription
	}
	return false
}

func (r *Reconciler) createForWebhook(ctx context.Context, ev Event) (*credits.Account, error) {
	now := time.Now().UTC()
	fresh := credits.Account{
		UserID:          ledger.UserID(ev.UserID),
		Email:           ev.Email,
		Plan:            credits.PlanFree,
		PlanActivatedAt: now,
		UpdatedAt:       now,
	}
	err := r.Accounts.CreateAccount(ctx, fresh, nil)
	if err != nil && !errors.Is(err, credits.ErrAccountExists) {
		return nil, fmt.Errorf("create account for event %s: %w", ev.ID, err)
	}
	return r.Accounts.GetAccount(ctx, fresh.UserID)
}

// Cancel cancels a user's subscription with the provider, then applies the
// same downgrade transition as a subscription.canceled webhook. The local
// downgrade runs even though the webhook will also arrive; the reducer's
// cancellation path is idempotent on already-free accounts.
func (r *Reconciler) Cancel(ctx context.Context, userID ledger.UserID) (*credits.Account, error) {
	acct, err := r.Accounts.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct.SubscriptionRef == "" {
		return nil, ErrNoSubscription
	}

	if r.Provider != nil {
		if err := r.Provider.CancelSubscription(ctx, acct.SubscriptionRef); err != nil {
			return nil, fmt.Errorf("provider cancel %s: %w", acct.SubscriptionRef, err)
		}
	}

	synthetic := Event{Type: EventSubscriptionCanceled, UserID: string(userID)}
	if err := r.Process(ctx, synthetic); err != nil {
		return nil, err
	}
	return r.Accounts.GetAccount(ctx, userID)
}

// eventMark is nil for events the provider delivered without an id, such as
// the synthetic cancellation event; those rely on entry idempotency keys.
func eventMark(ev Event) *credits.EventMark {
	if ev.ID == "" {
		return nil
	}
	return &credits.EventMark{ID: ev.ID, Type: string(ev.Type)}
}

func withEntryIDs(entries []ledger.Entry) []ledger.Entry {
	out := make([]ledger.Entry, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			e.ID = ledger.EntryID(uuid.NewString())
		}
		out[i] = e
	}
	return out
}
