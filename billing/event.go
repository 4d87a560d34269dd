/*
Package billing translates payment-provider webhook events into account and
ledger state changes.

PURPOSE:
  The provider delivers named events at-least-once, unordered, with partially
  filled metadata. This package turns that stream into a single auditable
  definition of what each event does to account state:

    parse -> resolve user -> Reduce (pure) -> conditional store write

KEY PIECES:
  - event.go:      Event type and defensive payload parsing
  - signature.go:  HMAC verification of the raw webhook body
  - reducer.go:    Pure state transition (Account, Event) -> Effect
  - reconciler.go: Applies the reducer through the store, idempotently
  - provider.go:   Outbound client for subscription cancellation

IDEMPOTENCY:
  Processed provider event ids are recorded atomically with the state write.
  A redelivered event is acknowledged without being reapplied, so replaying
  a credit-pack checkout cannot double-credit.
*/
package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// =============================================================================
// EVENT TYPES - The provider vocabulary we consume
// =============================================================================

type EventType string

const (
	EventCheckoutCreated      EventType = "checkout.created"
	EventCheckoutUpdated      EventType = "checkout.updated"
	EventSubscriptionCreated  EventType = "subscription.created"
	EventSubscriptionUpdated  EventType = "subscription.updated"
	EventSubscriptionCanceled EventType = "subscription.canceled"
	EventOrderPaid            EventType = "order.paid"
)

// Product types carried in event metadata.
const (
	ProductCredits      = "credits"
	ProductSubscription = "subscription"
)

// Checkout statuses that count as confirmed payment.
const (
	statusSucceeded = "succeeded"
	statusConfirmed = "confirmed"
)

// =============================================================================
// EVENT - Normalized webhook event
// =============================================================================

// Event is the normalized form of one provider webhook delivery. Every
// field except ID and Type is optional; the reconciler falls back where
// the provider left gaps (email instead of user id, product id instead of
// plan name).
type Event struct {
	ID     string // provider event id, used for replay dedup
	Type   EventType
	Status string // checkout status; mutations apply only when confirmed

	ProductType string // "credits" or "subscription", from metadata
	ProductID   string
	PlanName    string // plan from metadata, may be empty
	PackCredits int    // pack size from metadata, 0 when absent

	UserID          string // correlation id from metadata, may be empty
	Email           string // billing email, fallback resolution
	SubscriptionRef string // provider subscription reference
}

// Confirmed reports whether a checkout-style event represents completed
// payment. Non-checkout events are always actionable.
func (e Event) Confirmed() bool {
	switch e.Type {
	case EventCheckoutCreated, EventCheckoutUpdated:
		return e.Status == statusSucceeded || e.Status == statusConfirmed
	}
	return true
}

// =============================================================================
// PAYLOAD PARSING
// =============================================================================

// envelope mirrors the provider's webhook JSON. All data fields are read
// defensively; metadata is an opaque string map.
type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ID             string            `json:"id"`
		Status         string            `json:"status"`
		ProductID      string            `json:"product_id"`
		CustomerEmail  string            `json:"customer_email"`
		SubscriptionID string            `json:"subscription_id"`
		Metadata       map[string]string `json:"metadata"`
	} `json:"data"`
}

// ParseEvent decodes a raw webhook body into a normalized Event.
// Unknown event types parse fine; the reducer treats them as no-ops.
func ParseEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("webhook payload missing type")
	}

	ev := Event{
		ID:        env.ID,
		Type:      EventType(env.Type),
		Status:    env.Data.Status,
		ProductID: env.Data.ProductID,
		Email:     env.Data.CustomerEmail,
	}

	meta := env.Data.Metadata
	ev.ProductType = meta["product_type"]
	ev.PlanName = meta["plan"]
	ev.UserID = meta["user_id"]
	if raw, ok := meta["credits"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			ev.PackCredits = n
		}
	}

	// Subscription events carry the reference either as a dedicated field
	// or as the object id itself.
	ev.SubscriptionRef = env.Data.SubscriptionID
	if ev.SubscriptionRef == "" {
		switch ev.Type {
		case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionCanceled:
			ev.SubscriptionRef = env.Data.ID
		}
	}

	return ev, nil
}
