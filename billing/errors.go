package billing

import "errors"

var (
	// ErrUserNotResolved means neither the metadata user id nor the billing
	// email mapped to an account. The event is logged and dropped; retrying
	// the same payload cannot succeed, so the webhook still acks it.
	ErrUserNotResolved = errors.New("webhook event could not be mapped to an account")

	// ErrDuplicateEvent means the provider event id was already processed.
	// Expected under at-least-once delivery; acknowledged without reapplying.
	ErrDuplicateEvent = errors.New("webhook event already processed")

	// ErrNoSubscription is returned by Cancel when the account has no
	// active subscription reference to cancel.
	ErrNoSubscription = errors.New("no active subscription")

	// ErrUnresolvedPlan means a subscription event named neither a known
	// plan nor a known product id. Dropped with a log line; acking is
	// correct because redelivery carries the same metadata.
	ErrUnresolvedPlan = errors.New("subscription event names no known plan")
)
