/*
webhook.go - Billing webhook endpoint

PURPOSE:
  Receives signed POST payloads from the payment processor. The signature
  is verified over the raw body before anything in the payload is trusted.

RESPONSE CONTRACT:
  - 2xx: event applied, already applied, or unresolvable (user/plan unknown,
    where redelivery of identical metadata cannot help)
  - 400: bad signature or malformed payload (redelivery won't help either,
    but the processor alerts on these)
  - 500: store write failed. The processor's retry machinery redelivers,
    which is exactly what we want for transient failures.
*/
package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/makos-ai/credit-engine/billing"
)

// Webhook payloads are small; anything bigger is not from the provider.
const maxWebhookBody = 1 << 16

// BillingWebhook verifies and applies one provider event delivery.
func (h *Handler) BillingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", err)
		return
	}

	if err := billing.VerifySignature(h.Config.WebhookSecret, body, r.Header.Get(billing.SignatureHeader)); err != nil {
		log.Printf("[Webhook] signature rejected: %v", err)
		writeError(w, http.StatusBadRequest, "signature verification failed", nil)
		return
	}

	ev, err := billing.ParseEvent(body)
	if err != nil {
		log.Printf("[Webhook] malformed payload: %v", err)
		writeError(w, http.StatusBadRequest, "malformed payload", nil)
		return
	}

	err = h.Reconciler.Process(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, billing.ErrUserNotResolved), errors.Is(err, billing.ErrUnresolvedPlan):
		// Logged and dropped: the provider redelivering the same metadata
		// cannot succeed, so a retry loop would only make noise.
		log.Printf("[Webhook] dropping event %s (%s): %v", ev.ID, ev.Type, err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
	default:
		// Store-level failure: return 500 so the provider redelivers.
		log.Printf("[Webhook] event %s (%s) failed: %v", ev.ID, ev.Type, err)
		writeError(w, http.StatusInternalServerError, "event processing failed", nil)
	}
}
