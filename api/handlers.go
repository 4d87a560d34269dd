/*
handlers.go - HTTP API handlers for the credit ledger service

PURPOSE:
  Exposes the credit engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts (JWT auth, path id must match token subject):
    GET    /api/accounts/{id}          Balance and plan summary
    GET    /api/accounts/{id}/ledger   Cursor-paginated history
    POST   /api/accounts/{id}/spend    Debit for a worksheet generation
    POST   /api/accounts/{id}/cancel   Cancel subscription, downgrade to free

  Public:
    GET    /api/cost                   Pure generation cost query

  Billing (HMAC-signed):
    POST   /api/webhooks/billing       Payment provider events (webhook.go)

  Admin (shared bearer secret):
    POST   /api/admin/refresh          Trigger monthly free-tier refresh
    GET    /api/admin/audit/{id}       Ledger conservation check

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing/invalid credentials
  - 402: Insufficient credits (with shortfall)
  - 403: Token subject does not match path
  - 404: Account not found
  - 409: No active subscription to cancel
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - webhook.go: Billing webhook handler
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/makos-ai/credit-engine/billing"
	"github.com/makos-ai/credit-engine/credits"
	"github.com/makos-ai/credit-engine/ledger"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Config carries the shared secrets the handlers compare against.
type Config struct {
	WebhookSecret string // HMAC secret for the billing webhook
	RefreshToken  string // bearer secret for the admin refresh trigger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Accounts   credits.AccountStore
	Ledger     ledger.Ledger
	Guard      *credits.SpendGuard
	Reconciler *billing.Reconciler
	Refresher  *credits.Refresher
	Config     Config
}

// NewHandler wires a handler over one store implementing all interfaces.
func NewHandler(accounts credits.AccountStore, led ledger.Ledger, rec *billing.Reconciler, cfg Config) *Handler {
	return &Handler{
		Accounts:   accounts,
		Ledger:     led,
		Guard:      credits.NewSpendGuard(accounts),
		Reconciler: rec,
		Refresher:  credits.NewRefresher(accounts),
		Config:     cfg,
	}
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

// GetAccount returns the caller's balance summary, creating the account
// with the welcome bonus on first sight.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}

	acct, err := credits.EnsureAccount(r.Context(), h.Accounts, userID, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// GetHistory returns a newest-first page of the caller's ledger.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	entries, next, err := h.Ledger.History(r.Context(), userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Entries: toEntryDTOs(entries), NextCursor: next})
}

// Spend computes the generation cost server-side and debits it.
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}

	var req SpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.QuestionCount <= 0 {
		writeError(w, http.StatusBadRequest, "question_count must be positive", nil)
		return
	}

	// First generation may be the first contact with this user.
	if _, err := credits.EnsureAccount(r.Context(), h.Accounts, userID, ""); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load account", err)
		return
	}

	cost, balance, err := h.Guard.DebitForGeneration(r.Context(), userID, req.Subject, req.Topic, req.QuestionCount)
	if err != nil {
		var short *credits.InsufficientCreditsError
		if errors.As(err, &short) {
			writeJSON(w, http.StatusPaymentRequired, ErrorResponse{
				Error:     "insufficient credits",
				Details:   short.Error(),
				Shortfall: short.Shortfall(),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to debit", err)
		return
	}

	writeJSON(w, http.StatusOK, SpendResponse{Cost: cost, Credits: balance})
}

// Cancel cancels the caller's subscription and downgrades the plan to free.
// Unspent credits are kept.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}

	acct, err := h.Reconciler.Cancel(r.Context(), userID)
	switch {
	case errors.Is(err, credits.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found", nil)
	case errors.Is(err, billing.ErrNoSubscription):
		writeError(w, http.StatusConflict, "no active subscription", nil)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to cancel subscription", err)
	default:
		writeJSON(w, http.StatusOK, toAccountDTO(acct))
	}
}

// =============================================================================
// PUBLIC ENDPOINTS
// =============================================================================

// GetCost answers the pure generation-cost query any UI surface calls
// before submission.
func (h *Handler) GetCost(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count, err := strconv.Atoi(q.Get("questions"))
	if err != nil || count <= 0 {
		writeError(w, http.StatusBadRequest, "questions must be a positive integer", nil)
		return
	}
	writeJSON(w, http.StatusOK, CostResponse{Cost: credits.Cost(q.Get("subject"), q.Get("topic"), count)})
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// TriggerRefresh runs the monthly free-tier refresh. Guarded by a bearer
// shared secret intended for an external scheduler; the check runs before
// any state is touched.
func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.refreshAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid refresh token", nil)
		return
	}

	summary, err := h.Refresher.Run(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "refresh run failed", err)
		return
	}
	log.Printf("[Refresh] scanned=%d refreshed=%d skipped=%d failed=%d",
		summary.Scanned, summary.Refreshed, summary.Skipped, summary.Failed)
	writeJSON(w, http.StatusOK, RefreshResponse{
		Scanned:   summary.Scanned,
		Refreshed: summary.Refreshed,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
	})
}

// Audit checks ledger conservation for one account.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	if !h.refreshAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid token", nil)
		return
	}

	userID := ledger.UserID(chi.URLParam(r, "id"))
	acct, err := h.Accounts.GetAccount(r.Context(), userID)
	if errors.Is(err, credits.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, "account not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load account", err)
		return
	}

	entries, err := h.Ledger.Entries(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load ledger", err)
		return
	}

	sum := ledger.Sum(entries)
	writeJSON(w, http.StatusOK, AuditResponse{
		UserID:     string(userID),
		Credits:    acct.Credits,
		LedgerSum:  sum,
		Consistent: sum == acct.Credits,
	})
}

func (h *Handler) refreshAuthorized(r *http.Request) bool {
	if h.Config.RefreshToken == "" {
		return false
	}
	token, ok := extractBearer(r.Header.Get("Authorization"))
	return ok && token == h.Config.RefreshToken
}

// =============================================================================
// HELPERS
// =============================================================================

// pathUser resolves the {id} path parameter and enforces that it matches
// the authenticated subject.
func (h *Handler) pathUser(w http.ResponseWriter, r *http.Request) (ledger.UserID, bool) {
	pathID := ledger.UserID(chi.URLParam(r, "id"))
	if pathID == "" {
		writeError(w, http.StatusBadRequest, "missing account id", nil)
		return "", false
	}

	authed, ok := AuthedUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated", nil)
		return "", false
	}
	if authed != pathID {
		writeError(w, http.StatusForbidden, "account id does not match token", nil)
		return "", false
	}
	return pathID, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
