/*
dto.go - Data Transfer Objects for API requests and responses

Defines the JSON structures for API communication, decoupling the internal
domain model from the external contract. Validation is done in handlers;
DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/makos-ai/credit-engine/credits"
	"github.com/makos-ai/credit-engine/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AccountDTO represents a credit account in API responses.
type AccountDTO struct {
	UserID          string `json:"user_id"`
	Credits         int    `json:"credits"`
	Plan            string `json:"plan"`
	PlanActivatedAt string `json:"plan_activated_at"`
	HasSubscription bool   `json:"has_subscription"`
}

// SpendRequest is the body for POST /accounts/{id}/spend.
type SpendRequest struct {
	Subject       string `json:"subject"`
	Topic         string `json:"topic"`
	QuestionCount int    `json:"question_count"`
}

// SpendResponse reports the applied debit.
type SpendResponse struct {
	Cost    int `json:"cost"`
	Credits int `json:"credits"`
}

// CostResponse answers the public cost query.
type CostResponse struct {
	Cost int `json:"cost"`
}

// EntryDTO represents one ledger entry in history responses.
type EntryDTO struct {
	ID          string `json:"id"`
	Amount      int    `json:"amount"`
	Cause       string `json:"cause"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// HistoryResponse is a cursor-paginated ledger page, newest first.
type HistoryResponse struct {
	Entries    []EntryDTO `json:"entries"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// RefreshResponse summarizes a monthly refresh run.
type RefreshResponse struct {
	Scanned   int `json:"scanned"`
	Refreshed int `json:"refreshed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// AuditResponse reports the ledger conservation check for one account.
type AuditResponse struct {
	UserID    string `json:"user_id"`
	Credits   int    `json:"credits"`
	LedgerSum int    `json:"ledger_sum"`
	Consistent bool  `json:"consistent"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Shortfall int    `json:"shortfall,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAccountDTO(a *credits.Account) AccountDTO {
	return AccountDTO{
		UserID:          string(a.UserID),
		Credits:         a.Credits,
		Plan:            string(a.Plan),
		PlanActivatedAt: a.PlanActivatedAt.UTC().Format(time.RFC3339),
		HasSubscription: a.SubscriptionRef != "",
	}
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, EntryDTO{
			ID:          string(e.ID),
			Amount:      e.Amount,
			Cause:       string(e.Cause),
			Description: e.Description,
			CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return dtos
}
