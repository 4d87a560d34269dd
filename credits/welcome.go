/*
welcome.go - Lazy account creation

An account appears the first time we see an authenticated user (welcome
bonus) or on their first successful subscription webhook, whichever comes
first. Creation races resolve through the store's uniqueness guarantee:
the loser gets ErrAccountExists and re-reads.
*/
package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/makos-ai/credit-engine/ledger"
)

// EnsureAccount returns the user's account, creating it with the welcome
// bonus on first sight.
func EnsureAccount(ctx context.Context, store AccountStore, userID ledger.UserID, email string) (*Account, error) {
	acct, err := store.GetAccount(ctx, userID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	fresh := Account{
		UserID:          userID,
		Email:           email,
		Credits:         WelcomeBonus,
		Plan:            PlanFree,
		PlanActivatedAt: now,
		UpdatedAt:       now,
	}
	welcome := ledger.Entry{
		ID:             ledger.EntryID(uuid.NewString()),
		UserID:         userID,
		Amount:         WelcomeBonus,
		Cause:          ledger.CauseBonus,
		Description:    "welcome bonus",
		IdempotencyKey: fmt.Sprintf("welcome:%s", userID),
		CreatedAt:      now,
	}

	err = store.CreateAccount(ctx, fresh, &welcome)
	if err == nil {
		return &fresh, nil
	}
	if errors.Is(err, ErrAccountExists) {
		// Lost the creation race; the other writer's record wins.
		return store.GetAccount(ctx, userID)
	}
	return nil, err
}
