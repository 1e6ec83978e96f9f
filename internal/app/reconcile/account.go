package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reelreview/ledger/internal/app/webhook"
	"github.com/reelreview/ledger/internal/domain"
)

// AccountStore is what the account handler needs from the ledger.
type AccountStore interface {
	SetOnboardingStatus(ctx context.Context, connectAccountID string, status domain.OnboardingStatus) error
}

// AccountHandler keeps a reviewer's onboarding status in step with the
// provider's view of their connected account.
type AccountHandler struct {
	store  AccountStore
	logger *slog.Logger
}

// NewAccountHandler creates an account.updated handler.
func NewAccountHandler(store AccountStore, logger *slog.Logger) *AccountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{store: store, logger: logger.With("component", "reconcile")}
}

// Handle implements webhook.Handler. Accounts this ledger does not know
// about are acknowledged without changes.
func (h *AccountHandler) Handle(ctx context.Context, ev *webhook.VerifiedEvent) error {
	if ev.Account == nil {
		return fmt.Errorf("%w: event %s has no account", domain.ErrMalformedEvent, ev.ID)
	}

	status := domain.OnboardingPending
	if ev.Account.Onboarded() {
		status = domain.OnboardingComplete
	}

	err := h.store.SetOnboardingStatus(ctx, ev.Account.AccountID, status)
	if errors.Is(err, domain.ErrNotFound) {
		h.logger.Info("account update for unknown connect account", "account_id", ev.Account.AccountID)
		return nil
	}
	if err != nil {
		return &domain.LedgerWriteError{Op: "set onboarding status", Err: err}
	}
	h.logger.Info("onboarding status updated", "account_id", ev.Account.AccountID, "status", status)
	return nil
}
