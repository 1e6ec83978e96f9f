package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/reelreview/ledger/internal/domain"
)

// OnboardingStore is what onboarding needs from the ledger.
type OnboardingStore interface {
	GetPayoutAccount(ctx context.Context, reviewerID string) (*domain.ReviewerPayoutAccount, error)
	UpsertPayoutAccount(ctx context.Context, a domain.ReviewerPayoutAccount) error
}

// OnboardingLink is where a reviewer finishes connecting their account.
type OnboardingLink struct {
	URL              string `json:"url"`
	ConnectAccountID string `json:"stripe_connect_id"`
}

// Onboarder gives reviewers a connected account to be paid into.
type Onboarder struct {
	store    OnboardingStore
	accounts domain.ConnectAccounts
	logger   *slog.Logger
}

// NewOnboarder creates an onboarder.
func NewOnboarder(store OnboardingStore, accounts domain.ConnectAccounts, logger *slog.Logger) *Onboarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Onboarder{store: store, accounts: accounts, logger: logger.With("component", "payout")}
}

// Onboard returns an onboarding link for reviewerID, opening a connected
// account first if the reviewer has none. Onboarding completes
// asynchronously; account.updated events flip the status to complete.
func (o *Onboarder) Onboard(ctx context.Context, reviewerID, returnURL, refreshURL string) (OnboardingLink, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return OnboardingLink{}, domain.ErrMissingReviewerID
	}
	if returnURL == "" {
		return OnboardingLink{}, domain.ErrMissingReturnURL
	}
	if refreshURL == "" {
		refreshURL = returnURL
	}

	acct, err := o.store.GetPayoutAccount(ctx, reviewerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return OnboardingLink{}, fmt.Errorf("payout account %s: %w", reviewerID, err)
	}

	var connectID string
	if acct != nil && acct.Connected() {
		connectID = acct.ConnectAccountID
	} else {
		connectID, err = o.accounts.CreateExpressAccount(ctx, accountKey(reviewerID))
		if err != nil {
			return OnboardingLink{}, err
		}
		err = o.store.UpsertPayoutAccount(ctx, domain.ReviewerPayoutAccount{
			ReviewerID:       reviewerID,
			ConnectAccountID: connectID,
			OnboardingStatus: domain.OnboardingPending,
		})
		if err != nil {
			return OnboardingLink{}, &domain.LedgerWriteError{Op: "save payout account", Err: err}
		}
		o.logger.Info("reviewer connect account opened", "reviewer_id", reviewerID, "account_id", connectID)
	}

	url, err := o.accounts.CreateOnboardingLink(ctx, connectID, returnURL, refreshURL)
	if err != nil {
		return OnboardingLink{}, err
	}
	return OnboardingLink{URL: url, ConnectAccountID: connectID}, nil
}

// accountKey makes account creation idempotent per reviewer.
func accountKey(reviewerID string) string {
	return "connect-" + uuid.NewSHA1(payoutNamespace, []byte("account:"+reviewerID)).String()
}
