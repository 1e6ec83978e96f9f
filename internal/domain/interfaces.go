package domain

import "context"

// ─── Store Interfaces ───────────────────────────────────────────────────────
// These interfaces define the boundary between the reconciliation core and
// the ledger store. Infrastructure implements them; the app layer depends
// on them. Missing rows return ErrNotFound; a lost conditional write or a
// unique-key violation returns ErrConflict.

// PaymentStore persists PaymentRecords keyed by session id.
type PaymentStore interface {
	GetPaymentBySession(ctx context.Context, sessionID string) (*PaymentRecord, error)
	InsertPayment(ctx context.Context, p PaymentRecord) error
	// ApplyPaymentCredit adds the payment's credits to its user's wallet
	// and flags the payment credited, atomically. It reports false when the
	// payment was already credited.
	ApplyPaymentCredit(ctx context.Context, sessionID string) (bool, error)
}

// WalletStore persists user wallets.
type WalletStore interface {
	GetWallet(ctx context.Context, userID string) (*Wallet, error)
}

// AffiliateStore exposes attribution, tier, and commission records.
type AffiliateStore interface {
	LatestAttribution(ctx context.Context, userID string) (*AffiliateAttribution, error)
	AffiliateTier(ctx context.Context, code string) (Tier, error)
	GetCommissionBySession(ctx context.Context, sessionID string) (*AffiliateCommission, error)
	InsertCommission(ctx context.Context, c AffiliateCommission) error
}

// PayoutStore exposes payout requests, payee accounts, and balances.
type PayoutStore interface {
	GetPayoutRequest(ctx context.Context, id string) (*PayoutRequest, error)
	ListPayoutRequests(ctx context.Context, status PayoutStatus, limit int) ([]PayoutRequest, error)
	TransitionPayoutRequest(ctx context.Context, id string, from, to PayoutStatus) error
	SetPayoutTransfer(ctx context.Context, id, transferID string) error

	GetPayoutAccount(ctx context.Context, reviewerID string) (*ReviewerPayoutAccount, error)
	UpsertPayoutAccount(ctx context.Context, a ReviewerPayoutAccount) error
	SetOnboardingStatus(ctx context.Context, connectAccountID string, status OnboardingStatus) error

	GetReviewerBalance(ctx context.Context, reviewerID string) (*ReviewerBalance, error)
	// CompareAndSwapBalance writes next only if the stored balance still
	// equals expected.
	CompareAndSwapBalance(ctx context.Context, expected, next ReviewerBalance) error
}

// LedgerStore is the full record store.
type LedgerStore interface {
	PaymentStore
	WalletStore
	AffiliateStore
	PayoutStore
}

// ─── External Services ──────────────────────────────────────────────────────

// TransferRequest describes a platform → connected-account funds movement.
// IdempotencyKey lets the provider collapse retried calls into one transfer.
type TransferRequest struct {
	AmountCents          int64
	Currency             string
	DestinationAccountID string
	Description          string
	IdempotencyKey       string
}

// Transferer moves funds to a connected account and returns the transfer id.
type Transferer interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (string, error)
}

// ConnectAccounts creates connected payee accounts and their hosted
// onboarding links.
type ConnectAccounts interface {
	CreateExpressAccount(ctx context.Context, idempotencyKey string) (string, error)
	CreateOnboardingLink(ctx context.Context, accountID, returnURL, refreshURL string) (string, error)
}

// EventDeduper remembers provider event ids that were fully processed.
type EventDeduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) error
}
