// Package transfer talks to Stripe Connect: it moves payout funds to
// reviewers' connected accounts and opens those accounts.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/reelreview/ledger/internal/domain"
)

// Config holds the Stripe client settings.
type Config struct {
	SecretKey string
	// APIBase overrides the Stripe API URL (a local twin in tests).
	APIBase string
	// MaxNetworkRetries is passed to the SDK. Retried requests reuse the
	// idempotency key, so they cannot create a second transfer.
	MaxNetworkRetries int64
	Timeout           time.Duration
}

// Stripe implements domain.Transferer with the Stripe Transfers API.
type Stripe struct {
	api    *client.API
	logger *slog.Logger
}

// NewStripe creates a Stripe transferer.
func NewStripe(cfg Config, logger *slog.Logger) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIBase != "" {
		backendCfg.URL = stripe.String(cfg.APIBase)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}

	return &Stripe{
		api:    client.New(cfg.SecretKey, backends),
		logger: logger.With("component", "transfer"),
	}, nil
}

// CreateTransfer sends req.AmountCents to req.DestinationAccountID and
// returns the Stripe transfer id.
func (s *Stripe) CreateTransfer(ctx context.Context, req domain.TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.DestinationAccountID),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	t, err := s.api.Transfers.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) {
			s.logger.Warn("stripe rejected transfer",
				"destination", req.DestinationAccountID,
				"amount_cents", req.AmountCents,
				"status", serr.HTTPStatusCode,
				"type", serr.Type,
				"code", serr.Code,
				"request_id", serr.RequestID,
			)
			return "", fmt.Errorf("stripe transfer (%s): %w", serr.Code, err)
		}
		return "", fmt.Errorf("stripe transfer: %w", err)
	}

	s.logger.Info("transfer created", "transfer_id", t.ID, "destination", req.DestinationAccountID, "amount_cents", req.AmountCents)
	return t.ID, nil
}

// ─── Connect accounts ───────────────────────────────────────────────────────

// CreateExpressAccount opens an Express connected account.
func (s *Stripe) CreateExpressAccount(ctx context.Context, idempotencyKey string) (string, error) {
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	acct, err := s.api.Accounts.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create account: %w", err)
	}
	s.logger.Info("connect account created", "account_id", acct.ID)
	return acct.ID, nil
}

// CreateOnboardingLink returns a hosted onboarding URL for accountID.
func (s *Stripe) CreateOnboardingLink(ctx context.Context, accountID, returnURL, refreshURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		ReturnURL:  stripe.String(returnURL),
		RefreshURL: stripe.String(refreshURL),
		Type:       stripe.String(string(stripe.AccountLinkTypeAccountOnboarding)),
	}
	params.Context = ctx
	link, err := s.api.AccountLinks.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe account link %s: %w", accountID, err)
	}
	return link.URL, nil
}

var (
	_ domain.Transferer      = (*Stripe)(nil)
	_ domain.ConnectAccounts = (*Stripe)(nil)
)
