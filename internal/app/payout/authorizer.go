// Package payout executes operator-approved reviewer payouts.
//
// An authorization validates the request against the ledger, reserves the
// amount on the reviewer's balance, moves funds through the transfer
// provider, then records the outcome. Validation failures leave every record
// untouched, and a failed transfer hands the reservation back. Once the transfer has gone through,
// nothing is retried blindly: a failed ledger update is reported as a
// PostTransferError for manual reconciliation.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelreview/ledger/internal/domain"
	"github.com/reelreview/ledger/internal/infra/observability"
)

const (
	// DefaultMaxAttempts bounds the balance compare-and-swap retry loop.
	DefaultMaxAttempts = 3

	// DefaultLedgerTimeout bounds the ledger writes that follow a transfer.
	DefaultLedgerTimeout = 10 * time.Second

	releaseAttempts = 10
)

// payoutNamespace scopes transfer idempotency keys to this ledger.
var payoutNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("reelpay:payout-transfer"))

// Config controls how transfers are issued.
type Config struct {
	Currency    string
	Description string // "#<request id>" is appended
	MaxAttempts int
	// LedgerTimeout bounds ledger writes once they are detached from the
	// caller's context.
	LedgerTimeout time.Duration
}

// DefaultConfig returns the production payout settings.
func DefaultConfig() Config {
	return Config{
		Currency:    "usd",
		Description: "ReelReview payout",
		MaxAttempts:   DefaultMaxAttempts,
		LedgerTimeout: DefaultLedgerTimeout,
	}
}

// Result is a successful authorization.
type Result struct {
	PayoutRequestID string
	ReviewerID      string
	TransferID      string
	AmountCents     int64
	Balance         domain.ReviewerBalance
}

// Authorizer runs payout authorizations.
type Authorizer struct {
	store     domain.PayoutStore
	transfers domain.Transferer
	cfg       Config
	logger    *slog.Logger
}

// New creates an authorizer. Zero config fields take their defaults.
func New(store domain.PayoutStore, transfers domain.Transferer, cfg Config, logger *slog.Logger) *Authorizer {
	def := DefaultConfig()
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.Description == "" {
		cfg.Description = def.Description
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = def.LedgerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{
		store:     store,
		transfers: transfers,
		cfg:       cfg,
		logger:    logger.With("component", "payout"),
	}
}

// IdempotencyKey derives the transfer idempotency key for a payout request.
// Every authorization of the same request sends the same key, so the
// provider collapses retried transfers into one. The provider also replays a
// cached failure for the same key for about a day.
func IdempotencyKey(payoutRequestID string) string {
	return "payout-" + uuid.NewSHA1(payoutNamespace, []byte(payoutRequestID)).String()
}

// ListRequested returns payout requests awaiting authorization.
func (a *Authorizer) ListRequested(ctx context.Context, limit int) ([]domain.PayoutRequest, error) {
	return a.store.ListPayoutRequests(ctx, domain.PayoutRequested, limit)
}

// Authorize pays out the request identified by id.
func (a *Authorizer) Authorize(ctx context.Context, id string) (Result, error) {
	res, err := a.authorize(ctx, strings.TrimSpace(id))
	observability.PayoutAuthorizations.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		observability.PayoutCents.Add(float64(res.AmountCents))
	}
	return res, err
}

func (a *Authorizer) authorize(ctx context.Context, id string) (Result, error) {
	if id == "" {
		return Result{}, domain.ErrMissingPayoutID
	}

	req, acct, err := a.validate(ctx, id)
	if err != nil {
		a.logger.Info("payout rejected", "payout_request_id", id, "error", err)
		return Result{}, err
	}
	res := Result{PayoutRequestID: req.ID, ReviewerID: req.ReviewerID, AmountCents: req.AmountCents}

	// Reserve before the transfer. A second payout for the same reviewer
	// then sees the reduced balance and fails the balance check instead of moving
	// money the balance no longer covers.
	before, after, err := a.reserve(ctx, req)
	if err != nil {
		a.logger.Info("payout rejected", "payout_request_id", id, "error", err)
		return Result{}, err
	}
	res.Balance = after

	transferID, err := a.transfers.CreateTransfer(ctx, domain.TransferRequest{
		AmountCents:          req.AmountCents,
		Currency:             a.cfg.Currency,
		DestinationAccountID: acct.ConnectAccountID,
		Description:          fmt.Sprintf("%s #%s", a.cfg.Description, req.ID),
		IdempotencyKey:       IdempotencyKey(req.ID),
	})
	if err != nil {
		a.logger.Warn("transfer failed", "payout_request_id", req.ID, "reviewer_id", req.ReviewerID, "amount_cents", req.AmountCents, "error", err)
		a.release(ctx, req)
		return Result{}, fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	res.TransferID = transferID

	// Money has moved. From here on every failure is post-transfer, and the
	// ledger writes no longer depend on the caller staying connected.
	ctx, cancel := a.detached(ctx)
	defer cancel()

	err = a.store.TransitionPayoutRequest(ctx, req.ID, domain.PayoutRequested, domain.PayoutPaid)
	if errors.Is(err, domain.ErrConflict) {
		// The concurrent run sent the same idempotency key, so the provider
		// returned its transfer rather than creating a second one. Only the
		// winner keeps its reservation.
		a.logger.Warn("payout request claimed by a concurrent authorization",
			"payout_request_id", req.ID, "transfer_id", transferID)
		a.release(ctx, req)
		return Result{}, fmt.Errorf("payout %s: %w", req.ID, domain.ErrInvalidState)
	}
	if err != nil {
		return Result{}, a.postTransfer(res, before, err)
	}

	if err := a.store.SetPayoutTransfer(ctx, req.ID, transferID); err != nil {
		return Result{}, a.postTransfer(res, before, err)
	}

	a.logger.Info("payout paid",
		"payout_request_id", req.ID,
		"reviewer_id", req.ReviewerID,
		"transfer_id", transferID,
		"amount_cents", req.AmountCents,
		"available_cents", after.AvailableCents,
		"paid_cents", after.PaidCents,
	)
	return res, nil
}

// detached returns a context for ledger writes that must land once funds
// have moved. It keeps ctx's values but not its cancellation.
func (a *Authorizer) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), a.cfg.LedgerTimeout)
}

// validate runs the pre-transfer checks in order, short-circuiting on the
// first failure. It only reads.
func (a *Authorizer) validate(ctx context.Context, id string) (*domain.PayoutRequest, *domain.ReviewerPayoutAccount, error) {
	req, err := a.store.GetPayoutRequest(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("payout request %s: %w", id, err)
	}
	if req.Status != domain.PayoutRequested {
		return nil, nil, fmt.Errorf("payout %s is %s: %w", id, req.Status, domain.ErrInvalidState)
	}

	acct, err := a.store.GetPayoutAccount(ctx, req.ReviewerID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !acct.Connected()) {
		return nil, nil, fmt.Errorf("reviewer %s: %w", req.ReviewerID, domain.ErrReviewerNotOnboarded)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("payout account %s: %w", req.ReviewerID, err)
	}

	bal, err := a.store.GetReviewerBalance(ctx, req.ReviewerID)
	if errors.Is(err, domain.ErrNotFound) {
		bal, err = &domain.ReviewerBalance{ReviewerID: req.ReviewerID}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("balance %s: %w", req.ReviewerID, err)
	}
	if bal.AvailableCents < req.AmountCents {
		return nil, nil, fmt.Errorf("reviewer %s has %d cents, needs %d: %w",
			req.ReviewerID, bal.AvailableCents, req.AmountCents, domain.ErrInsufficientBalance)
	}
	return req, acct, nil
}

// reserve moves the request amount from available to paid with a bounded
// compare-and-swap loop. It returns the balance it last read before the
// swap and the balance it wrote.
func (a *Authorizer) reserve(ctx context.Context, req *domain.PayoutRequest) (*domain.ReviewerBalance, domain.ReviewerBalance, error) {
	var before *domain.ReviewerBalance
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		bal, err := a.store.GetReviewerBalance(ctx, req.ReviewerID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ReviewerBalance{}, fmt.Errorf("reviewer %s: %w", req.ReviewerID, domain.ErrInsufficientBalance)
		}
		if err != nil {
			return before, domain.ReviewerBalance{}, fmt.Errorf("reread balance: %w", err)
		}
		before = bal
		if bal.AvailableCents < req.AmountCents {
			return before, domain.ReviewerBalance{}, fmt.Errorf("reviewer %s has %d cents, needs %d: %w",
				req.ReviewerID, bal.AvailableCents, req.AmountCents, domain.ErrInsufficientBalance)
		}

		next := bal.Pay(req.AmountCents)
		err = a.store.CompareAndSwapBalance(ctx, *bal, next)
		if err == nil {
			return before, next, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return before, domain.ReviewerBalance{}, fmt.Errorf("swap balance: %w", err)
		}
		observability.BalanceConflicts.Inc()
		a.logger.Debug("balance changed underneath payout, retrying",
			"payout_request_id", req.ID, "attempt", attempt)
	}
	return before, domain.ReviewerBalance{}, fmt.Errorf("balance swap after %d attempts: %w",
		a.cfg.MaxAttempts, domain.ErrConcurrentModification)
}

// release hands a reservation back when no transfer was recorded against
// it. It runs detached from the caller and retries harder than reserve,
// since giving up leaves the reviewer short.
func (a *Authorizer) release(ctx context.Context, req *domain.PayoutRequest) {
	ctx, cancel := a.detached(ctx)
	defer cancel()

	var err error
	for attempt := 1; attempt <= releaseAttempts; attempt++ {
		var bal *domain.ReviewerBalance
		bal, err = a.store.GetReviewerBalance(ctx, req.ReviewerID)
		if err != nil {
			break
		}
		err = a.store.CompareAndSwapBalance(ctx, *bal, bal.Refund(req.AmountCents))
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
		observability.BalanceConflicts.Inc()
	}
	observability.ReservationLeaks.Inc()
	a.logger.Error("payout reservation not released",
		"payout_request_id", req.ID,
		"reviewer_id", req.ReviewerID,
		"amount_cents", req.AmountCents,
		"error", err,
	)
}

// postTransfer reports a ledger failure after funds moved. It is never
// retried.
func (a *Authorizer) postTransfer(res Result, bal *domain.ReviewerBalance, err error) error {
	observability.PostTransferInconsistencies.Inc()
	attrs := []any{
		"transfer_id", res.TransferID,
		"payout_request_id", res.PayoutRequestID,
		"reviewer_id", res.ReviewerID,
		"amount_cents", res.AmountCents,
		"error", err,
	}
	if bal != nil {
		attrs = append(attrs, "available_before", bal.AvailableCents, "paid_before", bal.PaidCents)
	}
	a.logger.Error("CRITICAL: transfer sent but ledger not updated", attrs...)
	return &domain.PostTransferError{
		TransferID:      res.TransferID,
		PayoutRequestID: res.PayoutRequestID,
		ReviewerID:      res.ReviewerID,
		AmountCents:     res.AmountCents,
		Err:             err,
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "paid"
	case errors.Is(err, domain.ErrPostTransferInconsistency):
		return "post_transfer_inconsistency"
	case errors.Is(err, domain.ErrMissingPayoutID):
		return "missing_id"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrReviewerNotOnboarded):
		return "not_onboarded"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "conflict"
	default:
		return "error"
	}
}
