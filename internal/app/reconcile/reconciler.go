// Package reconcile turns verified provider events into ledger mutations.
//
// Every step is guarded by the checkout session id, so a handler may run any
// number of times for the same session. The payment row, the wallet credit
// and the affiliate commission are each applied at most once, and a retry
// after a partial failure completes the missing steps.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reelreview/ledger/internal/app/webhook"
	"github.com/reelreview/ledger/internal/domain"
	"github.com/reelreview/ledger/internal/infra/observability"
)

// Store is what the reconciler needs from the ledger.
type Store interface {
	domain.PaymentStore
	domain.WalletStore
	domain.AffiliateStore
}

// Result describes what one reconciliation pass changed.
type Result struct {
	SessionID         string
	PaymentCreated    bool
	WalletCredited    bool
	CreditsGranted    int64
	AffiliateCode     string
	CommissionCreated bool
	CommissionCents   int64
}

// Reconciler is the purchase-completed handler.
type Reconciler struct {
	store  Store
	logger *slog.Logger
}

// New creates a reconciler over store.
func New(store Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, logger: logger.With("component", "reconcile")}
}

// Handle implements webhook.Handler.
func (r *Reconciler) Handle(ctx context.Context, ev *webhook.VerifiedEvent) error {
	if ev.Purchase == nil {
		return fmt.Errorf("%w: event %s has no session", domain.ErrInvalidMetadata, ev.ID)
	}
	_, err := r.Reconcile(ctx, *ev.Purchase)
	return err
}

// Reconcile applies one completed purchase to the ledger.
func (r *Reconciler) Reconcile(ctx context.Context, p webhook.PurchaseCompleted) (Result, error) {
	res := Result{SessionID: p.SessionID}
	md := p.Metadata
	if md.UserID == "" || md.Pack == "" {
		return res, fmt.Errorf("%w: missing user_id or pack on session %s", domain.ErrInvalidMetadata, p.SessionID)
	}

	credits, known := domain.CreditsForPack(md.Pack)
	if !known {
		observability.UnknownPacks.WithLabelValues(md.Pack).Inc()
		r.logger.Warn("purchase of unknown pack, granting no credits",
			"session_id", p.SessionID, "user_id", md.UserID, "pack", md.Pack, "amount_cents", p.AmountTotalCents)
	}

	payment, created, err := r.ensurePayment(ctx, p, credits)
	if err != nil {
		return res, err
	}
	res.PaymentCreated = created

	applied := false
	if !payment.WalletCredited {
		applied, err = r.store.ApplyPaymentCredit(ctx, p.SessionID)
		if err != nil {
			return res, ledgerErr("credit wallet", err)
		}
	}
	if applied {
		res.WalletCredited = true
		res.CreditsGranted = payment.CreditsGranted
		observability.CreditsGranted.Add(float64(payment.CreditsGranted))
	} else {
		observability.DuplicateDeliveries.Inc()
		r.logger.Info("session already credited", "session_id", p.SessionID, "user_id", payment.UserID)
	}

	code, err := r.resolveAffiliate(ctx, payment.UserID, md.AffiliateCode)
	if err != nil {
		return res, err
	}
	if code != "" {
		res.AffiliateCode = code
		created, cents, err := r.ensureCommission(ctx, code, payment)
		if err != nil {
			return res, err
		}
		res.CommissionCreated = created
		res.CommissionCents = cents
	}

	r.logger.Info("purchase reconciled",
		"session_id", p.SessionID,
		"user_id", payment.UserID,
		"payment_created", res.PaymentCreated,
		"credits_granted", res.CreditsGranted,
		"affiliate_code", res.AffiliateCode,
		"commission_cents", res.CommissionCents,
	)
	return res, nil
}

// ensurePayment returns the session's payment row, inserting it if absent.
func (r *Reconciler) ensurePayment(ctx context.Context, p webhook.PurchaseCompleted, credits int64) (*domain.PaymentRecord, bool, error) {
	existing, err := r.store.GetPaymentBySession(ctx, p.SessionID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, ledgerErr("read payment", err)
	}

	rec := domain.PaymentRecord{
		UserID:         p.Metadata.UserID,
		SessionID:      p.SessionID,
		AmountCents:    p.AmountTotalCents,
		CreditsGranted: credits,
		Status:         domain.PaymentPaid,
	}
	err = r.store.InsertPayment(ctx, rec)
	switch {
	case err == nil:
		observability.PaymentsRecorded.Inc()
		return &rec, true, nil
	case errors.Is(err, domain.ErrConflict):
		// A concurrent delivery inserted first; continue from its row.
		existing, err := r.store.GetPaymentBySession(ctx, p.SessionID)
		if err != nil {
			return nil, false, ledgerErr("reread payment", err)
		}
		return existing, false, nil
	default:
		return nil, false, ledgerErr("insert payment", err)
	}
}

// resolveAffiliate prefers the user's newest attribution over the code
// carried in checkout metadata.
func (r *Reconciler) resolveAffiliate(ctx context.Context, userID, fallback string) (string, error) {
	a, err := r.store.LatestAttribution(ctx, userID)
	switch {
	case err == nil && a.AffiliateCode != "":
		return a.AffiliateCode, nil
	case err == nil, errors.Is(err, domain.ErrNotFound):
		return fallback, nil
	default:
		return "", ledgerErr("read attribution", err)
	}
}

// ensureCommission inserts the session's commission unless one exists.
func (r *Reconciler) ensureCommission(ctx context.Context, code string, payment *domain.PaymentRecord) (bool, int64, error) {
	existing, err := r.store.GetCommissionBySession(ctx, payment.SessionID)
	if err == nil {
		return false, existing.AmountCents, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return false, 0, ledgerErr("read commission", err)
	}

	tier, err := r.store.AffiliateTier(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		tier, err = domain.TierStarter, nil
	}
	if err != nil {
		return false, 0, ledgerErr("read affiliate tier", err)
	}

	cents := domain.Commission(payment.AmountCents, tier)
	err = r.store.InsertCommission(ctx, domain.AffiliateCommission{
		AffiliateCode:  code,
		ReferredUserID: payment.UserID,
		AmountCents:    cents,
		Status:         domain.CommissionEarned,
		SessionID:      payment.SessionID,
	})
	switch {
	case err == nil:
		observability.CommissionsCreated.WithLabelValues(string(tier)).Inc()
		observability.CommissionCents.Add(float64(cents))
		return true, cents, nil
	case errors.Is(err, domain.ErrConflict):
		// The unique session key is the idempotency signal.
		return false, cents, nil
	default:
		return false, 0, ledgerErr("insert commission", err)
	}
}

func ledgerErr(op string, err error) error {
	return &domain.LedgerWriteError{Op: op, Err: err}
}
