package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reelreview/ledger/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Store Tests
// ═══════════════════════════════════════════════════════════════════════════

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error: %v", err)
	}
}

// ─── Payments ───────────────────────────────────────────────────────────────

func TestInsertPayment_UniqueSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := domain.PaymentRecord{
		UserID: "u1", SessionID: "s1", AmountCents: 9900, CreditsGranted: 120, Status: domain.PaymentPaid,
	}
	if err := db.InsertPayment(ctx, p); err != nil {
		t.Fatalf("InsertPayment() error: %v", err)
	}
	err := db.InsertPayment(ctx, p)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate InsertPayment() = %v, want ErrConflict", err)
	}

	got, err := db.GetPaymentBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetPaymentBySession() error: %v", err)
	}
	if got.UserID != "u1" || got.AmountCents != 9900 || got.CreditsGranted != 120 {
		t.Errorf("payment = %+v", got)
	}
	if got.Status != domain.PaymentPaid {
		t.Errorf("Status = %q, want paid", got.Status)
	}
	if got.WalletCredited {
		t.Error("WalletCredited should start false")
	}
}

func TestGetPaymentBySession_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetPaymentBySession(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestApplyPaymentCredit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.ApplyPaymentCredit(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("ApplyPaymentCredit(missing) = %v, want ErrNotFound", err)
	}

	db.InsertPayment(ctx, domain.PaymentRecord{UserID: "u1", SessionID: "s1", CreditsGranted: 25, Status: domain.PaymentPaid})
	db.InsertPayment(ctx, domain.PaymentRecord{UserID: "u1", SessionID: "s2", CreditsGranted: 120, Status: domain.PaymentPaid})

	steps := []struct {
		session     string
		wantApplied bool
		wantCredits int64
	}{
		{"s1", true, 25},
		{"s1", false, 25},
		{"s2", true, 145},
		{"s2", false, 145},
	}
	for _, s := range steps {
		applied, err := db.ApplyPaymentCredit(ctx, s.session)
		if err != nil {
			t.Fatalf("ApplyPaymentCredit(%s) error: %v", s.session, err)
		}
		if applied != s.wantApplied {
			t.Errorf("ApplyPaymentCredit(%s) = %v, want %v", s.session, applied, s.wantApplied)
		}
		w, err := db.GetWallet(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if w.Credits != s.wantCredits {
			t.Errorf("after %s: credits = %d, want %d", s.session, w.Credits, s.wantCredits)
		}
	}

	got, _ := db.GetPaymentBySession(ctx, "s1")
	if !got.WalletCredited {
		t.Error("WalletCredited = false after ApplyPaymentCredit")
	}
	list, err := db.ListPaymentsByUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("ListPaymentsByUser() returned %d, want 2", len(list))
	}
}

func TestApplyPaymentCredit_ConcurrentOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.InsertPayment(ctx, domain.PaymentRecord{UserID: "u1", SessionID: "s1", CreditsGranted: 120, Status: domain.PaymentPaid})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.ApplyPaymentCredit(ctx, "s1")
			if err != nil {
				t.Errorf("ApplyPaymentCredit() error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("applied %d times, want 1", applied)
	}
	w, _ := db.GetWallet(ctx, "u1")
	if w.Credits != 120 {
		t.Errorf("credits = %d, want 120", w.Credits)
	}
}

// ─── Wallets ────────────────────────────────────────────────────────────────

func TestWallet_Create(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.GetWallet(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetWallet(missing) = %v, want ErrNotFound", err)
	}
	if err := db.CreateWallet(ctx, domain.Wallet{UserID: "u1", Credits: 25}); err != nil {
		t.Fatalf("CreateWallet() error: %v", err)
	}
	if err := db.CreateWallet(ctx, domain.Wallet{UserID: "u1", Credits: 25}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate CreateWallet() = %v, want ErrConflict", err)
	}

	w, err := db.GetWallet(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if w.Credits != 25 {
		t.Errorf("Credits = %d, want 25", w.Credits)
	}
	if w.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

// ─── Affiliates ─────────────────────────────────────────────────────────────

func TestLatestAttribution_NewestWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	db.InsertAttribution(ctx, domain.AffiliateAttribution{ReferredUserID: "u1", AffiliateCode: "OLD", CreatedAt: base})
	db.InsertAttribution(ctx, domain.AffiliateAttribution{ReferredUserID: "u1", AffiliateCode: "NEW", CreatedAt: base.Add(time.Hour)})
	db.InsertAttribution(ctx, domain.AffiliateAttribution{ReferredUserID: "u2", AffiliateCode: "OTHER", CreatedAt: base.Add(2 * time.Hour)})

	a, err := db.LatestAttribution(ctx, "u1")
	if err != nil {
		t.Fatalf("LatestAttribution() error: %v", err)
	}
	if a.AffiliateCode != "NEW" {
		t.Errorf("AffiliateCode = %q, want NEW", a.AffiliateCode)
	}
	if !a.CreatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("CreatedAt = %v, want %v", a.CreatedAt, base.Add(time.Hour))
	}

	if _, err := db.LatestAttribution(ctx, "u3"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("LatestAttribution(u3) = %v, want ErrNotFound", err)
	}
}

func TestAffiliateTier(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.AffiliateTier(ctx, "NOPE"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("AffiliateTier(missing) = %v, want ErrNotFound", err)
	}
	db.UpsertAffiliate(ctx, "ACME", domain.TierPro)
	tier, err := db.AffiliateTier(ctx, "ACME")
	if err != nil || tier != domain.TierPro {
		t.Errorf("AffiliateTier() = (%q, %v), want pro", tier, err)
	}
	db.UpsertAffiliate(ctx, "ACME", domain.TierPower)
	tier, _ = db.AffiliateTier(ctx, "ACME")
	if tier != domain.TierPower {
		t.Errorf("tier after upsert = %q, want power", tier)
	}
}

func TestInsertCommission_UniqueSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := domain.AffiliateCommission{
		AffiliateCode: "ACME", ReferredUserID: "u1", AmountCents: 2000,
		Status: domain.CommissionEarned, SessionID: "s1",
	}
	if err := db.InsertCommission(ctx, c); err != nil {
		t.Fatalf("InsertCommission() error: %v", err)
	}
	if err := db.InsertCommission(ctx, c); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate InsertCommission() = %v, want ErrConflict", err)
	}
	n, _ := db.CountCommissions(ctx, "s1")
	if n != 1 {
		t.Errorf("CountCommissions() = %d, want 1", n)
	}
	got, err := db.GetCommissionBySession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AmountCents != 2000 || got.Status != domain.CommissionEarned {
		t.Errorf("commission = %+v", got)
	}
}

// ─── Payouts ────────────────────────────────────────────────────────────────

func seedPayout(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	if err := db.UpsertPayoutAccount(ctx, domain.ReviewerPayoutAccount{ReviewerID: "r1", ConnectAccountID: "acct_1"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertReviewerBalance(ctx, domain.ReviewerBalance{ReviewerID: "r1", AvailableCents: 8000, PaidCents: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.CreatePayoutRequest(ctx, domain.PayoutRequest{ID: "p1", ReviewerID: "r1", AmountCents: 5000}); err != nil {
		t.Fatal(err)
	}
}

func TestCompareAndSwapBalance(t *testing.T) {
	db := newTestDB(t)
	seedPayout(t, db)
	ctx := context.Background()

	before, err := db.GetReviewerBalance(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	next := before.Pay(5000)
	if err := db.CompareAndSwapBalance(ctx, *before, next); err != nil {
		t.Fatalf("CompareAndSwapBalance() error: %v", err)
	}
	// Same expected value again is stale now.
	if err := db.CompareAndSwapBalance(ctx, *before, next); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("stale swap = %v, want ErrConflict", err)
	}

	after, _ := db.GetReviewerBalance(ctx, "r1")
	if after.AvailableCents != 3000 || after.PaidCents != 6000 {
		t.Errorf("balance = %+v, want available=3000 paid=6000", after)
	}
}

func TestCompareAndSwapBalance_Concurrent(t *testing.T) {
	db := newTestDB(t)
	seedPayout(t, db)
	ctx := context.Background()

	before, _ := db.GetReviewerBalance(ctx, "r1")
	next := before.Pay(1000)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := db.CompareAndSwapBalance(ctx, *before, next); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Errorf("successful swaps = %d, want exactly 1", success)
	}
}

func TestTransitionPayoutRequest(t *testing.T) {
	db := newTestDB(t)
	seedPayout(t, db)
	ctx := context.Background()

	if err := db.TransitionPayoutRequest(ctx, "p1", domain.PayoutRequested, domain.PayoutPaid); err != nil {
		t.Fatalf("TransitionPayoutRequest() error: %v", err)
	}
	err := db.TransitionPayoutRequest(ctx, "p1", domain.PayoutRequested, domain.PayoutPaid)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second transition = %v, want ErrConflict", err)
	}
	err = db.TransitionPayoutRequest(ctx, "p1", domain.PayoutPaid, domain.PayoutRequested)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("paid -> requested = %v, want ErrInvalidState", err)
	}

	if err := db.SetPayoutTransfer(ctx, "p1", "tr_123"); err != nil {
		t.Fatal(err)
	}
	p, _ := db.GetPayoutRequest(ctx, "p1")
	if p.Status != domain.PayoutPaid || p.TransferID != "tr_123" {
		t.Errorf("request = %+v", p)
	}
}

func TestListPayoutRequests(t *testing.T) {
	db := newTestDB(t)
	seedPayout(t, db)
	ctx := context.Background()
	db.CreatePayoutRequest(ctx, domain.PayoutRequest{ID: "p2", ReviewerID: "r1", AmountCents: 100})
	db.TransitionPayoutRequest(ctx, "p2", domain.PayoutRequested, domain.PayoutPaid)

	got, err := db.ListPayoutRequests(ctx, domain.PayoutRequested, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("ListPayoutRequests(requested) = %+v, want [p1]", got)
	}
}

func TestSetOnboardingStatus(t *testing.T) {
	db := newTestDB(t)
	seedPayout(t, db)
	ctx := context.Background()

	if err := db.SetOnboardingStatus(ctx, "acct_1", domain.OnboardingComplete); err != nil {
		t.Fatal(err)
	}
	a, _ := db.GetPayoutAccount(ctx, "r1")
	if a.OnboardingStatus != domain.OnboardingComplete {
		t.Errorf("OnboardingStatus = %q, want complete", a.OnboardingStatus)
	}
	if err := db.SetOnboardingStatus(ctx, "acct_missing", domain.OnboardingComplete); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown account = %v, want ErrNotFound", err)
	}
}
