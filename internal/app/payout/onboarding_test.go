package payout

import (
	"context"
	"errors"
	"testing"

	"github.com/reelreview/ledger/internal/domain"
)

type fakeConnect struct {
	created []string // idempotency keys
	links   []string // account ids
	err     error
}

func (f *fakeConnect) CreateExpressAccount(_ context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.created = append(f.created, key)
	return "acct_new", nil
}

func (f *fakeConnect) CreateOnboardingLink(_ context.Context, accountID, returnURL, _ string) (string, error) {
	f.links = append(f.links, accountID)
	return "https://connect.example/" + accountID + "?r=" + returnURL, nil
}

func TestOnboard_NewReviewer(t *testing.T) {
	db := newTestDB(t)
	fc := &fakeConnect{}
	o := NewOnboarder(db, fc, nil)
	ctx := context.Background()

	link, err := o.Onboard(ctx, " r9 ", "https://app/done", "")
	if err != nil {
		t.Fatalf("Onboard() error: %v", err)
	}
	if link.ConnectAccountID != "acct_new" || link.URL != "https://connect.example/acct_new?r=https://app/done" {
		t.Errorf("link = %+v", link)
	}
	a, err := db.GetPayoutAccount(ctx, "r9")
	if err != nil {
		t.Fatal(err)
	}
	if a.ConnectAccountID != "acct_new" || a.OnboardingStatus != domain.OnboardingPending {
		t.Errorf("account = %+v", a)
	}

	// A second call reuses the stored account.
	if _, err := o.Onboard(ctx, "r9", "https://app/done", ""); err != nil {
		t.Fatal(err)
	}
	if len(fc.created) != 1 {
		t.Errorf("accounts created = %d, want 1", len(fc.created))
	}
	if len(fc.links) != 2 {
		t.Errorf("links created = %d, want 2", len(fc.links))
	}
}

func TestOnboard_ExistingAccount(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	fc := &fakeConnect{}

	link, err := NewOnboarder(db, fc, nil).Onboard(context.Background(), "r1", "https://app/done", "https://app/retry")
	if err != nil {
		t.Fatal(err)
	}
	if link.ConnectAccountID != "acct_1" {
		t.Errorf("ConnectAccountID = %q, want acct_1", link.ConnectAccountID)
	}
	if len(fc.created) != 0 {
		t.Error("created an account for a reviewer who already has one")
	}
}

func TestOnboard_Validation(t *testing.T) {
	o := NewOnboarder(newTestDB(t), &fakeConnect{}, nil)
	if _, err := o.Onboard(context.Background(), "", "https://app", ""); !errors.Is(err, domain.ErrMissingReviewerID) {
		t.Errorf("empty reviewer: %v", err)
	}
	if _, err := o.Onboard(context.Background(), "r1", "", ""); !errors.Is(err, domain.ErrMissingReturnURL) {
		t.Errorf("empty return url: %v", err)
	}
}

func TestOnboard_ProviderFailureWritesNothing(t *testing.T) {
	db := newTestDB(t)
	o := NewOnboarder(db, &fakeConnect{err: errors.New("stripe down")}, nil)

	if _, err := o.Onboard(context.Background(), "r9", "https://app", ""); err == nil {
		t.Fatal("expected error")
	}
	if _, err := db.GetPayoutAccount(context.Background(), "r9"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("account stored after provider failure: %v", err)
	}
}

func TestAccountKey(t *testing.T) {
	if accountKey("r1") != accountKey("r1") || accountKey("r1") == accountKey("r2") {
		t.Error("account keys must be stable per reviewer and distinct across reviewers")
	}
	if accountKey("r1") == IdempotencyKey("r1") {
		t.Error("account key collides with payout key")
	}
}
