package transfer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stripe/stripe-go/v76"

	"github.com/reelreview/ledger/internal/domain"
)

// stripeTwin answers POST /v1/transfers like the Stripe API, replaying the
// stored response for a repeated Idempotency-Key.
type stripeTwin struct {
	mu       sync.Mutex
	requests []*http.Request
	forms    []map[string]string
	byKey    map[string]string
	reject   bool
}

func (s *stripeTwin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v1/transfers":
	case "/v1/accounts":
		s.requests = append(s.requests, r)
		w.Write([]byte(`{"id":"acct_new","object":"account","type":"` + r.PostFormValue("type") + `"}`))
		return
	case "/v1/account_links":
		s.requests = append(s.requests, r)
		w.Write([]byte(`{"object":"account_link","url":"https://connect.example/setup/` + r.PostFormValue("account") +
			`?return=` + r.PostFormValue("return_url") + `&type=` + r.PostFormValue("type") + `"}`))
		return
	default:
		http.NotFound(w, r)
		return
	}
	s.requests = append(s.requests, r)
	s.forms = append(s.forms, map[string]string{
		"amount":      r.PostFormValue("amount"),
		"currency":    r.PostFormValue("currency"),
		"destination": r.PostFormValue("destination"),
		"description": r.PostFormValue("description"),
	})

	if s.reject {
		w.Header().Set("Request-Id", "req_123")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such account: 'acct_x'"}}`))
		return
	}

	if s.byKey == nil {
		s.byKey = make(map[string]string)
	}
	key := r.Header.Get("Idempotency-Key")
	id, ok := s.byKey[key]
	if !ok {
		id = "tr_" + string(rune('A'+len(s.byKey)))
		s.byKey[key] = id
	}
	w.Write([]byte(`{"id":"` + id + `","object":"transfer","amount":5000,"currency":"usd"}`))
}

func newTestStripe(t *testing.T, twin *stripeTwin) *Stripe {
	t.Helper()
	srv := httptest.NewServer(twin)
	t.Cleanup(srv.Close)
	s, err := NewStripe(Config{SecretKey: "sk_test_123", APIBase: srv.URL}, nil)
	if err != nil {
		t.Fatalf("NewStripe() error: %v", err)
	}
	return s
}

func TestNewStripe_RequiresKey(t *testing.T) {
	if _, err := NewStripe(Config{}, nil); err == nil {
		t.Error("expected error without secret key")
	}
}

func TestCreateTransfer(t *testing.T) {
	twin := &stripeTwin{}
	s := newTestStripe(t, twin)

	id, err := s.CreateTransfer(context.Background(), domain.TransferRequest{
		AmountCents:          5000,
		Currency:             "usd",
		DestinationAccountID: "acct_1",
		Description:          "ReelReview payout #p1",
		IdempotencyKey:       "payout-key-1",
	})
	if err != nil {
		t.Fatalf("CreateTransfer() error: %v", err)
	}
	if id != "tr_A" {
		t.Errorf("id = %q, want tr_A", id)
	}

	if len(twin.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(twin.requests))
	}
	r := twin.requests[0]
	if got := r.Header.Get("Idempotency-Key"); got != "payout-key-1" {
		t.Errorf("Idempotency-Key = %q", got)
	}
	if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
		t.Errorf("Authorization = %q", got)
	}
	want := map[string]string{
		"amount":      "5000",
		"currency":    "usd",
		"destination": "acct_1",
		"description": "ReelReview payout #p1",
	}
	for k, v := range want {
		if twin.forms[0][k] != v {
			t.Errorf("form %s = %q, want %q", k, twin.forms[0][k], v)
		}
	}
}

func TestCreateTransfer_SameKeySameTransfer(t *testing.T) {
	twin := &stripeTwin{}
	s := newTestStripe(t, twin)
	req := domain.TransferRequest{AmountCents: 5000, Currency: "usd", DestinationAccountID: "acct_1", IdempotencyKey: "k"}

	first, err := s.CreateTransfer(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.CreateTransfer(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("retried transfer returned %q, want %q", second, first)
	}
}

func TestCreateTransfer_ProviderError(t *testing.T) {
	s := newTestStripe(t, &stripeTwin{reject: true})

	_, err := s.CreateTransfer(context.Background(), domain.TransferRequest{
		AmountCents: 5000, Currency: "usd", DestinationAccountID: "acct_x", IdempotencyKey: "k",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		t.Fatalf("error %v does not wrap *stripe.Error", err)
	}
	if serr.Code != stripe.ErrorCodeResourceMissing {
		t.Errorf("Code = %q, want resource_missing", serr.Code)
	}
}

func TestCreateExpressAccount(t *testing.T) {
	twin := &stripeTwin{}
	s := newTestStripe(t, twin)

	id, err := s.CreateExpressAccount(context.Background(), "connect-r1")
	if err != nil {
		t.Fatalf("CreateExpressAccount() error: %v", err)
	}
	if id != "acct_new" {
		t.Errorf("id = %q, want acct_new", id)
	}
	r := twin.requests[0]
	if r.PostFormValue("type") != "express" {
		t.Errorf("type = %q, want express", r.PostFormValue("type"))
	}
	if r.Header.Get("Idempotency-Key") != "connect-r1" {
		t.Errorf("Idempotency-Key = %q", r.Header.Get("Idempotency-Key"))
	}
}

func TestCreateOnboardingLink(t *testing.T) {
	s := newTestStripe(t, &stripeTwin{})

	url, err := s.CreateOnboardingLink(context.Background(), "acct_1", "https://app/done", "https://app/retry")
	if err != nil {
		t.Fatalf("CreateOnboardingLink() error: %v", err)
	}
	want := "https://connect.example/setup/acct_1?return=https://app/done&type=account_onboarding"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
}
