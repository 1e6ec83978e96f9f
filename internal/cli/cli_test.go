package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/reelreview/ledger/internal/api"
	"github.com/reelreview/ledger/internal/domain"
	"github.com/reelreview/ledger/internal/infra/sqlite"
)

// writeConfig writes a config pointing at a fresh data dir and returns
// both paths.
func writeConfig(t *testing.T, stripeURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	content := fmt.Sprintf(`
[database]
path = %q

[webhook]
signing_secret = "whsec_cli"

[stripe]
secret_key = "sk_test_cli"
api_base = %q
max_network_retries = 0

[admin]
jwt_secret = "jwt-cli"
issuer = "reelpay"

[log]
level = "error"
`, dataDir, stripeURL)
	path := filepath.Join(dir, "reelpay.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path, dataDir
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedStore(t *testing.T, dataDir string, seed func(ctx context.Context, db *sqlite.DB) error) {
	t.Helper()
	db, err := sqlite.Open(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := seed(context.Background(), db); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func seedPayout(ctx context.Context, db *sqlite.DB) error {
	if err := db.UpsertPayoutAccount(ctx, domain.ReviewerPayoutAccount{
		ReviewerID: "r1", ConnectAccountID: "acct_1", OnboardingStatus: domain.OnboardingComplete,
	}); err != nil {
		return err
	}
	if err := db.UpsertReviewerBalance(ctx, domain.ReviewerBalance{ReviewerID: "r1", AvailableCents: 8000}); err != nil {
		return err
	}
	return db.CreatePayoutRequest(ctx, domain.PayoutRequest{ID: "p1", ReviewerID: "r1", AmountCents: 5000})
}

func TestMigrate(t *testing.T) {
	cfg, dataDir := writeConfig(t, "")
	out, err := run(t, cfg, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "Ledger schema up to date") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dataDir, sqlite.FileName)); err != nil {
		t.Errorf("ledger file not created: %v", err)
	}
}

func TestWalletShow(t *testing.T) {
	cfg, dataDir := writeConfig(t, "")
	seedStore(t, dataDir, func(ctx context.Context, db *sqlite.DB) error {
		if err := db.InsertPayment(ctx, domain.PaymentRecord{
			UserID: "u1", SessionID: "cs_1", AmountCents: 9900, CreditsGranted: 120, Status: domain.PaymentPaid,
		}); err != nil {
			return err
		}
		_, err := db.ApplyPaymentCredit(ctx, "cs_1")
		return err
	})

	out, err := run(t, cfg, "wallet", "show", "u1")
	if err != nil {
		t.Fatalf("wallet show: %v", err)
	}
	for _, want := range []string{"User u1: 120 credits", "cs_1", "$99.00", "credited"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, cfg, "wallet", "show", "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "has no wallet") {
		t.Errorf("output = %q", out)
	}
}

func TestPayoutList(t *testing.T) {
	cfg, dataDir := writeConfig(t, "")

	out, err := run(t, cfg, "payout", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No payout requests") {
		t.Errorf("empty ledger output = %q", out)
	}

	seedStore(t, dataDir, seedPayout)
	out, err = run(t, cfg, "payout", "list", "--limit", "5")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "p1") || !strings.Contains(out, "$50.00") {
		t.Errorf("output = %q", out)
	}
}

func TestPayoutAuthorize(t *testing.T) {
	var transfers int
	stripeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transfers" {
			http.NotFound(w, r)
			return
		}
		transfers++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"tr_cli","object":"transfer","amount":5000,"currency":"usd"}`))
	}))
	defer stripeSrv.Close()

	cfg, dataDir := writeConfig(t, stripeSrv.URL)
	seedStore(t, dataDir, seedPayout)

	out, err := run(t, cfg, "payout", "authorize", "p1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !strings.Contains(out, "transfer tr_cli") || !strings.Contains(out, "$30.00 available") {
		t.Errorf("output = %q", out)
	}

	if _, err := run(t, cfg, "payout", "authorize", "p1"); err == nil {
		t.Error("second authorize should fail with invalid state")
	}
	if transfers != 1 {
		t.Errorf("transfers = %d, want 1", transfers)
	}
}

func TestToken(t *testing.T) {
	cfg, _ := writeConfig(t, "")
	out, err := run(t, cfg, "token", "--subject", "ops@reelreview")
	if err != nil {
		t.Fatal(err)
	}
	auth, _ := api.NewOperatorAuth("jwt-cli", "reelpay")
	claims, err := auth.Parse(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted token does not parse: %v", err)
	}
	if claims.Subject != "ops@reelreview" {
		t.Errorf("Subject = %q", claims.Subject)
	}
}

func TestWebhookReplay(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("Stripe-Signature")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg, _ := writeConfig(t, "")
	event := filepath.Join(t.TempDir(), "evt.json")
	os.WriteFile(event, []byte(`{"id":"evt_1","type":"invoice.paid","created":1,"data":{"object":{}}}`), 0600)

	out, err := run(t, cfg, "webhook", "replay", event, "--url", srv.URL)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.HasPrefix(out, "200 ok") {
		t.Errorf("output = %q", out)
	}
	if !strings.HasPrefix(gotSig, "t=") || !strings.Contains(gotSig, ",v1=") {
		t.Errorf("signature header = %q", gotSig)
	}

	out, err = run(t, cfg, "webhook", "replay", event, "--print")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Stripe-Signature: t=") {
		t.Errorf("print output = %q", out)
	}
}

func TestFormatCents(t *testing.T) {
	tests := map[int64]string{
		0:      "$0.00",
		5:      "$0.05",
		9900:   "$99.00",
		123456: "$1234.56",
	}
	for cents, want := range tests {
		if got := formatCents(cents); got != want {
			t.Errorf("formatCents(%d) = %q, want %q", cents, got, want)
		}
	}
}
