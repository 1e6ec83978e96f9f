// Package cli implements the reelpay command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/reelreview/ledger/internal/app/payout"
	"github.com/reelreview/ledger/internal/daemon"
	"github.com/reelreview/ledger/internal/infra/sqlite"
	"github.com/reelreview/ledger/internal/infra/transfer"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "reelpay",
	Short: "Payment event ledger and reviewer payouts for ReelReview",
	Long: `reelpay turns signed payment-provider webhooks into ledger state
(wallet credits and affiliate commissions) and pays reviewers out of
their available balance through Stripe Connect.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "reelpay.toml", "Path to the TOML config file")
}

// Execute runs the root command.
func Execute(version string) error {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// ─── Shared wiring ──────────────────────────────────────────────────────────

func loadConfig() (daemon.Config, *slog.Logger, error) {
	cfg, err := daemon.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return cfg, nil, err
	}
	return cfg, cfg.Log.NewLogger(os.Stderr), nil
}

func openStore(cfg daemon.Config) (*sqlite.DB, error) {
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger at %s: %w", cfg.Database.Path, err)
	}
	return db, nil
}

func newStripe(cfg daemon.Config, logger *slog.Logger) (*transfer.Stripe, error) {
	return transfer.NewStripe(transfer.Config{
		SecretKey:         cfg.Stripe.SecretKey,
		APIBase:           cfg.Stripe.APIBase,
		MaxNetworkRetries: cfg.Stripe.MaxNetworkRetries,
		Timeout:           cfg.API.Timeout(),
	}, logger)
}

func payoutConfig(cfg daemon.Config) payout.Config {
	return payout.Config{
		Currency:    cfg.Stripe.Currency,
		Description: cfg.Stripe.PayoutDescription,
		MaxAttempts: cfg.Payout.MaxAttempts,
	}
}
