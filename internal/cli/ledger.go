package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/reelreview/ledger/internal/api"
	"github.com/reelreview/ledger/internal/domain"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletShowCmd)
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringP("subject", "s", "", "Operator identity recorded in payout logs")
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	tokenCmd.MarkFlagRequired("subject")
}

// ─── migrate ────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the ledger schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		// Open applies migrations; running it again is a no-op.
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "Ledger schema up to date at %s\n", cfg.Database.Path)
		return nil
	},
}

// ─── wallet ─────────────────────────────────────────────────────────────────

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Inspect customer credit wallets",
}

var walletShowCmd = &cobra.Command{
	Use:   "show USER_ID",
	Short: "Print a user's credits and purchase history",
	Args:  cobra.ExactArgs(1),
	RunE:  runWalletShow,
}

func runWalletShow(cmd *cobra.Command, args []string) error {
	userID := args[0]
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	w, err := db.GetWallet(cmd.Context(), userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fmt.Fprintf(out, "User %s has no wallet.\n", userID)
		return nil
	case err != nil:
		return fmt.Errorf("read wallet: %w", err)
	}
	fmt.Fprintf(out, "User %s: %d credits\n", userID, w.Credits)

	payments, err := db.ListPaymentsByUser(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("list payments: %w", err)
	}
	for _, p := range payments {
		credited := "credited"
		if !p.WalletCredited {
			credited = "pending credit"
		}
		fmt.Fprintf(out, "  • %s  %s  +%d credits (%s)\n", p.SessionID, formatCents(p.AmountCents), p.CreditsGranted, credited)
	}
	return nil
}

// ─── token ──────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator bearer token for the /admin routes",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, _ []string) error {
	subject, _ := cmd.Flags().GetString("subject")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	auth, err := api.NewOperatorAuth(cfg.Admin.JWTSecret, cfg.Admin.Issuer)
	if err != nil {
		return fmt.Errorf("admin.jwt_secret is not configured: %w", err)
	}
	token, err := auth.Sign(subject, ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// formatCents renders an amount of cents as dollars.
func formatCents(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}
