package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/reelreview/ledger/internal/app/payout"
	"github.com/reelreview/ledger/internal/domain"
)

// ─── Payout CLI ─────────────────────────────────────────────────────────────
// Operator tooling for reviewer payouts. These run the same authorizer as
// POST /admin/payouts/pay against the configured ledger and Stripe account.

func init() {
	rootCmd.AddCommand(payoutCmd)
	payoutCmd.AddCommand(payoutListCmd)
	payoutCmd.AddCommand(payoutAuthorizeCmd)
	payoutCmd.AddCommand(payoutOnboardCmd)

	payoutListCmd.Flags().IntP("limit", "n", 50, "Maximum requests to list")
	payoutOnboardCmd.Flags().String("return-url", "", "Where Stripe sends the reviewer after onboarding")
	payoutOnboardCmd.Flags().String("refresh-url", "", "Where Stripe sends the reviewer if the link expires (defaults to --return-url)")
	payoutOnboardCmd.MarkFlagRequired("return-url")
}

var payoutCmd = &cobra.Command{
	Use:   "payout",
	Short: "Inspect and pay reviewer payout requests",
}

// ─── payout list ────────────────────────────────────────────────────────────

var payoutListCmd = &cobra.Command{
	Use:   "list",
	Short: "List payout requests awaiting payment",
	Args:  cobra.NoArgs,
	RunE:  runPayoutList,
}

func runPayoutList(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reqs, err := db.ListPayoutRequests(cmd.Context(), domain.PayoutRequested, limit)
	if err != nil {
		return fmt.Errorf("list payout requests: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(reqs) == 0 {
		fmt.Fprintln(out, "No payout requests awaiting payment.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREVIEWER\tAMOUNT\tREQUESTED")
	for _, r := range reqs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.ReviewerID, formatCents(r.AmountCents), r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// ─── payout authorize ───────────────────────────────────────────────────────

var payoutAuthorizeCmd = &cobra.Command{
	Use:   "authorize PAYOUT_REQUEST_ID",
	Short: "Transfer a requested payout and mark it paid",
	Long: `Validate the request against the reviewer's connected account and
available balance, reserve the amount on the balance, send the transfer,
then mark the request paid. A failed transfer releases the reservation. Running it twice for one request pays once.`,
	Args: cobra.ExactArgs(1),
	RunE: runPayoutAuthorize,
}

func runPayoutAuthorize(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	stripeClient, err := newStripe(cfg, logger)
	if err != nil {
		return err
	}

	res, err := payout.New(db, stripeClient, payoutConfig(cfg), logger).Authorize(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Paid %s to reviewer %s (transfer %s)\n",
		formatCents(res.AmountCents), res.ReviewerID, res.TransferID)
	fmt.Fprintf(cmd.OutOrStdout(), "Balance now %s available, %s paid\n",
		formatCents(res.Balance.AvailableCents), formatCents(res.Balance.PaidCents))
	return nil
}

// ─── payout onboard ─────────────────────────────────────────────────────────

var payoutOnboardCmd = &cobra.Command{
	Use:   "onboard REVIEWER_ID",
	Short: "Create a Stripe Connect onboarding link for a reviewer",
	Args:  cobra.ExactArgs(1),
	RunE:  runPayoutOnboard,
}

func runPayoutOnboard(cmd *cobra.Command, args []string) error {
	returnURL, _ := cmd.Flags().GetString("return-url")
	refreshURL, _ := cmd.Flags().GetString("refresh-url")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	stripeClient, err := newStripe(cfg, logger)
	if err != nil {
		return err
	}

	link, err := payout.NewOnboarder(db, stripeClient, logger).Onboard(cmd.Context(), args[0], returnURL, refreshURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connected account: %s\n", link.ConnectAccountID)
	fmt.Fprintf(cmd.OutOrStdout(), "Onboarding link:   %s\n", link.URL)
	return nil
}
