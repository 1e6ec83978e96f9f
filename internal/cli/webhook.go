package cli

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelreview/ledger/internal/app/webhook"
)

func init() {
	rootCmd.AddCommand(webhookCmd)
	webhookCmd.AddCommand(webhookReplayCmd)

	webhookReplayCmd.Flags().String("url", "", "Webhook endpoint (defaults to the configured local server)")
	webhookReplayCmd.Flags().Bool("print", false, "Print the signature header instead of sending")
}

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Work with provider webhook payloads",
}

var webhookReplayCmd = &cobra.Command{
	Use:   "replay EVENT_FILE",
	Short: "Sign a stored event payload and post it to the server",
	Long: `Sign EVENT_FILE with the configured webhook secret at the current time
and POST it to /webhooks/stripe. Handlers are idempotent per checkout
session, so replaying an already processed event changes nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runWebhookReplay,
}

func runWebhookReplay(cmd *cobra.Command, args []string) error {
	target, _ := cmd.Flags().GetString("url")
	printOnly, _ := cmd.Flags().GetBool("print")

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Webhook.SigningSecret == "" {
		return fmt.Errorf("webhook.signing_secret is not configured")
	}
	body, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read event: %w", err)
	}
	if _, err := webhook.Decode(body); err != nil {
		return err
	}

	header := webhook.SignHeader(body, cfg.Webhook.SigningSecret, time.Now())
	out := cmd.OutOrStdout()
	if printOnly {
		fmt.Fprintf(out, "%s: %s\n", cfg.Webhook.SignatureHeader, header)
		return nil
	}

	if target == "" {
		target = "http://" + cfg.API.Addr() + "/webhooks/stripe"
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(cfg.Webhook.SignatureHeader, header)

	resp, err := (&http.Client{Timeout: cfg.API.Timeout()}).Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Fprintf(out, "%d %s\n", resp.StatusCode, msg)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server rejected event with status %d", resp.StatusCode)
	}
	return nil
}
