package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelreview/ledger/internal/api"
	"github.com/reelreview/ledger/internal/app/payout"
	"github.com/reelreview/ledger/internal/app/reconcile"
	"github.com/reelreview/ledger/internal/app/webhook"
	"github.com/reelreview/ledger/internal/daemon"
	"github.com/reelreview/ledger/internal/domain"
	"github.com/reelreview/ledger/internal/infra/dedup"
)

const shutdownGrace = 15 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and operator HTTP server",
	Long: `Open the ledger, apply migrations, and serve:

  POST /webhooks/stripe          signed provider events
  POST /admin/payouts/pay        authorize a payout request
  POST /admin/connect/onboard    onboarding link for a reviewer
  GET  /health, GET /metrics

SIGINT or SIGTERM drains in-flight requests before exiting.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s:\n%w", configPath, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	deduper, closeDedup, err := newDeduper(ctx, cfg.Dedup, logger)
	if err != nil {
		return err
	}
	defer closeDedup()

	stripeClient, err := newStripe(cfg, logger)
	if err != nil {
		return err
	}

	dispatcher := webhook.NewDispatcher(logger, deduper)
	dispatcher.Register(webhook.KindPurchaseCompleted, reconcile.New(db, logger))
	dispatcher.Register(webhook.KindAccountUpdated, reconcile.NewAccountHandler(db, logger))

	verifier := webhook.NewVerifier(cfg.Webhook.SigningSecret)
	verifier.Tolerance = cfg.Webhook.ToleranceDuration()

	srv := api.NewServer(verifier, dispatcher, payout.New(db, stripeClient, payoutConfig(cfg), logger), logger)
	srv.SetOnboarder(payout.NewOnboarder(db, stripeClient, logger))
	srv.SetSignatureHeader(cfg.Webhook.SignatureHeader)
	srv.SetRequestTimeout(cfg.API.Timeout())
	srv.SetHealthCheck(db)
	if cfg.Metrics.Enabled {
		srv.EnableMetrics()
	}
	if cfg.Admin.JWTSecret != "" {
		auth, err := api.NewOperatorAuth(cfg.Admin.JWTSecret, cfg.Admin.Issuer)
		if err != nil {
			return err
		}
		srv.SetOperatorAuth(auth)
	} else {
		logger.Warn("admin routes are unauthenticated; set admin.jwt_secret to protect them")
	}

	httpServer := &http.Server{
		Addr:              cfg.API.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("reelpay listening", "addr", httpServer.Addr, "dedup", cfg.Dedup.Backend, "metrics", cfg.Metrics.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "grace", shutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newDeduper builds the event-id dedup store for the configured backend.
func newDeduper(ctx context.Context, cfg daemon.DedupConfig, logger *slog.Logger) (domain.EventDeduper, func(), error) {
	switch cfg.Backend {
	case "redis":
		client, err := dedup.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup; dedup falls back to ledger guards", "error", err)
		}
		r := dedup.NewRedis(client, cfg.TTLDuration())
		return r, func() { r.Close() }, nil
	default:
		return dedup.NewMemory(cfg.TTLDuration()), func() {}, nil
	}
}
