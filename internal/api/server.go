// Package api provides the HTTP server for reelpay.
// It accepts signed payment-provider webhooks and exposes operator endpoints
// for payouts and reviewer onboarding.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelreview/ledger/internal/app/payout"
	"github.com/reelreview/ledger/internal/app/webhook"
)

// DefaultSignatureHeader is the header carrying the provider signature.
const DefaultSignatureHeader = "Stripe-Signature"

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the reelpay HTTP API server.
type Server struct {
	verifier   *webhook.Verifier
	dispatcher *webhook.Dispatcher
	payouts    *payout.Authorizer
	onboarder  *payout.Onboarder // nil disables /admin/connect/onboard
	auth       *OperatorAuth     // nil leaves /admin open
	store      Pinger

	signatureHeader string
	timeout         time.Duration
	metricsEnabled  bool
	logger          *slog.Logger
}

// NewServer creates a new API server.
func NewServer(verifier *webhook.Verifier, dispatcher *webhook.Dispatcher, payouts *payout.Authorizer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		verifier:        verifier,
		dispatcher:      dispatcher,
		payouts:         payouts,
		signatureHeader: DefaultSignatureHeader,
		timeout:         30 * time.Second,
		logger:          logger.With("component", "api"),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetOnboarder mounts the reviewer onboarding endpoint.
func (s *Server) SetOnboarder(o *payout.Onboarder) { s.onboarder = o }

// SetOperatorAuth requires an operator bearer token on /admin routes.
func (s *Server) SetOperatorAuth(a *OperatorAuth) { s.auth = a }

// SetHealthCheck makes /health report the store's reachability.
func (s *Server) SetHealthCheck(p Pinger) { s.store = p }

// SetSignatureHeader overrides the webhook signature header name.
func (s *Server) SetSignatureHeader(name string) {
	if name != "" {
		s.signatureHeader = name
	}
}

// SetRequestTimeout bounds each request's context.
func (s *Server) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/health", s.handleHealth)

	// Provider webhooks
	r.Post("/webhooks/stripe", s.handleStripeWebhook)

	// Operator endpoints
	r.Route("/admin", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}
		r.Post("/payouts/pay", s.handlePayPayout)
		if s.onboarder != nil {
			r.Post("/connect/onboard", s.handleOnboard)
		}
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeText writes a plain-text response. Provider and operator tooling
// read these bodies verbatim.
func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}
