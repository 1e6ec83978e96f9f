package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/reelreview/ledger/internal/app/webhook"
	"github.com/reelreview/ledger/internal/domain"
	"github.com/reelreview/ledger/internal/infra/observability"
)

// maxWebhookBody caps the signed payload read into memory.
const maxWebhookBody = 1 << 20

// handleStripeWebhook verifies the raw body before anything parses it.
// 200 acknowledges, 400 tells the provider not to retry, 500 asks for
// redelivery.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		observability.WebhookRejected.WithLabelValues("body").Inc()
		writeText(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	ev, err := s.verifier.Verify(body, r.Header.Get(s.signatureHeader))
	if err != nil {
		reason, status, msg := classifyIngressError(err)
		observability.WebhookRejected.WithLabelValues(reason).Inc()
		s.logger.Warn("webhook rejected", "reason", reason, "error", err, "request_id", requestID(r))
		writeText(w, status, msg)
		return
	}

	res := s.dispatcher.Dispatch(r.Context(), ev)
	switch res.Outcome {
	case webhook.Rejected:
		writeText(w, http.StatusBadRequest, "Invalid event metadata: "+res.Err.Error())
	case webhook.HandlerFailed:
		writeText(w, http.StatusInternalServerError, "Webhook handler error: "+res.Err.Error())
	default:
		writeText(w, http.StatusOK, "ok")
	}
}

func classifyIngressError(err error) (reason string, status int, msg string) {
	switch {
	case errors.Is(err, domain.ErrMissingCredential):
		return "missing_credential", http.StatusBadRequest, "Missing webhook signature/secret"
	case errors.Is(err, domain.ErrTimestampOutsideTolerance):
		return "stale_timestamp", http.StatusBadRequest, "Webhook signature verification failed"
	case domain.IsVerificationError(err):
		return "bad_signature", http.StatusBadRequest, "Webhook signature verification failed"
	case errors.Is(err, domain.ErrInvalidMetadata), errors.Is(err, domain.ErrMalformedEvent):
		return "malformed_payload", http.StatusBadRequest, "Invalid event metadata: " + err.Error()
	default:
		return "error", http.StatusBadRequest, "Webhook error: " + err.Error()
	}
}
