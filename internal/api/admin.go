package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/reelreview/ledger/internal/domain"
)

// maxAdminBody caps operator request bodies.
const maxAdminBody = 64 << 10

// ─── Payouts ────────────────────────────────────────────────────────────────

// payoutID is a request id sent as a JSON string or, from integer-keyed
// stores, a JSON number.
type payoutID string

func (p *payoutID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = payoutID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = payoutID(n.String())
	return nil
}

type payPayoutRequest struct {
	PayoutRequestID payoutID `json:"payout_request_id"`
	// Accepted for callers that send camelCase.
	PayoutRequestIDAlt payoutID `json:"payoutRequestId"`
}

func (p payPayoutRequest) id() string {
	if p.PayoutRequestID != "" {
		return string(p.PayoutRequestID)
	}
	return string(p.PayoutRequestIDAlt)
}

type payPayoutResponse struct {
	OK         bool   `json:"ok"`
	TransferID string `json:"transfer_id"`
}

func (s *Server) handlePayPayout(w http.ResponseWriter, r *http.Request) {
	var req payPayoutRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.payouts.Authorize(r.Context(), req.id())
	if err != nil {
		status, msg := payoutErrorResponse(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("payout failed", "payout_request_id", req.id(), "operator", operatorSubject(r), "request_id", requestID(r), "error", err)
		}
		writeText(w, status, msg)
		return
	}

	s.logger.Info("payout authorized",
		"payout_request_id", res.PayoutRequestID,
		"transfer_id", res.TransferID,
		"operator", operatorSubject(r),
	)
	writeJSON(w, http.StatusOK, payPayoutResponse{OK: true, TransferID: res.TransferID})
}

// payoutErrorResponse maps authorizer errors to status and body. The
// post-transfer check comes first because that error also wraps the cause.
func payoutErrorResponse(err error) (int, string) {
	var pte *domain.PostTransferError
	switch {
	case errors.As(err, &pte):
		return http.StatusInternalServerError, "Payout ledger update failed after transfer " + pte.TransferID
	case errors.Is(err, domain.ErrMissingPayoutID):
		return http.StatusBadRequest, "Missing payout_request_id"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Payout request not found"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusBadRequest, "Payout not in requested state"
	case errors.Is(err, domain.ErrReviewerNotOnboarded):
		return http.StatusBadRequest, "Reviewer not connected"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusBadRequest, "Insufficient available balance"
	case errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict, "Concurrent modification, retry"
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway, "Transfer failed: " + err.Error()
	default:
		return http.StatusInternalServerError, "Payout error: " + err.Error()
	}
}

// ─── Onboarding ─────────────────────────────────────────────────────────────

type onboardRequest struct {
	ReviewerID string `json:"reviewer_id"`
	ReturnURL  string `json:"return_url"`
	RefreshURL string `json:"refresh_url"`
}

func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	var req onboardRequest
	if !decodeBody(w, r, &req) {
		return
	}

	link, err := s.onboarder.Onboard(r.Context(), req.ReviewerID, req.ReturnURL, req.RefreshURL)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, link)
	case errors.Is(err, domain.ErrMissingReviewerID):
		writeText(w, http.StatusBadRequest, "Missing reviewer_id")
	case errors.Is(err, domain.ErrMissingReturnURL):
		writeText(w, http.StatusBadRequest, "Missing return_url")
	default:
		s.logger.Error("onboarding failed", "reviewer_id", req.ReviewerID, "request_id", requestID(r), "error", err)
		writeText(w, http.StatusBadGateway, "Onboarding failed: "+err.Error())
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// decodeBody reads a JSON body into v. An empty body leaves v zero so the
// handler reports the missing field. It writes the 400 itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeText(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
