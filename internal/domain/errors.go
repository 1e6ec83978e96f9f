package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Verification errors: untrusted input, reject, never retry.
	ErrMissingCredential         = errors.New("missing webhook signature or secret")
	ErrSignatureMismatch         = errors.New("webhook signature mismatch")
	ErrTimestampOutsideTolerance = errors.New("webhook timestamp outside tolerance")
	ErrMalformedSignature        = errors.New("malformed webhook signature header")

	// Payload errors: retry cannot fix them.
	ErrMalformedEvent  = errors.New("malformed event payload")
	ErrInvalidMetadata = errors.New("invalid event metadata")

	// Store errors
	ErrNotFound    = errors.New("record not found")
	ErrConflict    = errors.New("conditional write conflict")
	ErrLedgerWrite = errors.New("ledger write failed")

	// Payout validation errors: surfaced to the operator, no automatic retry.
	ErrMissingPayoutID        = errors.New("missing payout request id")
	ErrInvalidState           = errors.New("payout not in requested state")
	ErrReviewerNotOnboarded   = errors.New("reviewer not connected")
	ErrInsufficientBalance    = errors.New("insufficient available balance")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrTransferFailed         = errors.New("transfer failed")

	// Onboarding request errors.
	ErrMissingReviewerID = errors.New("missing reviewer id")
	ErrMissingReturnURL  = errors.New("missing return url")

	// Fatal: money moved, ledger not updated.
	ErrPostTransferInconsistency = errors.New("transfer sent but ledger not updated")
)

// IsVerificationError reports whether err came from signature verification.
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrSignatureMismatch) ||
		errors.Is(err, ErrTimestampOutsideTolerance) ||
		errors.Is(err, ErrMalformedSignature)
}

// LedgerWriteError records which ledger write failed.
type LedgerWriteError struct {
	Op  string
	Err error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write %s: %v", e.Op, e.Err)
}

func (e *LedgerWriteError) Unwrap() []error { return []error{ErrLedgerWrite, e.Err} }

// PostTransferError carries everything needed to reconcile a payout by hand
// after the transfer went through but the ledger update did not.
type PostTransferError struct {
	TransferID      string
	PayoutRequestID string
	ReviewerID      string
	AmountCents     int64
	Err             error
}

func (e *PostTransferError) Error() string {
	return fmt.Sprintf("payout %s: transfer %s of %d cents sent but ledger not updated: %v",
		e.PayoutRequestID, e.TransferID, e.AmountCents, e.Err)
}

func (e *PostTransferError) Unwrap() []error {
	return []error{ErrPostTransferInconsistency, e.Err}
}
