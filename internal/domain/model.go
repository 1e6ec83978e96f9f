// Package domain contains the ledger record types and business rules with
// ZERO infrastructure imports. Stores and transports implement the
// interfaces in interfaces.go; the app layer depends only on this package.
package domain

import (
	"strings"
	"time"
)

// ─── Ledger Records ─────────────────────────────────────────────────────────

// PaymentStatus is the lifecycle state of a PaymentRecord.
type PaymentStatus string

const (
	PaymentPaid PaymentStatus = "paid"
)

// PaymentRecord is the ledger's trace of one completed checkout session.
// SessionID is unique: it is the idempotency key for the whole
// reconciliation path.
type PaymentRecord struct {
	ID             int64         `json:"id"`
	UserID         string        `json:"user_id"`
	SessionID      string        `json:"session_id"`
	AmountCents    int64         `json:"amount_cents"`
	CreditsGranted int64         `json:"credits_granted"`
	Status         PaymentStatus `json:"status"`
	WalletCredited bool          `json:"wallet_credited"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Wallet holds a user's spendable credits.
type Wallet struct {
	UserID    string    `json:"user_id"`
	Credits   int64     `json:"credits"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AffiliateAttribution links a referred user to the affiliate that brought
// them in. Several rows may exist per user; the newest wins.
type AffiliateAttribution struct {
	ReferredUserID string    `json:"referred_user_id"`
	AffiliateCode  string    `json:"affiliate_code"`
	CreatedAt      time.Time `json:"created_at"`
}

// CommissionStatus is the lifecycle state of an AffiliateCommission.
type CommissionStatus string

const (
	CommissionEarned CommissionStatus = "earned"
)

// AffiliateCommission is the commission earned by an affiliate for a single
// checkout session. At most one row exists per SessionID.
type AffiliateCommission struct {
	ID             int64            `json:"id"`
	AffiliateCode  string           `json:"affiliate_code"`
	ReferredUserID string           `json:"referred_user_id"`
	AmountCents    int64            `json:"amount_cents"`
	Status         CommissionStatus `json:"status"`
	SessionID      string           `json:"session_id"`
	CreatedAt      time.Time        `json:"created_at"`
}

// OnboardingStatus tracks a reviewer's connected-account onboarding.
type OnboardingStatus string

const (
	OnboardingPending  OnboardingStatus = "pending"
	OnboardingComplete OnboardingStatus = "complete"
)

// ReviewerPayoutAccount maps a reviewer to their connected payee account.
type ReviewerPayoutAccount struct {
	ReviewerID       string           `json:"reviewer_id"`
	ConnectAccountID string           `json:"connect_account_id"`
	OnboardingStatus OnboardingStatus `json:"onboarding_status"`
}

// Connected reports whether funds can be routed to this account.
func (a ReviewerPayoutAccount) Connected() bool {
	return strings.TrimSpace(a.ConnectAccountID) != ""
}

// ReviewerBalance is a reviewer's payable balance. Available and Paid move
// together: a payout subtracts from one and adds the same amount to the other.
type ReviewerBalance struct {
	ReviewerID     string    `json:"reviewer_id"`
	AvailableCents int64     `json:"available_cents"`
	PaidCents      int64     `json:"paid_cents"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Total returns available + paid, which a payout must conserve.
func (b ReviewerBalance) Total() int64 {
	return b.AvailableCents + b.PaidCents
}

// Pay returns the balance after paying out amount cents.
func (b ReviewerBalance) Pay(amount int64) ReviewerBalance {
	b.AvailableCents -= amount
	b.PaidCents += amount
	return b
}

// Refund reverses Pay.
func (b ReviewerBalance) Refund(amount int64) ReviewerBalance {
	b.AvailableCents += amount
	b.PaidCents -= amount
	return b
}

// PayoutStatus is the state of a PayoutRequest.
type PayoutStatus string

const (
	PayoutRequested PayoutStatus = "requested"
	PayoutPaid      PayoutStatus = "paid"
	PayoutRejected  PayoutStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutPaid || s == PayoutRejected
}

// PayoutRequest is a reviewer's request to be paid AmountCents.
// Transitions are one-way: requested → paid (or requested → rejected).
type PayoutRequest struct {
	ID          string       `json:"id"`
	ReviewerID  string       `json:"reviewer_id"`
	AmountCents int64        `json:"amount_cents"`
	Status      PayoutStatus `json:"status"`
	TransferID  string       `json:"transfer_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// CanTransition reports whether from → to is a legal payout transition.
func CanTransition(from, to PayoutStatus) bool {
	return from == PayoutRequested && to.Terminal()
}
