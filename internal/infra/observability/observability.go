// Package observability holds the Prometheus collectors for the
// reconciliation engine: webhook ingestion, purchase reconciliation, and
// payout authorization.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Webhook Ingestion
// ═══════════════════════════════════════════════════════════════════════════

// WebhookEvents counts dispatched events by kind and outcome.
var WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "webhook",
	Name:      "events_total",
	Help:      "Total verified provider events by kind and dispatch outcome.",
}, []string{"kind", "outcome"})

// WebhookRejected counts events rejected before dispatch.
var WebhookRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "webhook",
	Name:      "rejected_total",
	Help:      "Total inbound events rejected before dispatch, by reason.",
}, []string{"reason"})

// HandlerDuration tracks handler latency by event kind.
var HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "reelpay",
	Subsystem: "webhook",
	Name:      "handler_duration_seconds",
	Help:      "Event handler latency in seconds.",
	Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
}, []string{"kind"})

// ═══════════════════════════════════════════════════════════════════════════
// Purchase Reconciliation
// ═══════════════════════════════════════════════════════════════════════════

// PaymentsRecorded counts newly inserted payment records.
var PaymentsRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "reconcile",
	Name:      "payments_recorded_total",
	Help:      "Total payment records created.",
})

// DuplicateDeliveries counts purchase events whose session was already
// reconciled.
var DuplicateDeliveries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "reconcile",
	Name:      "duplicate_deliveries_total",
	Help:      "Total purchase events skipped because the session was already credited.",
})

// CreditsGranted counts wallet credits granted.
var CreditsGranted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "reconcile",
	Name:      "credits_granted_total",
	Help:      "Total wallet credits granted from purchases.",
})

// UnknownPacks counts purchases of packs with no credit mapping.
var UnknownPacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "reconcile",
	Name:      "unknown_packs_total",
	Help:      "Total purchases of unknown packs (priced but uncredited).",
}, []string{"pack"})

// CommissionsCreated counts affiliate commissions by tier.
var CommissionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "reconcile",
	Name:      "commissions_created_total",
	Help:      "Total affiliate commissions created, by tier.",
}, []string{"tier"})

// CommissionCents sums commission amounts in cents.
var CommissionCents = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "reconcile",
	Name:      "commission_cents_total",
	Help:      "Total commission earned, in cents.",
})

// ═══════════════════════════════════════════════════════════════════════════
// Payout Authorization
// ═══════════════════════════════════════════════════════════════════════════

// PayoutAuthorizations counts authorization attempts by outcome.
var PayoutAuthorizations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "payout",
	Name:      "authorizations_total",
	Help:      "Total payout authorizations by outcome.",
}, []string{"outcome"})

// PayoutCents sums cents transferred to reviewers.
var PayoutCents = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "payout",
	Name:      "paid_cents_total",
	Help:      "Total cents paid out to reviewers.",
})

// BalanceConflicts counts lost balance compare-and-swap attempts.
var BalanceConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "payout",
	Name:      "balance_conflicts_total",
	Help:      "Total balance compare-and-swap conflicts (retried with reread).",
})

// PostTransferInconsistencies counts payouts whose transfer succeeded but
// whose ledger update failed. Any increase needs manual reconciliation.
var PostTransferInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "payout",
	Name:      "post_transfer_inconsistencies_total",
	Help:      "Total payouts sent without a matching ledger update.",
})

// ReservationLeaks counts payout reservations that could not be handed back
// after a failed or duplicate transfer. Any increase needs manual correction.
var ReservationLeaks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reelpay",
	Subsystem: "payout",
	Name:      "reservation_leaks_total",
	Help:      "Total payout reservations left on a balance without a transfer.",
})
