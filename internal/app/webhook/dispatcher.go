package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelreview/ledger/internal/domain"
	"github.com/reelreview/ledger/internal/infra/observability"
)

// Outcome classifies what happened to a dispatched event.
type Outcome int

const (
	// Acknowledged: processed, or intentionally skipped (unknown kind).
	Acknowledged Outcome = iota
	// Duplicate: the event id was already fully processed.
	Duplicate
	// Rejected: the payload can never succeed; do not ask for a retry.
	Rejected
	// HandlerFailed: a transient failure; the provider should redeliver.
	HandlerFailed
)

func (o Outcome) String() string {
	switch o {
	case Acknowledged:
		return "acknowledged"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	case HandlerFailed:
		return "handler_failed"
	default:
		return "unknown"
	}
}

// HandlerResult is the dispatch outcome plus the failure reason, if any.
type HandlerResult struct {
	Outcome Outcome
	Err     error
}

// Handler processes one kind of verified event.
type Handler interface {
	Handle(ctx context.Context, ev *VerifiedEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev *VerifiedEvent) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev *VerifiedEvent) error { return f(ctx, ev) }

// Dispatcher routes verified events to handlers by kind. Kinds without a
// handler are acknowledged with no side effects.
type Dispatcher struct {
	handlers map[EventKind]Handler
	dedup    domain.EventDeduper
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. dedup may be nil.
func NewDispatcher(logger *slog.Logger, dedup domain.EventDeduper) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[EventKind]Handler),
		dedup:    dedup,
		logger:   logger.With("component", "webhook"),
	}
}

// Register installs h for kind, replacing any previous handler.
func (d *Dispatcher) Register(kind EventKind, h Handler) {
	d.handlers[kind] = h
}

// Dispatch routes ev. It never panics: handler panics become HandlerFailed
// and a nil event is Rejected.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *VerifiedEvent) (res HandlerResult) {
	if ev == nil {
		observability.WebhookEvents.WithLabelValues(string(KindUnknown), Rejected.String()).Inc()
		return HandlerResult{Outcome: Rejected, Err: fmt.Errorf("%w: nil event", domain.ErrMalformedEvent)}
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = HandlerResult{Outcome: HandlerFailed, Err: fmt.Errorf("handler panic: %v", r)}
		}
		observability.WebhookEvents.WithLabelValues(string(ev.Kind), res.Outcome.String()).Inc()
		observability.HandlerDuration.WithLabelValues(string(ev.Kind)).Observe(time.Since(start).Seconds())
		d.log(ev, res)
	}()

	h, ok := d.handlers[ev.Kind]
	if !ok {
		return HandlerResult{Outcome: Acknowledged}
	}

	if d.dedup != nil {
		seen, err := d.dedup.Seen(ctx, ev.ID)
		if err != nil {
			// The session-id guards still hold; dedup is only a fast path.
			d.logger.Warn("event dedup lookup failed", "event_id", ev.ID, "error", err)
		} else if seen {
			return HandlerResult{Outcome: Duplicate}
		}
	}

	if err := h.Handle(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrInvalidMetadata) || errors.Is(err, domain.ErrMalformedEvent) {
			return HandlerResult{Outcome: Rejected, Err: err}
		}
		return HandlerResult{Outcome: HandlerFailed, Err: err}
	}

	if d.dedup != nil {
		if err := d.dedup.MarkSeen(ctx, ev.ID); err != nil {
			d.logger.Warn("event dedup mark failed", "event_id", ev.ID, "error", err)
		}
	}
	return HandlerResult{Outcome: Acknowledged}
}

func (d *Dispatcher) log(ev *VerifiedEvent, res HandlerResult) {
	attrs := []any{
		"event_id", ev.ID,
		"type", ev.ProviderType,
		"outcome", res.Outcome.String(),
	}
	switch res.Outcome {
	case HandlerFailed:
		d.logger.Error("event handler failed", append(attrs, "error", res.Err)...)
	case Rejected:
		d.logger.Warn("event rejected", append(attrs, "error", res.Err)...)
	default:
		d.logger.Debug("event dispatched", attrs...)
	}
}
