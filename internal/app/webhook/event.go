package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/reelreview/ledger/internal/domain"
)

// Provider event types this service understands.
const (
	ProviderCheckoutSessionCompleted = "checkout.session.completed"
	ProviderAccountUpdated           = "account.updated"
)

// EventKind is the internal discriminator of a verified event.
type EventKind string

const (
	KindPurchaseCompleted EventKind = "purchase_completed"
	KindAccountUpdated    EventKind = "account_updated"
	KindUnknown           EventKind = "unknown"
)

var kindByProviderType = map[string]EventKind{
	ProviderCheckoutSessionCompleted: KindPurchaseCompleted,
	ProviderAccountUpdated:           KindAccountUpdated,
}

// VerifiedEvent is an authenticated provider event narrowed to a known
// shape. Exactly one of Purchase or Account is set for the matching Kind;
// both are nil for KindUnknown.
type VerifiedEvent struct {
	ID           string
	ProviderType string
	Kind         EventKind
	Created      time.Time

	Purchase *PurchaseCompleted
	Account  *AccountUpdated
}

// PurchaseCompleted is a completed checkout session.
type PurchaseCompleted struct {
	SessionID        string
	AmountTotalCents int64
	Metadata         Metadata
}

// Metadata is the checkout metadata attached at session creation.
// Values are trimmed; emptiness is checked by the reconciler.
type Metadata struct {
	UserID        string
	Pack          string
	AffiliateCode string
}

// AccountUpdated reports a connected account's capability changes.
type AccountUpdated struct {
	AccountID        string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Onboarded reports whether the account can receive transfers.
func (a AccountUpdated) Onboarded() bool {
	return a.ChargesEnabled && a.PayoutsEnabled && a.DetailsSubmitted
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type sessionObject struct {
	ID          string            `json:"id"`
	AmountTotal *int64            `json:"amount_total"`
	Metadata    map[string]string `json:"metadata"`
}

type accountObject struct {
	ID               string `json:"id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

// Decode narrows a raw provider payload to a VerifiedEvent. Unexpected
// shapes are rejected rather than coerced.
func Decode(raw []byte) (*VerifiedEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", domain.ErrMalformedEvent)
	}

	ev := &VerifiedEvent{
		ID:           env.ID,
		ProviderType: env.Type,
		Kind:         KindUnknown,
		Created:      time.Unix(env.Created, 0).UTC(),
	}
	if k, ok := kindByProviderType[env.Type]; ok {
		ev.Kind = k
	}

	switch ev.Kind {
	case KindPurchaseCompleted:
		p, err := decodeSession(env.Data.Object)
		if err != nil {
			return nil, err
		}
		ev.Purchase = p
	case KindAccountUpdated:
		a, err := decodeAccount(env.Data.Object)
		if err != nil {
			return nil, err
		}
		ev.Account = a
	}
	return ev, nil
}

func decodeSession(raw json.RawMessage) (*PurchaseCompleted, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%w: missing session object", domain.ErrInvalidMetadata)
	}
	var obj sessionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMetadata, err)
	}
	if strings.TrimSpace(obj.ID) == "" {
		return nil, fmt.Errorf("%w: missing session id", domain.ErrInvalidMetadata)
	}

	var amount int64
	if obj.AmountTotal != nil {
		amount = *obj.AmountTotal
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: negative amount_total %d", domain.ErrInvalidMetadata, amount)
	}

	return &PurchaseCompleted{
		SessionID:        obj.ID,
		AmountTotalCents: amount,
		Metadata: Metadata{
			UserID:        strings.TrimSpace(obj.Metadata["user_id"]),
			Pack:          strings.TrimSpace(obj.Metadata["pack"]),
			AffiliateCode: strings.TrimSpace(obj.Metadata["affiliate_code"]),
		},
	}, nil
}

func decodeAccount(raw json.RawMessage) (*AccountUpdated, error) {
	var obj accountObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("%w: missing account id", domain.ErrMalformedEvent)
	}
	return &AccountUpdated{
		AccountID:        obj.ID,
		ChargesEnabled:   obj.ChargesEnabled,
		PayoutsEnabled:   obj.PayoutsEnabled,
		DetailsSubmitted: obj.DetailsSubmitted,
	}, nil
}
