// Package webhook authenticates, decodes, and routes payment-provider events.
//
// Pipeline: Verify (signature over the raw body) → Decode (typed event) →
// Dispatcher.Dispatch (route by kind). The raw body is verified before any
// JSON parsing because re-serialization is not byte-identical.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reelreview/ledger/internal/domain"
)

// DefaultTolerance is the maximum age of a signed timestamp.
const DefaultTolerance = 5 * time.Minute

// Verifier checks the provider's v1 signature scheme:
//
//	Signature: t={timestamp},v1={hex(HMAC-SHA256(secret, "{timestamp}.{body}"))}
//
// Several v1 entries may be present during secret rotation; any match wins.
type Verifier struct {
	Secret    string
	Tolerance time.Duration // 0 disables the timestamp check
	Now       func() time.Time
}

// NewVerifier creates a verifier for secret with DefaultTolerance.
func NewVerifier(secret string) *Verifier {
	return &Verifier{Secret: secret, Tolerance: DefaultTolerance, Now: time.Now}
}

// Verify authenticates rawBody against header and decodes the event.
func (v *Verifier) Verify(rawBody []byte, header string) (*VerifiedEvent, error) {
	if err := v.Check(rawBody, header); err != nil {
		return nil, err
	}
	return Decode(rawBody)
}

// Check authenticates rawBody against header without decoding it.
func (v *Verifier) Check(rawBody []byte, header string) error {
	if strings.TrimSpace(header) == "" || v.Secret == "" {
		return domain.ErrMissingCredential
	}

	ts, sigs, err := parseHeader(header)
	if err != nil {
		return err
	}

	if v.Tolerance > 0 {
		now := time.Now
		if v.Now != nil {
			now = v.Now
		}
		age := now().Sub(time.Unix(ts, 0))
		if age > v.Tolerance || age < -v.Tolerance {
			return fmt.Errorf("%w: age %s", domain.ErrTimestampOutsideTolerance, age.Round(time.Second))
		}
	}

	expected := computeSignature(ts, rawBody, v.Secret)
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return domain.ErrSignatureMismatch
}

func parseHeader(header string) (int64, [][]byte, error) {
	var (
		ts    int64
		hasTS bool
		sigs  [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", domain.ErrMalformedSignature)
			}
			ts, hasTS = n, true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if !hasTS {
		return 0, nil, fmt.Errorf("%w: no timestamp", domain.ErrMalformedSignature)
	}
	if len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: no v1 signature", domain.ErrSignatureMismatch)
	}
	return ts, sigs, nil
}

func computeSignature(ts int64, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignHeader produces a signature header for payload at timestamp ts.
// Used by tests and by the replay command.
func SignHeader(payload []byte, secret string, ts time.Time) string {
	sig := computeSignature(ts.Unix(), payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig))
}
