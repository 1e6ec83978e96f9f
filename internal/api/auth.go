package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OperatorClaims are the claims carried by an operator bearer token.
type OperatorClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// OperatorAuth issues and checks HS256 operator tokens.
type OperatorAuth struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewOperatorAuth creates an authenticator. An empty issuer skips the
// issuer check.
func NewOperatorAuth(secret, issuer string) (*OperatorAuth, error) {
	if secret == "" {
		return nil, errors.New("operator auth: secret is required")
	}
	return &OperatorAuth{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}, nil
}

// Sign mints a token for subject valid for ttl from now.
func (a *OperatorAuth) Sign(subject string, ttl time.Duration, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, OperatorClaims{
		Scope: "payouts",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(a.secret)
}

// Parse validates raw and returns its claims. Tokens must carry an expiry.
func (a *OperatorAuth) Parse(raw string) (*OperatorClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	parsed, err := jwt.ParseWithClaims(raw, &OperatorClaims{}, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*OperatorClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

type operatorKey struct{}

// Middleware rejects requests without a valid bearer token.
func (a *OperatorAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeText(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		claims, err := a.Parse(strings.TrimSpace(raw))
		if err != nil {
			writeText(w, http.StatusUnauthorized, "Invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, claims)))
	})
}

// operatorSubject returns the authenticated operator, if any.
func operatorSubject(r *http.Request) string {
	if c, ok := r.Context().Value(operatorKey{}).(*OperatorClaims); ok {
		return c.Subject
	}
	return ""
}
