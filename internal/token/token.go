// Package token validates the bearer credentials presented to the gateway.
// Validation is pure: no I/O, no internal state beyond the configured
// secret and signing method, safe for concurrent use.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Classified validation failures. Handlers surface the class to the client
// without leaking library-level detail.
var (
	ErrMissing          = errors.New("token missing")
	ErrMalformed        = errors.New("token malformed")
	ErrExpired          = errors.New("token expired")
	ErrSignatureInvalid = errors.New("token signature invalid")
)

// Identity is the verified subject extracted from a valid token. It lives
// only for the duration of a request and is never persisted.
type Identity struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

// Claims is the JWT payload the gateway understands.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Validator verifies bearer tokens against a shared HMAC secret. Tokens
// signed with any method other than the configured one are rejected, which
// closes the algorithm-confusion class of attacks.
type Validator struct {
	secret []byte
	method string
}

// NewValidator builds a Validator for the given secret and HMAC algorithm
// name (HS256, HS384 or HS512).
func NewValidator(secret, algorithm string) (*Validator, error) {
	switch algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}
	if secret == "" {
		return nil, fmt.Errorf("signing secret must not be empty")
	}
	return &Validator{secret: []byte(secret), method: algorithm}, nil
}

// Validate parses and verifies raw, returning the verified identity or one
// of the classified errors. Expiry is checked strictly against the current
// time with zero leeway.
func (v *Validator) Validate(raw string) (*Identity, error) {
	if raw == "" {
		return nil, ErrMissing
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{v.method}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, classify(err)
	}
	if !tok.Valid {
		return nil, ErrSignatureInvalid
	}

	identity := &Identity{
		Subject: claims.Subject,
		Role:    claims.Role,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// Sign mints a token for the given subject and role, expiring after ttl.
// Used by tests and the devtoken command; the gateway itself never issues
// tokens on the request path.
func (v *Validator) Sign(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}

	tok := jwt.NewWithClaims(jwt.GetSigningMethod(v.method), claims)
	signed, err := tok.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// classify maps jwt/v5 errors onto the gateway's failure taxonomy. A token
// signed with a non-configured algorithm surfaces as a signature failure,
// not a malformed one.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrMalformed
	default:
		return ErrSignatureInvalid
	}
}
