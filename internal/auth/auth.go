// Package auth establishes who is calling. Verifiers turn bearer tokens into a Caller
// (self-issued HS256 JWTs or Google-signed ID tokens); directories answer get-user-by-id
// for the bootstrap callable, which cannot rely on the request token yet.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "salonbook"

// Claims represents JWT claims used across the service.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier issues and verifies HS256 tokens for the self-hosted identity mode.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

var _ TokenVerifier = (*JWTVerifier)(nil)

// JWTOption configures JWTVerifier.
type JWTOption func(*JWTVerifier)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) JWTOption {
	return func(v *JWTVerifier) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			v.issuer = issuer
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) JWTOption {
	return func(v *JWTVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewJWTVerifier builds a verifier around secret.
func NewJWTVerifier(secret string, opts ...JWTOption) (*JWTVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: jwt secret is not configured")
	}
	v := &JWTVerifier{secret: []byte(secret), issuer: defaultIssuer, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// GenerateToken signs a token for uid and email.
func (v *JWTVerifier) GenerateToken(uid, email string, ttl time.Duration) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", errors.New("uid is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}

	now := v.now().UTC()
	claims := Claims{
		Email: strings.TrimSpace(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and claims and returns the caller.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Caller{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		return Caller{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Caller{}, ErrInvalidToken
	}
	if err := v.validateClaims(claims); err != nil {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Caller{UID: claims.Subject, Email: claims.Email}, nil
}

func (v *JWTVerifier) validateClaims(claims *Claims) error {
	if claims.Issuer != v.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := v.now().UTC()
	// Five seconds of clock skew on issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
