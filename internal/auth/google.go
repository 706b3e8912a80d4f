package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

type payloadValidator interface {
	Validate(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

// GoogleVerifier accepts Google-signed ID tokens issued for audience.
type GoogleVerifier struct {
	audience  string
	validator payloadValidator
}

var _ TokenVerifier = (*GoogleVerifier)(nil)

// NewGoogleVerifier fetches Google's signing keys through the idtoken package.
func NewGoogleVerifier(ctx context.Context, audience string, opts ...option.ClientOption) (*GoogleVerifier, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return nil, errors.New("auth: google audience is required")
	}
	v, err := idtoken.NewValidator(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: idtoken validator: %w", err)
	}
	return &GoogleVerifier{audience: audience, validator: v}, nil
}

func (g *GoogleVerifier) Verify(ctx context.Context, token string) (Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Caller{}, ErrInvalidToken
	}
	payload, err := g.validator.Validate(ctx, token, g.audience)
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(payload.Subject) == "" {
		return Caller{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	email, _ := payload.Claims["email"].(string)
	return Caller{UID: payload.Subject, Email: email}, nil
}
