package auth

import (
	"context"
	"strings"
)

// Caller is the verified principal behind a request.
type Caller struct {
	UID   string
	Email string
}

// TokenVerifier turns a bearer token into a Caller.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Caller, error)
}

type callerContextKey struct{}
type tokenContextKey struct{}

// ContextWithCaller attaches the verified caller to the context.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, &caller)
}

// CallerFromContext extracts the verified caller from the context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	v, ok := ctx.Value(callerContextKey{}).(*Caller)
	if !ok || v == nil || strings.TrimSpace(v.UID) == "" {
		return Caller{}, false
	}
	return *v, true
}

// RequireAuth returns the caller or ErrUnauthenticated.
func RequireAuth(ctx context.Context) (Caller, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return Caller{}, ErrUnauthenticated
	}
	return caller, nil
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// Authenticate verifies the token (when present) and attaches the caller and raw
// token to ctx. Missing or invalid tokens leave ctx anonymous; the callables decide
// whether that is acceptable.
func Authenticate(ctx context.Context, verifier TokenVerifier, authorization string) (context.Context, error) {
	token, ok := BearerToken(authorization)
	if !ok || verifier == nil {
		return ctx, nil
	}
	caller, err := verifier.Verify(ctx, token)
	if err != nil {
		return ctx, err
	}
	ctx = ContextWithToken(ctx, token)
	return ContextWithCaller(ctx, caller), nil
}
