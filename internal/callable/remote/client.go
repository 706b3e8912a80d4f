// Package remote calls the callables over gRPC.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"salonbook.app/internal/audit"
	"salonbook.app/internal/auth"
	"salonbook.app/internal/callable"
	"salonbook.app/internal/rpc"
)

const initialUserAttempts = 3

// Client wraps a connection to salonbook.v1.Callables.
type Client struct {
	conn  grpc.ClientConnInterface
	close func() error
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures Client.
type Option func(*Client)

// WithSleep replaces the wait between CreateInitialUserDocument attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// Dial connects to target. Without options the transport is insecure.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	c := New(conn)
	c.close = conn.Close
	return c, nil
}

// New builds a Client over an existing connection.
func New(conn grpc.ClientConnInterface, opts ...Option) *Client {
	c := &Client{conn: conn, sleep: sleepContext}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the connection when the Client owns it.
func (c *Client) Close() error {
	if c == nil || c.close == nil {
		return nil
	}
	return c.close()
}

func (c *Client) ValidateLogin(ctx context.Context, req callable.LoginRequest) (*callable.LoginResponse, error) {
	return invoke[callable.LoginResponse](ctx, c, rpc.MethodValidateLogin, req)
}

func (c *Client) CreateProfile(ctx context.Context, req callable.ProfileRequest) (*callable.ProfileResponse, error) {
	return invoke[callable.ProfileResponse](ctx, c, rpc.MethodCreateProfile, req)
}

func (c *Client) LinkProfessionalToBusiness(ctx context.Context, req callable.LinkRequest) (*callable.LinkResponse, error) {
	return invoke[callable.LinkResponse](ctx, c, rpc.MethodLinkProfessional, req)
}

// CreateInitialUserDocument retries when the backend does not know the user yet, which
// happens for a short while after sign-up. It makes up to three attempts, waiting one
// second and then two.
func (c *Client) CreateInitialUserDocument(ctx context.Context, req callable.InitialUserRequest) (*callable.InitialUserResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= initialUserAttempts; attempt++ {
		resp, err := invoke[callable.InitialUserResponse](ctx, c, rpc.MethodCreateInitialUserDocument, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) || attempt == initialUserAttempts {
			break
		}
		if err := c.sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.NotFound:
		return true
	default:
		return false
	}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	in := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, in); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(outgoingWithIdentity(ctx), rpc.FullMethod(method), in, out); err != nil {
		return nil, err
	}
	raw, err = protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	resp := new(Resp)
	if err := json.Unmarshal(raw, resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// outgoingWithIdentity forwards the caller token and request id of ctx.
func outgoingWithIdentity(ctx context.Context) context.Context {
	var pairs []string
	if token, ok := auth.TokenFromContext(ctx); ok {
		pairs = append(pairs, rpc.AuthorizationKey, "Bearer "+token)
	}
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		pairs = append(pairs, rpc.RequestIDKey, rid)
	}
	if len(pairs) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
