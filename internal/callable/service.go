// Package callable implements the remote functions clients call to bootstrap accounts,
// create role profiles and link professionals to businesses. Every function validates
// its payload, binds it to the caller, throttles per caller and records a security
// event on each outcome.
package callable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"

	"salonbook.app/internal/account"
	"salonbook.app/internal/audit"
	"salonbook.app/internal/auth"
	"salonbook.app/internal/docstore"
	"salonbook.app/internal/obs"
	"salonbook.app/internal/ratelimit"
	"salonbook.app/internal/validate"
)

// Service runs the callable functions against one document store.
type Service struct {
	accounts  *account.Repository
	limiter   *ratelimit.Limiter
	audit     *audit.Logger
	directory auth.Directory
}

type options struct {
	now func() time.Time
}

// Option configures Service.
type Option func(*options)

// WithClock overrides the time source of the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// NewService wires the callables to store. directory resolves users for
// CreateInitialUserDocument, which runs before the caller token is guaranteed to exist.
func NewService(store docstore.Store, directory auth.Directory, opts ...Option) *Service {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		accounts:  account.NewRepository(store),
		limiter:   ratelimit.New(store, ratelimit.WithClock(o.now)),
		audit:     audit.New(store),
		directory: directory,
	}
}

// enforce charges one request of policy p to uid.
func (s *Service) enforce(ctx context.Context, uid string, p ratelimit.Policy) error {
	_, err := s.limiter.Enforce(ctx, uid, p)
	if err == nil {
		return nil
	}
	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		s.audit.SecurityLog(ctx, "rate_limit_exceeded", uid, map[string]any{"action": p.Action})
		seconds := int(exceeded.RetryAfter / time.Second)
		return newError(codes.ResourceExhausted, fmt.Sprintf(msgRateLimitTemplate, seconds))
	}
	return err
}

// shield is deferred by every callable. It turns panics and errors that are not *Error
// into a generic Internal error after recording them under event. fallbackUID names the
// subject when the context carries no caller.
func (s *Service) shield(ctx context.Context, event, fallbackUID string, errp *error) {
	if r := recover(); r != nil {
		*errp = fmt.Errorf("panic: %v", r)
	}
	err := *errp
	if err == nil {
		return
	}
	var ce *Error
	if errors.As(err, &ce) {
		*errp = ce
		return
	}

	uid := ""
	if caller, ok := auth.CallerFromContext(ctx); ok {
		uid = caller.UID
	} else if validate.IsValidUID(fallbackUID) {
		uid = fallbackUID
	}
	obs.Logger().Error().Err(err).Str("event", event).Str("user_id", uid).Msg("callable failed")
	s.audit.SecurityLog(ctx, event, uid, map[string]any{"error": err.Error()})
	*errp = errInternal()
}

// subjectMismatch records a caller acting on another uid and returns PermissionDenied.
func (s *Service) subjectMismatch(ctx context.Context, event, callerUID, requested string) error {
	s.audit.SecurityLog(ctx, event, callerUID, map[string]any{
		"requestedUid": validate.SanitizeString(requested),
	})
	return newError(codes.PermissionDenied, msgPermissionDenied)
}

func boolPtr(b bool) *bool { return &b }
