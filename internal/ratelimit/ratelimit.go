// Package ratelimit implements the per-caller sliding-window limiter that guards the
// callables. Each (caller, action) pair owns one document in the rate_limits collection
// holding the timestamps of its recent requests; every check is a single read-modify-write
// transaction on that document, so concurrent calls never pass against a stale list.
//
// A limiter that cannot reach its storage fails open: the error is logged and the call
// proceeds.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"salonbook.app/internal/docstore"
	"salonbook.app/internal/obs"
)

// Collection holds one window document per caller and action.
const Collection = "rate_limits"

// Policy is the budget of one action.
type Policy struct {
	Action string
	Max    int
	Window time.Duration
}

var (
	ValidateLogin     = Policy{Action: "validateLogin", Max: 20, Window: time.Minute}
	CreateProfile     = Policy{Action: "createProfile", Max: 5, Window: time.Hour}
	LinkBusiness      = Policy{Action: "linkBusiness", Max: 10, Window: time.Hour}
	CreateInitialUser = Policy{Action: "createInitialUser", Max: 5, Window: time.Hour}
)

// ExceededError reports that the caller used up the window.
type ExceededError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Action, e.RetryAfter)
}

// IsExceeded reports whether err carries an ExceededError.
func IsExceeded(err error) bool {
	var ex *ExceededError
	return errors.As(err, &ex)
}

type window struct {
	Requests []int64 `json:"requests"`
}

// Limiter checks callers against their windows.
type Limiter struct {
	store docstore.Store
	now   func() time.Time
}

// Option configures Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New builds a Limiter on top of store.
func New(store docstore.Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enforce is Check with the budget of p.
func (l *Limiter) Enforce(ctx context.Context, callerID string, p Policy) (int, error) {
	return l.Check(ctx, callerID, p.Action, p.Max, p.Window)
}

// Check records one request for callerID and action and returns how many requests the
// window now holds. When the window already holds max requests it returns an
// *ExceededError and records nothing. Storage failures yield (0, nil).
func (l *Limiter) Check(ctx context.Context, callerID, action string, max int, windowSize time.Duration) (int, error) {
	docID := callerID + "_" + action
	var count int

	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		now := l.now()
		nowMs := now.UnixMilli()
		cutoff := nowMs - windowSize.Milliseconds()

		var current window
		doc, err := tx.Get(ctx, Collection, docID)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
		case err != nil:
			return err
		default:
			if err := doc.DataTo(&current); err != nil {
				return err
			}
		}

		recent := make([]int64, 0, len(current.Requests)+1)
		for _, ts := range current.Requests {
			if ts > cutoff {
				recent = append(recent, ts)
			}
		}
		if len(recent) >= max {
			return &ExceededError{Action: action, RetryAfter: retryAfter(windowSize)}
		}

		recent = append(recent, nowMs)
		count = len(recent)
		return tx.Set(Collection, docID, map[string]any{
			"requests":    recent,
			"lastRequest": now.UTC(),
		}, docstore.MergeAll)
	})

	if err == nil {
		return count, nil
	}
	if IsExceeded(err) {
		obs.RateLimitRejected(action)
		return 0, err
	}
	obs.RateLimitFailedOpen(action)
	obs.Logger().Error().Err(err).
		Str("caller_id", callerID).
		Str("action", action).
		Msg("rate limit check failed, allowing request")
	return 0, nil
}

// retryAfter rounds the window up to whole seconds.
func retryAfter(w time.Duration) time.Duration {
	return time.Duration(math.Ceil(w.Seconds())) * time.Second
}
