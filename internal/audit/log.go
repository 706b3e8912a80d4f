// Package audit records security events. Every event goes to the security_logs
// collection and to the process log; neither write can fail the caller.
package audit

import (
	"context"
	"strings"

	"salonbook.app/internal/docstore"
	"salonbook.app/internal/obs"
)

// Collection is the append-only security log.
const Collection = "security_logs"

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger appends security events to a document store.
type Logger struct {
	store docstore.Store
}

// New builds a Logger. A nil store only logs to the process log.
func New(store docstore.Store) *Logger {
	return &Logger{store: store}
}

// SecurityLog records event for userID. Failures are logged and swallowed.
func (l *Logger) SecurityLog(ctx context.Context, event, userID string, details map[string]any) {
	event = strings.TrimSpace(event)
	if event == "" {
		obs.Logger().Warn().Msg("audit event without a name dropped")
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	LogEvent(ctx, event, userID, details)

	if l == nil || l.store == nil {
		return
	}
	// Detach from request cancellation so the record survives a caller hanging up.
	writeCtx := context.WithoutCancel(ctx)
	if _, err := l.store.Add(writeCtx, Collection, map[string]any{
		"event":     event,
		"userId":    userID,
		"details":   details,
		"timestamp": docstore.ServerTimestamp,
	}); err != nil {
		obs.AuditWriteFailed()
		obs.Logger().Error().Err(err).Str("event", event).Str("user_id", userID).Msg("security log write failed")
	}
}

// LogEvent writes an audit line enriched with the request id to the process log.
func LogEvent(ctx context.Context, event, userID string, fields map[string]any) {
	entry := obs.Logger().Info().
		Str("type", "audit").
		Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = entry.Str("request_id", rid)
	}
	if userID != "" {
		entry = entry.Str("user_id", userID)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	entry.Interface("fields", fields).Msg("audit")
}
