package rpc

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"salonbook.app/internal/audit"
	"salonbook.app/internal/auth"
	"salonbook.app/internal/obs"
)

// Metadata keys read from incoming calls.
const (
	AuthorizationKey = "authorization"
	RequestIDKey     = "x-request-id"
)

// UnaryInterceptor tags the call with a request id and, when the authorization metadata
// carries a valid bearer token, with the verified caller. Calls without a valid token
// proceed anonymously, as on the HTTP transport.
func UnaryInterceptor(verifier auth.TokenVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)

		rid := first(md, RequestIDKey)
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		ctx = audit.WithRequestID(ctx, rid)

		if header := first(md, AuthorizationKey); header != "" && verifier != nil {
			authed, err := auth.Authenticate(ctx, verifier, header)
			if err != nil {
				obs.Logger().Warn().Err(err).Str("request_id", rid).Str("method", info.FullMethod).Msg("bearer token rejected")
			} else {
				ctx = authed
			}
		}

		start := time.Now()
		resp, err := handler(ctx, req)
		obs.Logger().Info().
			Str("request_id", rid).
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("rpc_complete")
		return resp, err
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

// MonitorReadiness probes check every interval and publishes the result to hs and the
// readiness gauge until ctx is done.
func MonitorReadiness(ctx context.Context, hs *health.Server, check func(context.Context) error, interval time.Duration) {
	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		st := healthpb.HealthCheckResponse_SERVING
		if err := check(pctx); err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			obs.Logger().Warn().Err(err).Msg("readiness probe failed")
		}
		obs.SetReady(st == healthpb.HealthCheckResponse_SERVING)
		hs.SetServingStatus("", st)
		hs.SetServingStatus(ServiceName, st)
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}
