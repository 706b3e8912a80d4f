package httpapi

import (
	"net/http"

	"salonbook.app/internal/audit"
	"salonbook.app/internal/auth"
	"salonbook.app/internal/obs"
)

const authHeader = "Authorization"

// withAuth attaches the verified caller when the request carries a valid bearer token.
// Requests without one, or with a token that fails verification, continue anonymously;
// each callable decides whether it needs a caller.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get(authHeader)
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx, err := auth.Authenticate(r.Context(), a.verifier, header)
		if err != nil {
			obs.Logger().Warn().Err(err).
				Str("request_id", audit.RequestIDFromContext(r.Context())).
				Str("path", r.URL.Path).
				Msg("bearer token rejected")
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
