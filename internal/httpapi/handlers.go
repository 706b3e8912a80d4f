// Package httpapi serves the callable functions over HTTP next to the health, info and
// metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"salonbook.app/internal/auth"
	"salonbook.app/internal/callable"
	"salonbook.app/internal/obs"
)

const serviceName = "salonbook-api"

// Pinger is the part of the document store the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the document store.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Options tunes the edge middleware.
type Options struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
	RatePerSec     float64
	RateBurst      int
}

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 20
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 40
	}
	return o
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	callables  *callable.Service
	verifier   auth.TokenVerifier
	opts       Options
}

// New builds the API. verifier may be nil, in which case every request is anonymous.
func New(svc *callable.Service, verifier auth.TokenVerifier, rp ReadyProbe, version string, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		callables:  svc,
		verifier:   verifier,
		opts:       opts.withDefaults(),
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())
	a.mux.HandleFunc("POST /v1/callable/{name}", a.handleCallable)
	a.mux.HandleFunc("/v1/callable/{name}", func(w http.ResponseWriter, r *http.Request) {
		methodNotAllowed(w, r, http.MethodPost)
	})
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the mux wrapped in the edge middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSec)
	h = CORS(h, a.opts.AllowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      serviceName,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"version":   a.version,
		"callables": callable.Names(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
