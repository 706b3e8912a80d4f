// Package config reads the process configuration from the environment once at start-up.
// The resulting Config is a plain value; nothing in it changes after Load returns.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP       HTTPConfig
	GRPC       GRPCConfig
	Store      StoreConfig
	Identity   IdentityConfig
	Logging    LoggingConfig
	Deployment DeploymentConfig
}

// HTTPConfig governs the HTTP server.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	EdgeRatePerSec  float64
	EdgeBurst       int
	AllowedOrigins  []string
}

// GRPCConfig governs the gRPC server. An empty Addr disables it.
type GRPCConfig struct {
	Addr string
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver    string
	PGDSN     string
	BadgerDir string
}

// Identity modes.
const (
	IdentityJWT    = "jwt"
	IdentityGoogle = "google"

	DirectoryStore           = "store"
	DirectoryIdentityToolkit = "identitytoolkit"
)

// IdentityConfig selects how caller tokens are verified and how users are looked up.
type IdentityConfig struct {
	Mode            string
	JWTSecret       string
	JWTIssuer       string
	GoogleAudience  string
	Directory       string
	CredentialsFile string
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string
	Format string // json|console
}

// DeploymentConfig carries placement settings reported by /v1/info and build_info.
type DeploymentConfig struct {
	Region       string
	MaxInstances int
}

const (
	defaultHTTPAddr        = ":8080"
	defaultGRPCAddr        = ":9090"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxBodyBytes    = 1 << 20
	defaultEdgeRatePerSec  = 20
	defaultEdgeBurst       = 40
	defaultJWTIssuer       = "salonbook"
	defaultRegion          = "southamerica-east1"
	defaultMaxInstances    = 10
)

// Load reads .env (when present) and then the environment, applying defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            valueOrDefault("SALONBOOK_HTTP_ADDR", defaultHTTPAddr),
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			IdleTimeout:     defaultIdleTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
			AllowedOrigins:  splitCSV(os.Getenv("SALONBOOK_ALLOWED_ORIGINS")),
		},
		GRPC: GRPCConfig{
			Addr: valueOrDefault("SALONBOOK_GRPC_ADDR", defaultGRPCAddr),
		},
		Store: StoreConfig{
			Driver:    strings.ToLower(valueOrDefault("SALONBOOK_STORE", DriverMemory)),
			PGDSN:     os.Getenv("SALONBOOK_PG_DSN"),
			BadgerDir: os.Getenv("SALONBOOK_BADGER_DIR"),
		},
		Identity: IdentityConfig{
			Mode:            strings.ToLower(valueOrDefault("SALONBOOK_IDENTITY_MODE", IdentityJWT)),
			JWTSecret:       os.Getenv("SALONBOOK_JWT_SECRET"),
			JWTIssuer:       valueOrDefault("SALONBOOK_JWT_ISSUER", defaultJWTIssuer),
			GoogleAudience:  os.Getenv("SALONBOOK_GOOGLE_AUDIENCE"),
			Directory:       strings.ToLower(valueOrDefault("SALONBOOK_DIRECTORY", DirectoryStore)),
			CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		},
		Logging: LoggingConfig{
			Level:  valueOrDefault("SALONBOOK_LOG_LEVEL", "info"),
			Format: valueOrDefault("SALONBOOK_LOG_FORMAT", "json"),
		},
		Deployment: DeploymentConfig{
			Region: valueOrDefault("SALONBOOK_REGION", defaultRegion),
		},
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SALONBOOK_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"SALONBOOK_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"SALONBOOK_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"SALONBOOK_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	if cfg.HTTP.MaxBodyBytes, err = parseInt64("SALONBOOK_MAX_BODY_BYTES", defaultMaxBodyBytes); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.EdgeRatePerSec, err = parseFloat("SALONBOOK_EDGE_RATE_PER_SEC", defaultEdgeRatePerSec); err != nil {
		return Config{}, err
	}
	edgeBurst, err := parseInt64("SALONBOOK_EDGE_BURST", defaultEdgeBurst)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.EdgeBurst = int(edgeBurst)
	maxInstances, err := parseInt64("SALONBOOK_MAX_INSTANCES", defaultMaxInstances)
	if err != nil {
		return Config{}, err
	}
	cfg.Deployment.MaxInstances = int(maxInstances)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.PGDSN == "" {
			return errors.New("SALONBOOK_PG_DSN is required for the postgres store")
		}
	case DriverBadger:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Identity.Mode {
	case IdentityJWT:
		if c.Identity.JWTSecret == "" {
			return errors.New("SALONBOOK_JWT_SECRET is required in jwt identity mode")
		}
	case IdentityGoogle:
		if c.Identity.GoogleAudience == "" {
			return errors.New("SALONBOOK_GOOGLE_AUDIENCE is required in google identity mode")
		}
	default:
		return fmt.Errorf("unknown identity mode %q", c.Identity.Mode)
	}

	switch c.Identity.Directory {
	case DirectoryStore, DirectoryIdentityToolkit:
	default:
		return fmt.Errorf("unknown user directory %q", c.Identity.Directory)
	}

	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.HTTP.MaxBodyBytes)
	}
	if c.Deployment.MaxInstances <= 0 {
		return fmt.Errorf("max instances must be positive, got %d", c.Deployment.MaxInstances)
	}
	return nil
}

func valueOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return n, nil
}

func parseFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return f, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
