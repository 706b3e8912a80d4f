package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"salonbook.app/internal/auth"
	"salonbook.app/internal/callable"
	"salonbook.app/internal/config"
	"salonbook.app/internal/docstore"
	"salonbook.app/internal/docstore/backend"
	"salonbook.app/internal/httpapi"
	"salonbook.app/internal/obs"
	"salonbook.app/internal/rpc"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const readinessInterval = 5 * time.Second

func main() {
	if err := run(); err != nil {
		obs.Logger().Fatal().Err(err).Msg("salonbook-api stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := obs.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}
	obs.Init()
	obs.InitBuildInfo(version, commit, cfg.Deployment.Region)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	verifier, err := newVerifier(ctx, cfg.Identity)
	if err != nil {
		return err
	}
	directory, err := newDirectory(ctx, cfg.Identity, store)
	if err != nil {
		return err
	}

	svc := callable.NewService(store, directory)

	api := httpapi.New(svc, verifier, httpapi.ReadyProbe{Store: store}, version, httpapi.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RatePerSec:     cfg.HTTP.EdgeRatePerSec,
		RateBurst:      cfg.HTTP.EdgeBurst,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errs := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("store", cfg.Store.Driver).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		var hs *health.Server
		grpcServer, hs = rpc.New(svc, verifier)
		go rpc.MonitorReadiness(ctx, hs, store.Ping, readinessInterval)
		go func() {
			log.Info().Str("addr", cfg.GRPC.Addr).Msg("grpc listening")
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errs <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errs:
		log.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info().Msg("stopped")
	return nil
}

func newVerifier(ctx context.Context, cfg config.IdentityConfig) (auth.TokenVerifier, error) {
	switch cfg.Mode {
	case config.IdentityGoogle:
		v, err := auth.NewGoogleVerifier(ctx, cfg.GoogleAudience, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("google verifier: %w", err)
		}
		return v, nil
	default:
		v, err := auth.NewJWTVerifier(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer))
		if err != nil {
			return nil, fmt.Errorf("jwt verifier: %w", err)
		}
		return v, nil
	}
}

func newDirectory(ctx context.Context, cfg config.IdentityConfig, store docstore.Store) (auth.Directory, error) {
	if cfg.Directory == config.DirectoryIdentityToolkit {
		d, err := auth.NewIdentityToolkitDirectory(ctx, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("identity toolkit directory: %w", err)
		}
		return d, nil
	}
	return auth.NewStoreDirectory(store), nil
}

func clientOptions(cfg config.IdentityConfig) []option.ClientOption {
	if cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
}
