package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/rohits-web03/enrollr/internal/api"
	"github.com/rohits-web03/enrollr/internal/api/handlers"
	"github.com/rohits-web03/enrollr/internal/auth"
	"github.com/rohits-web03/enrollr/internal/config"
	"github.com/rohits-web03/enrollr/internal/logger"
	"github.com/rohits-web03/enrollr/internal/repositories"
	"github.com/rohits-web03/enrollr/internal/services"
)

// @title Enrollr API
// @version 1.0
// @description User onboarding: registration with transactional profile image ingestion.
// @host localhost:8080
// @BasePath /
func main() {
	cfg, envLoaded, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	if !envLoaded {
		log.Info().Msg("No .env file found, reading configuration from the environment")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := repositories.Migrate(cfg.DB_URL, log); err != nil {
		return err
	}
	db, err := repositories.ConnectDatabase(ctx, cfg.DB_URL, log)
	if err != nil {
		return err
	}
	meta := repositories.NewMetadataStore(db)

	artifacts, err := newArtifactStore(cfg, log)
	if err != nil {
		return err
	}

	hasher := auth.NewPasswordHasher(bcrypt.DefaultCost)
	ingestion := services.NewFileIngestion(artifacts, meta, services.NewLogOrphanRecorder(log), log)
	registration := services.NewRegistration(ingestion, meta, hasher, cfg.RequireProfileImage, log)

	if cfg.Bootstrap.Email != "" {
		if _, err := registration.BootstrapAdmin(ctx, services.Profile{
			Name:     cfg.Bootstrap.Name,
			Email:    cfg.Bootstrap.Email,
			Password: cfg.Bootstrap.Password,
		}); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	resolver, err := newResolver(ctx, cfg, meta, log)
	if err != nil {
		return err
	}

	var (
		login         handlers.Authenticator
		authenticator *auth.Authenticator
	)
	if cfg.LoginEnabled() {
		authenticator = auth.NewAuthenticator(meta, meta, hasher, auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL), cfg.RefreshTTL, log)
		login = authenticator
	}

	h := handlers.New(registration, ingestion, login, meta, handlers.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		RequestTimeout: cfg.RequestTimeout,
		SecureCookies:  cfg.IsProduction(),
	}, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: api.SetupRouter(h, resolver, cfg.CorsConfig(), log),
		// Timeouts prevent resource exhaustion from slow clients
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Environment).Msg("Starting Enrollr server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on port %s: %w", cfg.Port, err)
		}
		return nil
	})
	if authenticator != nil {
		g.Go(func() error {
			pruneRefreshTokens(gctx, authenticator, cfg.RefreshPruneInterval, log)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}

// pruneRefreshTokens deletes expired refresh tokens every interval until ctx
// is done.
func pruneRefreshTokens(ctx context.Context, a *auth.Authenticator, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.PruneExpired(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("refresh token pruning failed")
			}
		}
	}
}

func newArtifactStore(cfg *config.Config, log zerolog.Logger) (services.ArtifactStore, error) {
	switch cfg.ArtifactBackend {
	case config.BackendR2:
		client := repositories.NewR2Client(cfg.R2.AccessKeyID, cfg.R2.SecretAccessKey, cfg.R2.AccountID, cfg.R2.Region)
		return repositories.NewR2ArtifactStore(client, cfg.R2.BucketName, "users/", log), nil
	default:
		return repositories.NewLocalArtifactStore(cfg.StorageRoot, log)
	}
}

func newResolver(ctx context.Context, cfg *config.Config, users auth.UserLookup, log zerolog.Logger) (auth.Resolver, error) {
	switch {
	case cfg.AuthMode == config.AuthModeStub:
		log.Warn().Msg("AUTH_MODE=stub: every request is anonymous")
		return auth.StubResolver{}, nil
	case cfg.AuthJWKSURL != "":
		return auth.NewJWKSResolver(ctx, cfg.AuthJWKSURL, users, log)
	default:
		return auth.NewHMACResolver(cfg.JWTSecret, users, log), nil
	}
}
