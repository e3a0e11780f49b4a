package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/sumire/career/internal/config"
	"github.com/sumire/career/internal/domain"
	"github.com/sumire/career/internal/handler"
	"github.com/sumire/career/internal/identity"
	"github.com/sumire/career/internal/identity/oauthflow"
	"github.com/sumire/career/internal/identity/toolkit"
	"github.com/sumire/career/internal/repository"
	"github.com/sumire/career/internal/service"
	"github.com/sumire/career/internal/session"
	"github.com/sumire/career/internal/store"
	"github.com/sumire/career/internal/telemetry"
	"github.com/sumire/career/internal/view"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("flush traces", "error", err)
		}
	}()

	sessionStore, closeStore, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var regOpts []session.Option
	regOpts = append(regOpts,
		session.WithIdleTTL(cfg.SessionIdleTimeout),
		session.WithCleanupInterval(time.Minute),
	)

	var directory handler.Directory
	if cfg.DatabaseURL != "" {
		if err := repository.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}

		db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		slog.Info("database connected")

		dirSvc := service.NewDirectoryService(repository.NewProfileRepository(db))
		regOpts = append(regOpts, session.WithObserver(dirSvc.Observer()))
		directory = dirSvc
	} else {
		slog.Info("DATABASE_URL not set, member directory disabled")
	}

	connectors, err := buildConnectors(ctx, cfg)
	if err != nil {
		return err
	}
	broker := oauthflow.NewBroker(cfg.OAuthFlowTTL, connectors...)
	go broker.Run(ctx, time.Minute)

	httpClient := &http.Client{Timeout: cfg.IdentityHTTPTimeout}
	registry := session.NewRegistry(func(sessionID string) identity.Provider {
		client := toolkit.New(toolkit.Config{
			APIKey:     cfg.IdentityAPIKey,
			BaseURL:    cfg.IdentityBaseURL,
			TokenURL:   cfg.IdentityTokenURL,
			RequestURI: cfg.BaseURL,
			HTTPClient: httpClient,
		}, sessionID, sessionStore, broker.Prompter(sessionID))
		go client.Restore(ctx)
		return client
	}, regOpts...)
	defer registry.Close()
	go registry.Run(ctx)

	renderer, err := view.NewRenderer()
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	e := handler.NewRouter(handler.Deps{
		Renderer:     renderer,
		Cookies:      service.NewSessionCookies(cfg.SessionSecret, cfg.SessionCookieTTL),
		Sessions:     registry,
		Flows:        broker,
		Directory:    directory,
		CookieSecure: cfg.CookieSecure,
		Done:         ctx.Done(),
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     e,
		ReadTimeout: 10 * time.Second,
		// No write timeout: /session/events streams for as long as the tab is open.
		IdleTimeout: 60 * time.Second,
	}
	srv.RegisterOnShutdown(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "providers", broker.Kinds())
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func openSessionStore(ctx context.Context, cfg config.Config) (identity.SessionStore, func(), error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, sessions are kept in memory")
		return store.NewMemoryStore(), func() {}, nil
	}

	client, err := store.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	slog.Info("redis connected")

	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("close redis", "error", err)
		}
	}
	return store.NewRedisStore(client, cfg.SessionCookieTTL), closeFn, nil
}

func buildConnectors(ctx context.Context, cfg config.Config) ([]oauthflow.Connector, error) {
	var connectors []oauthflow.Connector

	if cfg.GoogleEnabled() {
		google, err := oauthflow.NewGoogleConnector(ctx,
			cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.CallbackURL(string(domain.ProviderGoogle)))
		if err != nil {
			return nil, fmt.Errorf("google connector: %w", err)
		}
		connectors = append(connectors, google)
	}

	if cfg.GitHubEnabled() {
		github, err := oauthflow.NewGitHubConnector(
			cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.CallbackURL(string(domain.ProviderGitHub)))
		if err != nil {
			return nil, fmt.Errorf("github connector: %w", err)
		}
		connectors = append(connectors, github)
	}

	return connectors, nil
}
