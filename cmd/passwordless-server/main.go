// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passwordless.
//
// go-passwordless is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-passwordless/internal/config"
	"github.com/jeremyhahn/go-passwordless/internal/rest"
	"github.com/jeremyhahn/go-passwordless/pkg/directory"
	"github.com/jeremyhahn/go-passwordless/pkg/events"
	"github.com/jeremyhahn/go-passwordless/pkg/federation"
	"github.com/jeremyhahn/go-passwordless/pkg/login"
	"github.com/jeremyhahn/go-passwordless/pkg/session"
	"github.com/jeremyhahn/go-passwordless/pkg/webauthn"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "/etc/passwordless/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-passwordless server\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	if envConfig := os.Getenv("PASSWORDLESS_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		"site", cfg.Site.BaseURL,
		"rp_id", cfg.WebAuthn.RPID,
		"allowed_client", cfg.ID4Me.AllowedClient,
		"registration_enabled", cfg.ID4Me.RegistrationEnabled,
		"version", version)

	handler, err := buildHandler(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize services", slog.Any("error", err))
		os.Exit(1)
	}

	router := handler.Router()
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: router,
	}

	shutdownCtx := setupSignalHandler(logger)

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	logger.Info("Server started", "addr", cfg.ListenAddr())

	select {
	case <-shutdownCtx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		logger.Error("Server error", slog.Any("error", err))
	}

	shutdownTimeout, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(shutdownTimeout); err != nil {
		logger.Error("Error during server shutdown", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Server stopped")
}

// buildHandler wires the in-memory stores and services into the AJAX handler.
func buildHandler(cfg *config.Config, logger *slog.Logger) (*rest.Handler, error) {
	bus := events.NewBus()
	dir := directory.NewMemoryDirectory()
	sessions := session.NewManager(session.NewMemoryStore(),
		strings.HasPrefix(cfg.Site.BaseURL, "https://"))

	wa, err := webauthn.NewService(webauthn.ServiceParams{
		Config:          cfg.WebAuthnConfig(),
		CredentialStore: webauthn.NewMemoryCredentialStore(),
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn service: %w", err)
	}

	fed, err := federation.NewService(federation.ServiceParams{
		Config:      cfg.FederationConfig(),
		Resolver:    net.DefaultResolver,
		ClientCache: federation.NewMemoryClientCache(),
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("federation service: %w", err)
	}

	orchestrator, err := login.NewOrchestrator(login.OrchestratorParams{
		Bus:                 bus,
		Directory:           dir,
		Links:               dir,
		RegistrationEnabled: cfg.ID4Me.RegistrationEnabled,
		Logger:              logger,
	})
	if err != nil {
		return nil, fmt.Errorf("login orchestrator: %w", err)
	}

	return rest.NewHandler(rest.HandlerParams{
		WebAuthn:     wa,
		Federation:   fed,
		Orchestrator: orchestrator,
		Directory:    dir,
		Sessions:     sessions,
		BaseURL:      cfg.Site.BaseURL,
		AdminURL:     cfg.Site.AdminURL,
		Logger:       logger,
	}), nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler(logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}
