// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sokohq/soko/internal/auth"
	"github.com/sokohq/soko/internal/auth/postgres"
	"github.com/sokohq/soko/internal/config"
	"github.com/sokohq/soko/internal/httpapi"
	"github.com/sokohq/soko/internal/logging"
	"github.com/sokohq/soko/internal/observability"
	"github.com/sokohq/soko/internal/store"
	"github.com/sokohq/soko/pkg/errutil"
)

const serviceName = "soko"

// NewServeCmd creates the serve subcommand.
func NewServeCmd(deps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API and, unless --metrics-addr is empty, the
metrics and health probe server. Stops gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, deps.withDefaults())
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, level, deps.LogOutput)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(deps, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	pool, err := deps.PoolFactory(ctx, store.ConnectConfig{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		Timeout:  cfg.Database.ConnectTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	mail, err := deps.MailerFactory(cfg.Mailer, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := mail.Close(); closeErr != nil {
			logger.Warn("error closing mailer", "error", closeErr)
		}
	}()

	accounts, err := newAccountService(cfg, pool, mail, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		obsServer ObservabilityServer
		metrics   *observability.Metrics
	)
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, func(ctx context.Context) bool {
			return pool.Ping(ctx) == nil
		})
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metrics = obsServer.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	router, err := httpapi.NewRouter(accounts, metrics, logger)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           router,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		defer close(httpErrCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErrCh <- serveErr
		}
	}()

	cmd.Println("Soko started")
	logger.Info("soko ready", "http_addr", listener.Addr().String(), "mailer", cfg.Mailer.Kind)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-httpErrCh:
		if ok {
			serveErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
			errutil.LogError(logger, "http server failed", serveErr)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return serveErr
}

// newAccountService wires the auth services to PostgreSQL.
func newAccountService(cfg *config.Config, db postgres.DB, mail auth.Mailer, logger *slog.Logger) (*auth.AccountService, error) {
	key, err := auth.NewMACKey([]byte(cfg.Token.Secret))
	if err != nil {
		return nil, err
	}

	accountRepo := postgres.NewAccountRepository(db)
	tx := postgres.NewTransactor(db)
	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithMaxActiveTokens(cfg.Token.MaxActive),
		auth.WithVerificationLifetime(cfg.Verification.Lifetime),
	}

	verifications, err := auth.NewVerificationCodeService(accountRepo, postgres.NewVerificationRepository(db), tx, opts...)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewAccessTokenService(accountRepo, postgres.NewAccessTokenRepository(db), tx, key, opts...)
	if err != nil {
		return nil, err
	}
	return auth.NewAccountService(accountRepo, auth.NewArgon2idHasher(), tx, verifications, tokens, mail, opts...)
}

func autoMigrate(deps *ServeDeps, databaseURL string, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return err
	}
	applied, _, err := migrator.Version()
	if err != nil {
		return err
	}
	logger.Info("database migrated", "version", applied)
	return nil
}

func stopObservability(server ObservabilityServer, logger *slog.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Warn("failed to stop observability server during cleanup", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It returns
// when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
