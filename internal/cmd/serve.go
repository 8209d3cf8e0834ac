package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/reelsync/reelsync/internal/client"
	"github.com/reelsync/reelsync/internal/config"
	"github.com/reelsync/reelsync/internal/core/engine"
	"github.com/reelsync/reelsync/internal/core/events"
	"github.com/reelsync/reelsync/internal/core/ratelimit"
	"github.com/reelsync/reelsync/internal/core/store"
	errwrap "github.com/reelsync/reelsync/internal/errors"
	"github.com/reelsync/reelsync/internal/observability"
	"github.com/reelsync/reelsync/internal/server"
	"github.com/reelsync/reelsync/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync HTTP server",
	Long: `Start the HTTP server exposing the save, fetch, sync and queue API.

The server opens the local store, starts the backend connectivity prober
and replays buffered writes automatically when connectivity returns.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (placeholder - restart recommended)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()

		logLevel := viper.GetString("logging.level")
		observability.InitServerLogger(identity.BinaryName, logLevel)

		metricsPort := viper.GetInt("metrics.port")
		if metricsPort == 0 {
			metricsPort = 9090
		}

		if err := observability.InitMetrics(identity.BinaryName, metricsPort); err != nil {
			observability.ServerLogger.Error("Failed to initialize metrics",
				zap.Error(err))
			return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
		}

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "config load failed")
		}

		db, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "store open failed")
		}
		if err := db.Migrate(cmd.Context()); err != nil {
			_ = db.Close()
			return errwrap.WrapInternal(cmd.Context(), err, "store migration failed")
		}

		rules, err := cfg.EffectiveRateLimits()
		if err != nil {
			_ = db.Close()
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "rate limit rules invalid")
		}
		limiter := ratelimit.New(rules)

		backendClient := client.New(limiter, cfg.Backend.BaseURL, cfg.Backend.SearchPath, cfg.Backend.Timeout)
		if cfg.Backend.MaxWait > 0 {
			backendClient.MaxWait = cfg.Backend.MaxWait
		}

		bus := events.NewBus(0)
		syncer := engine.New(db, backendClient, bus, engine.Options{
			MaxRetries:  cfg.Sync.MaxRetries,
			CacheTTL:    cfg.Cache.TTL,
			ReplayRate:  cfg.Sync.ReplayRate,
			ReplayBurst: cfg.Sync.ReplayBurst,
			AutoSync:    cfg.Sync.AutoSync,
		})

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("version", versionInfo.Version),
			zap.String("host", serverHost),
			zap.Int("port", serverPort),
			zap.Int("metrics_port", metricsPort),
			zap.String("backend", cfg.Backend.BaseURL))

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("store", db)
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})

		srv := server.New(serverHost, serverPort, syncer, limiter, bus)

		handlers.SetAppIdentity(identity)

		// Connectivity prober runs for the life of the server.
		proberCtx, stopProber := context.WithCancel(context.Background())
		if cfg.Sync.ProbeInterval > 0 {
			prober := engine.NewProber(syncer, cfg.Backend.BaseURL+cfg.Backend.HealthPath, cfg.Sync.ProbeInterval)
			go prober.Run(proberCtx)
		}

		shutdownTimeout := viper.GetDuration("server.shutdown_timeout")
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Graceful shutdown handlers run LIFO: server first, then store and logger.
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Closing store...")
			stopProber()
			if err := db.Close(); err != nil {
				observability.ServerLogger.Warn("Store close returned error", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					observability.ServerLogger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				observability.ServerLogger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			observability.ServerLogger.Info("Configuration reloaded successfully",
				zap.String("file", viper.ConfigFileUsed()))

			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			observability.ServerLogger.Info("Starting HTTP server...",
				zap.String("host", serverHost),
				zap.Int("port", serverPort))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "127.0.0.1", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8380, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
