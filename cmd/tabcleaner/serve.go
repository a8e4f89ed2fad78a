package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/tabcleaner/internal/api"
	"github.com/p-blackswan/tabcleaner/internal/app"
	"github.com/p-blackswan/tabcleaner/internal/bridge"
	"github.com/p-blackswan/tabcleaner/internal/config"
	"github.com/p-blackswan/tabcleaner/internal/health"
	"github.com/p-blackswan/tabcleaner/internal/metrics"
	"github.com/p-blackswan/tabcleaner/internal/scheduler"
	"github.com/p-blackswan/tabcleaner/internal/settings"
	"github.com/p-blackswan/tabcleaner/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tab cleaner daemon",
		Long: `Run the daemon. The browser extension connects to /ws on HTTP_ADDR and
UI collaborators use the message API on API_ADDR.

Configuration is read from the environment:
  HTTP_ADDR, API_ADDR, API_CORS_ORIGINS, DB_PATH, SETTINGS_PATH,
  KEEPALIVE_INTERVAL, BRIDGE_REQUEST_TIMEOUT, BRIDGE_ALLOWED_ORIGINS,
  DISCOVERY_POLICY, DISCOVERY_CLAMP, LOG_LEVEL, ENVIRONMENT`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if cfg.Development() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("http_addr", cfg.HTTPAddr).
		Str("api_addr", cfg.APIAddr).
		Str("discovery_policy", cfg.DiscoveryPolicy).
		Str("version", Version).
		Msg("starting tab cleaner")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	m := metrics.New()

	// Bridge to the browser extension
	bridgeCfg := bridge.DefaultConfig()
	bridgeCfg.RequestTimeout = cfg.BridgeRequestTimeout
	bridgeCfg.AllowedOrigins = cfg.BridgeOriginList()
	hub := bridge.NewHub(bridgeCfg, logger)

	ticker := scheduler.NewTicker(ctx, logger)

	initial, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.SettingsPath).Msg("settings file unreadable, using defaults")
	}

	core, err := app.New(ctx, app.Options{
		Browser:           hub,
		Store:             st,
		Scheduler:         ticker,
		Metrics:           m,
		Settings:          initial,
		SettingsPath:      cfg.SettingsPath,
		KeepaliveInterval: cfg.KeepaliveInterval,
		DiscoveryPolicy:   cfg.DiscoveryPolicy,
		DiscoveryClamp:    cfg.DiscoveryClamp,
	}, logger)
	if err != nil {
		st.Close()
		return err
	}

	// No browser is attached yet, so Init only restores and schedules.
	if err := core.Init(ctx); err != nil {
		logger.Error().Err(err).Msg("startup resync failed")
	}

	hub.OnEvent(core.HandleEvent)
	hub.OnConnection(func(connected bool) {
		m.SetBridgeConnected(connected)
		if !connected {
			return
		}
		// The read loop is not running yet, so resync must not block here.
		go func() {
			if err := core.Resync(ctx); err != nil {
				logger.Error().Err(err).Msg("resync after connect failed")
			}
		}()
	})

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(st))
	checker.Register("bridge", health.ConnectedCheck(hub.Connected))

	// WaitGroup for in-flight work
	var wg sync.WaitGroup

	// Synced settings file
	watcher, err := settings.NewWatcher(cfg.SettingsPath, core.ApplySettings, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("settings watcher disabled")
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("settings watcher error")
			}
		}()
	}

	// HTTP server for the extension bridge, probes and metrics
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/health", health.LivenessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	apiServer := api.NewServer(api.ServerConfig{
		ListenAddr:  cfg.APIAddr,
		CORSOrigins: cfg.APICORSOrigins,
	}, core, checker, m, logger)

	// Start HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Start message API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("message API server error")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	// Cancel context to signal all goroutines
	cancel()

	// Shutdown servers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if err := apiServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("message API server shutdown error")
	}

	if err := hub.Disconnect(); err != nil {
		logger.Error().Err(err).Msg("bridge close error")
	}

	ticker.Stop()

	// Wait for in-flight work to complete
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	if err := core.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to persist state on shutdown")
	}
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("store close error")
	}

	logger.Info().Msg("tab cleaner stopped")
	return nil
}
