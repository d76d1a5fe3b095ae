//go:build linux

// Goqueend daemon -- pub/sub message switch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/goqueen/internal/config"
	"github.com/dantte-lp/goqueen/internal/hook"
	queenmetrics "github.com/dantte-lp/goqueen/internal/metrics"
	"github.com/dantte-lp/goqueen/internal/switchcore"
	"github.com/dantte-lp/goqueen/internal/transport"
	appversion "github.com/dantte-lp/goqueen/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics HTTP server
// to drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("goqueend"))
		return 0
	}

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("goqueend starting",
		slog.String("version", appversion.Version),
		slog.Int("listeners", len(cfg.Listen)),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	// 4. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := queenmetrics.NewCollector(reg)

	// 5. Create the switch with the static-token policy from config.
	mgr, err := switchcore.NewManager(switchcore.Config{
		Hooks:           newHooks(cfg),
		Metrics:         collector,
		Logger:          logger,
		DefaultCapacity: cfg.Switch.DefaultCapacity,
		ConnectTimeout:  cfg.Switch.ConnectTimeout,
	})
	if err != nil {
		logger.Error("failed to create switch", slog.String("error", err.Error()))
		return 1
	}

	// 6. Run the switch, the front-end listeners, and the metrics server.
	if err := runServers(cfg, mgr, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("goqueend exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("goqueend stopped")
	return 0
}

// loadConfig loads from the given path, or falls back to defaults when no
// path was supplied.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.DefaultConfig()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

// newLoggerWithLevel builds the process logger from the log config, using
// level as the dynamically adjustable level source.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// newHooks builds the switch policy from the config's root credentials.
func newHooks(cfg *config.Config) hook.Hooks {
	creds := make([]hook.Credential, 0, len(cfg.Root))
	for _, r := range cfg.Root {
		creds = append(creds, hook.Credential{Token: r.Token, Root: r.Root})
	}
	return hook.NewStaticTokenHooks(creds)
}

// runServers drives the switch dispatch loop, every configured front-end
// listener, the metrics HTTP server, and the SIGHUP reload goroutine under
// one errgroup with a signal-aware context.
func runServers(
	cfg *config.Config,
	mgr *switchcore.Manager,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mgr.Run(gCtx)
	})

	crypto, err := cryptoConfig(cfg.AEAD)
	if err != nil {
		return fmt.Errorf("aead config: %w", err)
	}

	listeners := make([]*transport.Listener, 0, len(cfg.Listen))
	for _, lc := range cfg.Listen {
		ln, err := transport.NewListener(transport.ListenerConfig{
			Network: lc.Network,
			Addr:    lc.Addr,
			Crypto:  crypto,
		}, mgr, logger)
		if err != nil {
			return fmt.Errorf("create listener: %w", err)
		}
		listeners = append(listeners, ln)

		logger.Info("front-end listening",
			slog.String("network", lc.Network),
			slog.String("addr", lc.Addr),
			slog.Bool("aead_required", cfg.AEAD.Required),
		)
		g.Go(func() error {
			return ln.Run(gCtx)
		})
	}
	defer closeListeners(listeners, logger)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(metricsSrv, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// cryptoConfig translates the AEAD section into the front-end's handshake
// stance, decoding the pre-shared key when one is configured.
func cryptoConfig(cfg config.AEADConfig) (transport.CryptoConfig, error) {
	out := transport.CryptoConfig{
		Required: cfg.Required,
		Method:   cfg.Method,
	}
	if cfg.KeyHex == "" {
		return out, nil
	}
	key, err := cfg.Key()
	if err != nil {
		return transport.CryptoConfig{}, err
	}
	out.Key = key
	return out, nil
}

func closeListeners(listeners []*transport.Listener, logger *slog.Logger) {
	for _, ln := range listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Warn("failed to close listener", slog.String("error", err.Error()))
		}
	}
}

// newMetricsServer builds the Prometheus metrics HTTP server.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// listenAndServe serves srv on addr until ctx is done.
func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

// gracefulShutdown drains the metrics server. The switch and the front-end
// listeners stop on their own when the group context is cancelled.
func gracefulShutdown(metricsSrv *http.Server, logger *slog.Logger) error {
	logger.Info("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsSrv.Shutdown(shCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// handleSIGHUP listens for SIGHUP and reloads the log level from the
// configuration file. Blocks until the context is cancelled.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			if configPath == "" {
				logger.Info("SIGHUP received but no config file to reload")
				continue
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Error("config reload failed", slog.String("error", err.Error()))
				continue
			}
			logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
			logger.Info("log level reloaded", slog.String("level", cfg.Log.Level))
		}
	}
}
