package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/synapsr/proxywarp/internal/api"
	"github.com/synapsr/proxywarp/internal/api/handlers"
	"github.com/synapsr/proxywarp/internal/cache"
	"github.com/synapsr/proxywarp/internal/config"
	"github.com/synapsr/proxywarp/internal/directory"
	"github.com/synapsr/proxywarp/internal/logging"
	"github.com/synapsr/proxywarp/internal/proxy"
	"github.com/synapsr/proxywarp/internal/rewrite"
	"github.com/synapsr/proxywarp/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	port       int
	baseDomain string
	dbFile     string
	debug      bool
	jsonLogs   bool
}

// parseFlags parses command-line flags and returns the values.
func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Optional YAML config file (env vars win)")
	flag.IntVar(&f.port, "port", 0, "Override listen port")
	flag.StringVar(&f.baseDomain, "base-domain", "", "Override base domain")
	flag.StringVar(&f.dbFile, "db", "", "Override token database file path")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug mode (admin endpoints, error detail)")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.Parse()
	return f
}

// applyCLIOverrides applies command-line overrides to the config.
func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.baseDomain != "" {
		cfg.Server.BaseDomain = f.baseDomain
	}
	if f.dbFile != "" {
		cfg.Directory.DBFile = f.dbFile
	}
	if f.debug {
		cfg.Server.Debug = true
		cfg.Logging.Level = "DEBUG"
	}
	if f.jsonLogs {
		cfg.Logging.Format = "json"
	}
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.Info("ProxyWarp starting",
		"port", cfg.Server.Port,
		"base_domain", cfg.Server.BaseDomain,
		"db_file", cfg.Directory.DBFile,
		"debug", cfg.Server.Debug,
	)

	initSentry(cfg, logger)
	defer sentry.Flush(2 * time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dir := directory.New(cfg.Directory, logger)
	defer dir.Close()
	resolver := cache.New(cfg.Cache.TTL())
	defer resolver.Close()

	rewriter := rewrite.New(cfg.Server.BaseDomain)
	management := api.New(cfg, logger, handlers.New(cfg, logger, dir, rewriter))
	gateway := server.New(cfg, logger, dir, resolver, proxy.New(cfg, logger, rewriter), management)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           gateway,
		ReadHeaderTimeout: 10 * time.Second,
		// No Read/WriteTimeout: upstream responses stream for arbitrary
		// lengths; the proxy path carries its own watchdog.
		IdleTimeout: 120 * time.Second,
	}

	// SIGHUP forces a directory reload (deploy pipelines poke us after
	// editing the token file).
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)
	go func() {
		for range sighup {
			count := dir.ForceReload()
			logger.Info("token directory reloaded on SIGHUP", "entries", count)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case serveErr := <-errCh:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("server exited with error: %w", serveErr)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("gateway stopped")
	return nil
}

// initSentry enables error reporting when a DSN is configured; without one
// every capture call is a no-op.
func initSentry(cfg *config.Config, logger *slog.Logger) {
	if cfg.Sentry.DSN == "" {
		return
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		ServerName:       "proxywarp",
		AttachStacktrace: true,
	}); err != nil {
		logger.Warn("sentry init failed", "err", err)
	}
}
