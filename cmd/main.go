package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tinoosan/fanfetch/internal/aria2"
	"github.com/tinoosan/fanfetch/internal/config"
	"github.com/tinoosan/fanfetch/internal/downloader"
	aria2dl "github.com/tinoosan/fanfetch/internal/downloader/aria2"
	"github.com/tinoosan/fanfetch/internal/fetch"
	"github.com/tinoosan/fanfetch/internal/history"
	"github.com/tinoosan/fanfetch/internal/logging"
	"github.com/tinoosan/fanfetch/internal/metrics"
	"github.com/tinoosan/fanfetch/internal/repo"
	"github.com/tinoosan/fanfetch/internal/router"
	"github.com/tinoosan/fanfetch/internal/service"
)

func main() {
	cfg, err := loadConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "fanfetch:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "fanfetch:", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the optional YAML file, FANFETCH_* variables
// and finally command-line flags.
func loadConfig(args []string, lookup func(string) (string, bool)) (config.Config, error) {
	fs := pflag.NewFlagSet("fanfetch", pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "path to a YAML config file")
	addr := fs.String("addr", "", "listen address")
	cacheDir := fs.String("cache-dir", "", "directory or bucket URL fetched objects are written to")
	workers := fs.Int("workers", 0, "number of concurrent fetches")
	level := fs.String("log-level", "", "log level (debug, info, warn, error)")
	backend := fs.String("backend", "", "fetch backend (http or aria2)")
	historyDSN := fs.String("history-dsn", "", "history store: memory, sqlite:<path>, postgres://... or postgres-env")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *path != "" {
		c, err := config.LoadFromFile(*path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = c
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return config.Config{}, err
	}

	if fs.Changed("addr") {
		cfg.Addr = *addr
	}
	if fs.Changed("cache-dir") {
		cfg.CacheDir = *cacheDir
	}
	if fs.Changed("workers") {
		cfg.Workers = *workers
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *level
	}
	if fs.Changed("backend") {
		cfg.Backend = *backend
	}
	if fs.Changed("history-dsn") {
		cfg.HistoryDSN = *historyDSN
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newFactory builds the fetch workers for cfg.Backend. The aria2 backend
// also follows daemon notifications until ctx ends.
func newFactory(ctx context.Context, cfg config.Config, logger *slog.Logger) (downloader.Factory, error) {
	if cfg.Backend != config.BackendAria2 {
		return downloader.NewHTTPFactory(logger, downloader.HTTPOptions{
			Timeout:   cfg.FetchTimeout,
			UserAgent: cfg.UserAgent,
		}, nil), nil
	}
	cl, err := aria2.NewClient(cfg.Aria2.RPCURL, cfg.Aria2.Secret, cfg.Aria2.Timeout)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Aria2.Timeout)
	defer cancel()
	if err := cl.Ping(pingCtx); err != nil {
		logger.Warn("aria2 not reachable yet", "url", logging.RedactURL(cl.BaseURL().String()), "err", err)
	}
	f := aria2dl.NewFactory(logger, cl, cfg.Aria2.PollInterval)
	go func() {
		if err := f.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("aria2 notifications unavailable, polling only", "err", err)
		}
	}()
	return f, nil
}

func run(ctx context.Context, cfg config.Config, stdout io.Writer) error {
	logger, logCloser := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}, stdout)
	defer logCloser.Close()
	slog.SetDefault(logger)

	metrics.Register()

	store, err := repo.Open(cfg.HistoryDSN)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	rec := history.New(logger, store, 0)
	rec.Run()
	defer rec.Stop()

	var dirs fetch.DirResolver = fetch.UserCacheDir{}
	if cfg.CacheDir != "" {
		dirs = fetch.StaticDir(cfg.CacheDir)
	}
	factory, err := newFactory(ctx, cfg, logger)
	if err != nil {
		return err
	}

	mgr, err := fetch.NewManager(fetch.Options{
		Workers:         cfg.Workers,
		Factory:         factory,
		Dirs:            dirs,
		ClearOnFailure:  cfg.ClearOnFailure,
		SettleOnSuccess: cfg.SettleOnSuccess,
		Observer:        rec,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	svc := service.NewFetch(mgr, store, cfg.WaitTimeout)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.New(logger, svc, cfg.APIToken),
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Waiting fetches and websocket streams outlive a short write timeout.
		WriteTimeout: 0,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting fanfetch", "addr", server.Addr, "workers", cfg.Workers, "backend", cfg.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		mgr.Close(context.Background())
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	logger.Info("received terminate, graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	mgr.Close(shutdownCtx)
	return nil
}
