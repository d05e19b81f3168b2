package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/consentry/consentry/internal/config"
	"github.com/consentry/consentry/internal/logging"
	"github.com/consentry/consentry/internal/metrics"
	"github.com/consentry/consentry/internal/server"
	"github.com/consentry/consentry/internal/server/catalog"
	"github.com/consentry/consentry/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "CONSENTRY", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, diagnostics, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	kv := buildConsentStorage(logger.With(slog.String("component", "storage_factory")), cfg.Widget.Storage)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := kv.Close(closeCtx); err != nil {
			logger.Error("storage shutdown failed", slog.Any("error", err))
		}
	}()

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	siteCatalog := catalog.New()
	host := server.NewHost(siteCatalog, kv, logger)

	src := catalog.Source{
		File:   cfg.Server.Sites.SitesFile,
		Folder: cfg.Server.Sites.SitesFolder,
	}
	if src.File != "" || src.Folder != "" {
		watcher, err := catalog.Watch(ctx, src, func(sites []catalog.Site) {
			siteCatalog.Replace(sites)
			logger.Info("site catalog loaded", slog.Int("sites", siteCatalog.Len()))
		}, func(err error) {
			if err != nil {
				logger.Error("site catalog watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("site catalog watcher setup failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer watcher.Stop()
	} else {
		logger.Warn("no sites source configured, catalog starts empty")
	}

	handler := server.NewWidgetHandler(host, metricsRecorder.Handler())
	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		for _, rec := range diagnostics.Recent() {
			fmt.Fprintf(os.Stderr, "%s [%s] %s\n", rec.Time.Format(time.RFC3339), rec.Level, rec.Message)
		}
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// buildConsentStorage selects the consent storage backend. Valkey failures
// fall back to the in-process backend so the host still comes up.
func buildConsentStorage(logger *slog.Logger, cfg config.StorageConfig) storage.KV {
	if cfg.Backend != "valkey" {
		logger.Info("using in-memory consent storage")
		return storage.NewMemory()
	}
	kv, err := storage.NewValkey(storage.ValkeyConfig{
		Address:  cfg.Valkey.Address,
		Username: cfg.Valkey.Username,
		Password: cfg.Valkey.Password,
		DB:       cfg.Valkey.DB,
		TLS: storage.ValkeyTLSConfig{
			Enabled: cfg.Valkey.TLS.Enabled,
			CAFile:  cfg.Valkey.TLS.CAFile,
		},
	})
	if err != nil {
		logger.Warn("valkey unavailable, falling back to in-memory storage",
			slog.String("address", cfg.Valkey.Address), slog.Any("error", err))
		return storage.NewMemory()
	}
	logger.Info("using valkey consent storage", slog.String("address", cfg.Valkey.Address))
	return kv
}
