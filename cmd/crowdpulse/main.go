package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crowdpulse/internal/alerts"
	"crowdpulse/internal/api"
	"crowdpulse/internal/config"
	"crowdpulse/internal/engine"
	"crowdpulse/internal/ingest"
	"crowdpulse/internal/logging"
	"crowdpulse/internal/metrics"
	"crowdpulse/internal/model"
	"crowdpulse/internal/storage"
)

var version = "dev"

const configPollInterval = 2 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "crowdpulse:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	path := config.ResolvePath(configPath)
	mgr, err := config.NewManager(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting", "version", version, "config", path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	frames := metrics.NewStore(cfg.Metrics.StoreLimit)
	alertStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	eng := engine.NewEngine(cfg, logging.Component(logger, "engine"), frames, alertStore, store)
	if err := eng.WarmAlerts(ctx); err != nil {
		logger.Warn("loading stored alerts failed", "err", err)
	}

	reports := make(chan model.DeviceReport, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, reports)

	parser := ingest.NewParser(mgr)
	ingestLog := logging.Component(logger, "ingest")
	ingest.StartREST(ctx, mgr, parser, reports, ingestLog)
	ingest.StartTCPStream(ctx, mgr, parser, reports, ingestLog)
	ingest.StartFileTail(ctx, mgr, parser, reports, ingestLog)
	ingest.StartKafka(ctx, mgr, parser, reports, ingestLog)

	api.Start(ctx, mgr, frames, alertStore, eng, logging.Component(logger, "api"), version)

	go mgr.Watch(ctx, configPollInterval,
		func(next *config.Config) {
			eng.UpdateConfig(next)
			logger.Info("config reloaded", "locations", len(next.Directory.Locations), "cameras", len(next.Directory.Cameras))
		},
		func(err error) {
			logger.Warn("config reload rejected, keeping previous", "err", err)
		},
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
