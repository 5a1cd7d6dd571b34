package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"depthflow/collector"
	"depthflow/config"
	"depthflow/internal/clock"
	"depthflow/logger"
	"depthflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file (default config/config.<env>.yml or config/config.yml when present)")
	symbol := flag.String("symbol", "", "Trading symbol, e.g. BTCUSDT")
	depthLimit := flag.Int("depth_limit", 0, "Maximum number of price levels per side")
	sleepTime := flag.Int("sleep_time", 0, "Seconds between poll cycles")
	maxRetries := flag.Int("max_retries", 0, "Attempts per cycle on connection errors")
	retryDelay := flag.Int("retry_delay", 0, "Seconds between attempts")

	flag.Parse()

	var overrides config.Overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "symbol":
			overrides.Symbol = symbol
		case "depth_limit":
			overrides.DepthLimit = depthLimit
		case "sleep_time":
			overrides.SleepTime = sleepTime
		case "max_retries":
			overrides.MaxRetries = maxRetries
		case "retry_delay":
			overrides.RetryDelay = retryDelay
		}
	})

	path := config.ResolvePath(*configPath, "config")
	cfg, err := config.LoadConfig(path, overrides)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Depthflow.Name,
		"version":     cfg.Depthflow.Version,
		"environment": config.AppEnvironment(),
		"config":      path,
		"symbol":      cfg.Source.Symbol,
		"source":      cfg.Source.Kind,
		"archive_dir": cfg.Archive.Dir,
	}).Info("starting depthflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}

	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Metrics.ReportInterval > 0 {
		interval := cfg.Metrics.ReportInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		logger.StartReport(ctx, log, interval)
	}

	var shipper collector.Shipper
	if cfg.Storage.S3.Enabled {
		client, err := writer.NewS3Client(ctx, cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Error("failed to create S3 client")
			os.Exit(1)
		}
		s, err := writer.NewShipper(client, cfg)
		if err != nil {
			log.WithError(err).Error("failed to open shipping manifest")
			os.Exit(1)
		}
		shipper = s
	} else {
		log.WithComponent("main").Info("S3 storage disabled; closed days stay local")
	}

	clk := clock.New()
	factory, err := collector.NewFactory(cfg, clk, shipper)
	if err != nil {
		log.WithError(err).Error("failed to build collector")
		os.Exit(1)
	}
	supervisor := collector.NewSupervisor(factory, cfg.Supervisor, clk)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	if err := supervisor.Run(ctx); err != nil {
		log.WithError(err).Error("supervisor stopped with error")
	}

	log.WithFields(logger.Fields{"restarts": supervisor.Restarts()}).Info("depthflow stopped")
}
