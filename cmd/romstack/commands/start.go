package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/romstack/romstack/internal/logger"
	"github.com/romstack/romstack/pkg/api"
	"github.com/romstack/romstack/pkg/assemble"
	"github.com/romstack/romstack/pkg/broadcast"
	"github.com/romstack/romstack/pkg/catalog/store"
	"github.com/romstack/romstack/pkg/config"
	"github.com/romstack/romstack/pkg/content"
	"github.com/romstack/romstack/pkg/maintenance"
	"github.com/romstack/romstack/pkg/metadata"
	promstack "github.com/romstack/romstack/pkg/metrics/prometheus"
	"github.com/romstack/romstack/pkg/offload"
	"github.com/romstack/romstack/pkg/upload"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the romstack server",
	Long: `Start the romstack ingestion and catalog server.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/romstack/config.yaml.

Examples:
  # Start with the default config
  romstack start

  # Start with a custom config file
  romstack start --config /etc/romstack/config.yaml

  # Start with environment variable overrides
  ROMSTACK_LOGGING_LEVEL=DEBUG romstack start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: none)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// One prometheus bundle feeds every pipeline stage. When metrics are
	// disabled each stage gets its no-op implementation instead.
	var (
		uploadMetrics   upload.Metrics      = upload.NopMetrics{}
		assembleMetrics assemble.Metrics    = assemble.NopMetrics{}
		maintMetrics    maintenance.Metrics = maintenance.NopMetrics{}
		metadataMetrics metadata.Metrics
		requestMetrics  api.RequestMetrics
		metricsHandler  http.Handler
	)
	if cfg.Metrics.Enabled {
		pm := promstack.New(prometheus.DefaultRegisterer)
		uploadMetrics = pm
		assembleMetrics = pm
		maintMetrics = pm
		metadataMetrics = pm
		requestMetrics = pm
		metricsHandler = api.NewMetricsHandler()
		logger.Info("Metrics enabled", "endpoint", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize catalog store: %w", err)
	}
	defer func() { _ = st.Close() }()
	logger.Info("Catalog store ready", "type", cfg.Database.Type)

	cs, err := content.NewStore(cfg.Ingest.TempDir, cfg.Ingest.RomDir, cfg.Ingest.ArchiveBombRatio)
	if err != nil {
		return fmt.Errorf("failed to initialize content store: %w", err)
	}
	logger.Info("Content store ready", "temp_dir", cfg.Ingest.TempDir, "rom_dir", cfg.Ingest.RomDir)

	bus := broadcast.New(cfg.Ingest.ProgressQueueDepth)

	enricher, err := metadata.NewEnricher(buildSources(cfg), metadata.Options{
		PerSourceTimeout: cfg.Metadata.PerSourceTimeout,
		CacheEntries:     cfg.Metadata.CacheEntries,
		Metrics:          metadataMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metadata enricher: %w", err)
	}
	defer enricher.Close()

	coord := upload.New(upload.Config{
		UploadTimeout:       cfg.Ingest.UploadTimeout,
		ChunkWriteTimeout:   cfg.Ingest.ChunkWriteTimeout,
		MaxConcurrentWrites: cfg.Ingest.MaxConcurrentWrites,
		MaxChunkSize:        int64(cfg.Ingest.MaxChunkSize),
	}, st, cs, bus, uploadMetrics)

	processor := assemble.New(assemble.Config{
		Workers:    cfg.Assembly.Workers,
		QueueDepth: cfg.Assembly.QueueDepth,
	}, st, cs, bus, enricher, assembleMetrics)
	coord.SetProcessor(processor)

	processor.Start()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stopCancel()
		if err := processor.Stop(stopCtx); err != nil {
			logger.Warn("Assembly processor stop", "error", err.Error())
		}
	}()

	// Uploads stranded mid-assembly by a previous crash resume now.
	if requeued, err := processor.Recover(ctx); err != nil {
		logger.Warn("Assembly recovery failed", "error", err.Error())
	} else if requeued > 0 {
		logger.Info("Recovered stranded uploads", "count", requeued)
	}

	scheduler := maintenance.New(maintenance.Config{
		ExpirySchedule:     cfg.Maintenance.ExpirySchedule,
		ReclaimSchedule:    cfg.Maintenance.ReclaimSchedule,
		RollupSchedule:     cfg.Maintenance.RollupSchedule,
		DiskProbeSchedule:  cfg.Maintenance.DiskProbeSchedule,
		CompactionSchedule: cfg.Maintenance.CompactionSchedule,
		TerminalRetention:  cfg.Maintenance.TerminalRetention,
		ScopeGrace:         cfg.Maintenance.ScopeGrace,
		StatsRetention:     cfg.Maintenance.StatsRetention,
		DiskWarnPercent:    cfg.Maintenance.DiskWarnPercent,
		DiskErrorPercent:   cfg.Maintenance.DiskErrorPercent,
	}, st, coord, cfg.Ingest.TempDir, cfg.Ingest.RomDir, maintMetrics)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start maintenance scheduler: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stopCancel()
		if err := scheduler.Stop(stopCtx); err != nil {
			logger.Warn("Maintenance scheduler stop", "error", err.Error())
		}
	}()

	if cfg.Offload.Enabled {
		objects, err := offload.NewS3ObjectStore(ctx, offload.S3Config{
			Bucket:         cfg.Offload.Bucket,
			Region:         cfg.Offload.Region,
			Endpoint:       cfg.Offload.Endpoint,
			AccessKey:      cfg.Offload.AccessKey,
			SecretKey:      cfg.Offload.SecretKey,
			ForcePathStyle: cfg.Offload.ForcePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize offload store: %w", err)
		}
		archiver := offload.New(offload.Config{
			BatchSize: cfg.Offload.BatchSize,
			Interval:  cfg.Offload.Interval,
			KeyPrefix: cfg.Offload.KeyPrefix,
		}, st, objects)
		go archiver.RunLoop(ctx)
		logger.Info("Offload mirror enabled", "bucket", cfg.Offload.Bucket, "interval", cfg.Offload.Interval)
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	if !cfg.API.IsEnabled() {
		logger.Warn("API server disabled; only background jobs are running")
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received")
		cancel()
		return nil
	}

	server := api.NewServer(cfg.API, api.Deps{
		Coordinator:    coord,
		Store:          st,
		Bus:            bus,
		Metrics:        requestMetrics,
		MetricsHandler: metricsHandler,
	})

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// buildSources converts configured metadata providers into enricher sources.
// The enricher appends the local filename fallback itself.
func buildSources(cfg *config.Config) []metadata.Source {
	sources := make([]metadata.Source, 0, len(cfg.Metadata.Sources))
	for _, sc := range cfg.Metadata.Sources {
		sources = append(sources, metadata.NewHTTPSource(metadata.HTTPSourceConfig{
			Name:          sc.Name,
			BaseURL:       sc.BaseURL,
			APIKey:        sc.APIKey,
			Priority:      sc.Priority,
			RatePerSecond: sc.RatePerSecond,
			MaxRetries:    sc.MaxRetries,
		}, nil))
	}
	return sources
}
