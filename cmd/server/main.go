package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HaujetZhao/SubWriter/internal/archive"
	"github.com/HaujetZhao/SubWriter/internal/config"
	"github.com/HaujetZhao/SubWriter/internal/discovery"
	"github.com/HaujetZhao/SubWriter/internal/engine"
	"github.com/HaujetZhao/SubWriter/internal/finish"
	"github.com/HaujetZhao/SubWriter/internal/metrics"
	"github.com/HaujetZhao/SubWriter/internal/pipeline"
	"github.com/HaujetZhao/SubWriter/internal/server"
	"github.com/HaujetZhao/SubWriter/internal/worker"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "subwriter"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("window_seconds", cfg.Audio.WindowSeconds),
		slog.Float64("overlap_seconds", cfg.Audio.OverlapSeconds),
		slog.Int("decode_parallelism", cfg.Audio.DecodeParallelism),
		slog.String("decoder_provider", cfg.Decoder.Provider),
		slog.String("punctuation_provider", cfg.Punctuation.Provider),
		slog.Int("queue_size", cfg.Worker.QueueSize),
		slog.Bool("discovery_enabled", cfg.Discovery.Enabled),
		slog.Bool("archive_enabled", cfg.Archive.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	decoder, err := newDecoder(cfg.Decoder)
	if err != nil {
		logger.Error("Failed to create decoder", slog.String("error", err.Error()))
		os.Exit(1)
	}

	punctuator, err := newPunctuator(cfg.Punctuation)
	if err != nil {
		logger.Error("Failed to create punctuator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	chain := finish.NewChain(punctuator, logger, appMetrics)

	orchestrator, err := pipeline.New(pipeline.Config{
		SampleRate:        cfg.Audio.SampleRate,
		WindowSeconds:     cfg.Audio.WindowSeconds,
		OverlapSeconds:    cfg.Audio.OverlapSeconds,
		DecodeParallelism: cfg.Audio.DecodeParallelism,
	}, decoder, chain, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create orchestrator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Transcription pipeline initialized",
		slog.String("decoder_provider", cfg.Decoder.Provider),
		slog.String("decoder_endpoint", cfg.Decoder.Endpoint),
	)

	// Optional transcript archive
	var store *archive.Store
	var archiver worker.Archiver
	var transcripts server.TranscriptSource
	if cfg.Archive.Enabled {
		openCtx, openCancel := context.WithTimeout(ctx, 10*time.Second)
		store, err = archive.Open(openCtx, cfg.Archive.DSN, cfg.Archive.MaxConns)
		openCancel()
		if err != nil {
			logger.Error("Failed to open transcript archive", slog.String("error", err.Error()))
			os.Exit(1)
		}
		archiver = store
		transcripts = store
		logger.Info("Transcript archive connected", slog.Int("max_conns", int(cfg.Archive.MaxConns)))
	}

	jobWorker, err := worker.New(worker.Config{
		QueueSize:      cfg.Worker.QueueSize,
		SampleRate:     cfg.Audio.SampleRate,
		ArchiveTimeout: cfg.Worker.GetArchiveTimeoutDuration(),
		ArchiveBacklog: cfg.Worker.ArchiveBacklog,
	}, orchestrator, archiver, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create worker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := jobWorker.Start(ctx); err != nil {
		logger.Error("Failed to start worker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var decoderStats server.StatsSource
	if source, ok := decoder.(server.StatsSource); ok {
		decoderStats = source
	}

	httpServer := server.NewHTTPServer(cfg, serviceVersion, logger, jobWorker, decoderStats, transcripts, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Optional mDNS advertisement
	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		advertiser, err = discovery.NewAdvertiser(discovery.Config{
			InstanceName: cfg.Discovery.Instance,
			Service:      cfg.Discovery.Service,
			Domain:       cfg.Discovery.Domain,
			Port:         httpServer.Port(),
			Path:         "/ws",
			Version:      serviceVersion,
			SampleRate:   cfg.Audio.SampleRate,
		}, logger)
		if err == nil {
			err = advertiser.Start()
		}
		if err != nil {
			// The service is still reachable at its configured address
			logger.Warn("Service discovery disabled", slog.String("error", err.Error()))
			advertiser = nil
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.Int("port", httpServer.Port()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	if advertiser != nil {
		advertiser.Shutdown()
	}

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Finish the running job and fail queued ones
	jobWorker.Stop()

	closeEngine(logger, "decoder", decoder)
	closeEngine(logger, "punctuator", punctuator)

	if store != nil {
		store.Close()
	}

	stats := jobWorker.GetStats()
	logger.Info("Final worker statistics",
		slog.Uint64("jobs_completed", stats.JobsCompleted),
		slog.Uint64("jobs_failed", stats.JobsFailed),
		slog.Float64("audio_seconds", stats.AudioSeconds),
	)

	logger.Info("Service stopped")
}

// newDecoder creates the decoder selected by cfg.Provider
func newDecoder(cfg config.DecoderConfig) (engine.Decoder, error) {
	clientConfig := engine.ClientConfig{
		Endpoint:      cfg.Endpoint,
		APIKey:        cfg.APIKey,
		Model:         cfg.Model,
		Language:      cfg.Language,
		Timeout:       cfg.GetTimeoutDuration(),
		MaxRetries:    cfg.MaxRetries,
		MaxConcurrent: cfg.MaxConcurrent,
	}

	switch cfg.Provider {
	case "http":
		return engine.NewHTTPDecoder(clientConfig)
	case "openai":
		return engine.NewOpenAIDecoder(clientConfig)
	default:
		return nil, fmt.Errorf("unknown decoder provider: %s", cfg.Provider)
	}
}

// newPunctuator creates the punctuator selected by cfg.Provider; "none"
// returns a nil Punctuator and the finishing chain skips the step
func newPunctuator(cfg config.PunctuationConfig) (engine.Punctuator, error) {
	clientConfig := engine.ClientConfig{
		Endpoint:      cfg.Endpoint,
		APIKey:        cfg.APIKey,
		Model:         cfg.Model,
		Timeout:       cfg.GetTimeoutDuration(),
		MaxRetries:    cfg.MaxRetries,
		MaxConcurrent: 1,
	}

	switch cfg.Provider {
	case "none":
		return nil, nil
	case "http":
		return engine.NewHTTPPunctuator(clientConfig)
	case "openai":
		return engine.NewOpenAIPunctuator(clientConfig)
	default:
		return nil, fmt.Errorf("unknown punctuation provider: %s", cfg.Provider)
	}
}

func closeEngine(logger *slog.Logger, name string, v interface{}) {
	closer, ok := v.(interface{ Close() error })
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("Error closing engine client",
			slog.String("engine", name),
			slog.String("error", err.Error()))
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
