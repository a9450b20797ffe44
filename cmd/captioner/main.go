package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skypro1111/live-caption-client/internal/audio"
	"github.com/skypro1111/live-caption-client/internal/caption"
	"github.com/skypro1111/live-caption-client/internal/config"
	"github.com/skypro1111/live-caption-client/internal/media"
	"github.com/skypro1111/live-caption-client/internal/metrics"
	"github.com/skypro1111/live-caption-client/internal/server"
	"github.com/skypro1111/live-caption-client/internal/stream"
	"github.com/skypro1111/live-caption-client/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "live-caption-client"
	serviceVersion    = "1.0.0"
)

// source feeds media into the pipeline until ctx ends or input runs out.
type source interface {
	Run(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to .env file (optional)")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load env file %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment override: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Client starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("mode", cfg.Pipeline.Mode),
		slog.Duration("tick_period", cfg.Pipeline.GetTickPeriod()),
		slog.Duration("request_timeout", cfg.Pipeline.GetRequestTimeout()),
		slog.Int("max_queued", cfg.Pipeline.MaxQueued),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("encoding", cfg.Transcription.Encoding),
		slog.String("source_type", cfg.Source.Type),
		slog.String("source_path", cfg.Source.Path),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(nil)
	logger.Info("Prometheus metrics initialized")

	pipelineConfig, err := buildPipelineConfig(cfg)
	if err != nil {
		logger.Error("Invalid pipeline configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := alignWAVFormat(&pipelineConfig, cfg, logger); err != nil {
		logger.Error("Failed to read wav source format", slog.String("error", err.Error()))
		os.Exit(1)
	}

	timeline := media.NewTimeline()
	timeline.SetWindow(cfg.Source.Window)

	sink := caption.NewMemorySink()
	pipeline, err := stream.NewPipeline(pipelineConfig, stream.Dependencies{
		Surface: timeline,
		Sink:    sink,
		Metrics: appMetrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	src, err := buildSource(cfg.Source, timeline, pipeline, logger)
	if err != nil {
		logger.Error("Failed to create media source", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, pipeline, appMetrics, nil)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	if err := pipeline.Start(ctx); err != nil {
		logger.Error("Failed to start pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sourceDone := make(chan error, 1)
	go func() {
		sourceDone <- src.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Client started successfully, waiting for signals...")

	// A finished WAV source leaves the pipeline running so the tail of the
	// file still gets transcribed.
	for waiting := true; waiting; {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			waiting = false
		case err := <-sourceDone:
			if err != nil {
				logger.Error("Media source stopped", slog.String("error", err.Error()))
			} else {
				logger.Info("Media source finished")
			}
			sourceDone = nil
		}
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	cancel()
	stopPipeline(pipeline, logger)

	stats := pipeline.GetStats()
	logger.Info("Final pipeline statistics",
		slog.Uint64("chunks_added", stats.ChunksAdded),
		slog.Uint64("requests_sent", stats.RequestsSent),
		slog.Uint64("replies", stats.Replies),
		slog.Uint64("cues_emitted", stats.CuesEmitted),
		slog.Int("queue_depth", stats.Queue.Depth),
	)

	logger.Info("Client stopped")
}

// buildPipelineConfig maps the YAML sections onto the pipeline's typed config
func buildPipelineConfig(cfg *config.Config) (stream.Config, error) {
	mode, err := caption.ParsePlaybackMode(cfg.Pipeline.Mode)
	if err != nil {
		return stream.Config{}, err
	}

	policy, err := audio.ParseOverflowPolicy(cfg.Pipeline.OverflowPolicy)
	if err != nil {
		return stream.Config{}, err
	}

	metadataMode, err := caption.ParseTrackMode(cfg.Captions.Metadata.Initial)
	if err != nil {
		return stream.Config{}, fmt.Errorf("metadata: %w", err)
	}

	subtitlesMode, err := caption.ParseTrackMode(cfg.Captions.Subtitles.Initial)
	if err != nil {
		return stream.Config{}, fmt.Errorf("subtitles: %w", err)
	}

	return stream.Config{
		Mode:           mode,
		TickPeriod:     cfg.Pipeline.GetTickPeriod(),
		SettleDelay:    cfg.Pipeline.GetSettleDelay(),
		RequestTimeout: cfg.Pipeline.GetRequestTimeout(),
		MaxQueued:      cfg.Pipeline.MaxQueued,
		OverflowPolicy: policy,
		Encoding:       audio.Encoding(cfg.Transcription.Encoding),
		PCM: audio.PCMFormat{
			SampleRate:    cfg.Transcription.SampleRate,
			Channels:      cfg.Transcription.Channels,
			BitsPerSample: cfg.Transcription.BitsPerSample,
		},
		GroupSize: cfg.Captions.GroupSize,
		Tracks: caption.TrackManagerConfig{
			Metadata: caption.TrackOptions{
				Label:    cfg.Captions.Metadata.Name,
				Language: cfg.Captions.Metadata.Lang,
				Initial:  metadataMode,
			},
			Subtitles: caption.TrackOptions{
				Label:    cfg.Captions.Subtitles.Name,
				Language: cfg.Captions.Subtitles.Lang,
				Initial:  subtitlesMode,
			},
		},
		Channel: transcription.Config{
			Endpoint:         cfg.Transcription.Endpoint,
			Headers:          cfg.Transcription.Headers,
			WriteTimeout:     cfg.Transcription.GetWriteTimeout(),
			ReconnectInitial: cfg.Transcription.GetReconnectInitial(),
			ReconnectMax:     cfg.Transcription.GetReconnectMax(),
			BreakerFailures:  uint32(cfg.Transcription.BreakerFailures),
			BreakerCooldown:  cfg.Transcription.GetBreakerCooldown(),
			PongWait:         cfg.Transcription.GetPongWait(),
		},
	}, nil
}

// stopPipeline stops the pipeline and logs a failed transport close.
func stopPipeline(p interface{ Stop() error }, logger *slog.Logger) {
	if err := p.Stop(); err != nil {
		logger.Error("Error stopping pipeline", slog.String("error", err.Error()))
	}
}

// alignWAVFormat makes WAV blobs carry the source file's own format when a
// WAV file is streamed with wav encoding.
func alignWAVFormat(pc *stream.Config, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Source.Type != "wav" || pc.Encoding != audio.EncodingWAV {
		return nil
	}

	info, err := media.ReadWAVInfo(cfg.Source.Path)
	if err != nil {
		return err
	}

	format := audio.PCMFormat{
		SampleRate:    info.SampleRate,
		Channels:      info.Channels,
		BitsPerSample: info.BitsPerSample,
	}
	if err := format.Validate(); err != nil {
		return fmt.Errorf("unsupported wav source format: %w", err)
	}

	if format != pc.PCM {
		logger.Warn("Using wav source format instead of configured transcription format",
			slog.Int("sample_rate", format.SampleRate),
			slog.Int("channels", format.Channels),
			slog.Int("bits_per_sample", format.BitsPerSample),
			slog.Int("configured_sample_rate", pc.PCM.SampleRate),
		)
	}
	pc.PCM = format
	return nil
}

// buildSource creates the configured media source
func buildSource(cfg config.SourceConfig, timeline *media.Timeline, consumer media.Consumer, logger *slog.Logger) (source, error) {
	switch cfg.Type {
	case "segments":
		watcher, err := media.NewSegmentWatcher(media.SegmentWatcherConfig{
			Dir:             cfg.Path,
			SegmentDuration: cfg.GetSegmentDuration(),
			InitMarker:      cfg.InitMarker,
			SegmentExt:      cfg.SegmentExt,
		}, timeline, consumer, logger)
		if err != nil {
			return nil, err
		}
		return watcher, nil
	case "wav":
		file, err := media.NewWAVFile(media.WAVFileConfig{
			Path:          cfg.Path,
			ChunkDuration: cfg.GetChunkDuration(),
			Realtime:      cfg.Realtime,
		}, timeline, consumer, logger)
		if err != nil {
			return nil, err
		}
		return file, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
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
