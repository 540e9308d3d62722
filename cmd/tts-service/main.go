// main package for the tts-stream-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-stream-service/internal/backend"
	"github.com/book-expert/tts-stream-service/internal/config"
	"github.com/book-expert/tts-stream-service/internal/metrics"
	"github.com/book-expert/tts-stream-service/internal/objectstore"
	"github.com/book-expert/tts-stream-service/internal/pipeline"
	"github.com/book-expert/tts-stream-service/internal/server"
	"github.com/book-expert/tts-stream-service/internal/tempfile"
	"github.com/book-expert/tts-stream-service/internal/text"
	"github.com/book-expert/tts-stream-service/internal/voice"
	"github.com/book-expert/tts-stream-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const unloadTimeout = 10 * time.Second

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "tts-stream-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, "tts-stream-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	registry := prometheus.NewRegistry()
	recorder := metrics.New(registry)

	// 4. Clear stale downloads before accepting traffic
	reaper := tempfile.NewReaper(cfg.TempFiles.Dir,
		tempfile.PolicyFromLimits(cfg.TempFiles.MaxAgeHours, cfg.TempFiles.MaxCount, cfg.TempFiles.MaxSizeMB),
		log, recorder)
	report := reaper.Reap()
	log.Info("Startup cleanup of %s removed %d of %d files, %d bytes remain",
		cfg.TempFiles.Dir, report.Deleted, report.Scanned, report.RemainingBytes)

	temp := tempfile.NewManager(reaper, log, recorder)

	// 5. Voices and aliases
	aliases := voice.LoadAliasTable(cfg.Paths.MappingsFile, log)
	catalog := voice.NewCatalog(cfg.Paths.VoicesDir)
	resolver := voice.NewResolver(catalog, aliases)

	// 6. Load and warm the model
	httpBackend := backend.NewHTTPBackend(cfg.TTS.ServiceURL, time.Duration(cfg.TTS.TimeoutSeconds)*time.Second)
	manager := backend.NewManager(httpBackend, catalog, backend.WarmupSettings{
		ModelPath: cfg.TTS.ModelPath,
		Voice:     cfg.TTS.DefaultVoice,
		Text:      cfg.TTS.WarmupText,
	}, log)

	status, err := manager.Initialize(ctx)
	if err != nil {
		log.Error("Failed to initialize TTS backend: %v", err)

		return fmt.Errorf("failed to initialize TTS backend: %w", err)
	}

	defer func() {
		unloadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unloadTimeout)
		defer cancel()

		manager.Shutdown(unloadCtx)
	}()

	log.System("Model warmed up on %s, %d voice packs available", status.Device, status.VoiceCount)

	synthesizer := pipeline.New(manager, resolver, temp, text.NewNormalizer(), cfg.TTS.SampleRate, log, recorder)

	gin.SetMode(gin.ReleaseMode)

	api := server.New(server.Dependencies{
		Pipeline:     synthesizer,
		Aliases:      aliases,
		Voices:       catalog,
		Health:       manager,
		TempDir:      temp.Dir(),
		WebPlayerDir: cfg.Server.WebPlayerRoot(),
		DefaultVoice: cfg.TTS.DefaultVoice,
		Gatherer:     registry,
		Metrics:      recorder,
		Log:          log,
	})

	var natsWorker *worker.NatsWorker

	if cfg.NATS.Enabled {
		var closeNATS func()

		natsWorker, closeNATS, err = newWorker(cfg, synthesizer, log, recorder)
		if err != nil {
			log.Error("Failed to start NATS worker: %v", err)

			return err
		}

		defer closeNATS()
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return api.Run(groupCtx, cfg.Server.Address())
	})

	if natsWorker != nil {
		group.Go(func() error {
			return natsWorker.Run(groupCtx)
		})
	}

	log.System("TTS-Stream-Service listening on %s", cfg.Server.Address())

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Service stopped with error: %v", err)

		return err
	}

	log.System("TTS-Stream-Service stopped")

	return nil
}

func newWorker(
	cfg *config.Config,
	synthesizer *pipeline.Pipeline,
	log *logger.Logger,
	recorder *metrics.Metrics,
) (*worker.NatsWorker, func(), error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	natsWorker, err := worker.NewNatsWorker(natsConnection, cfg.NATS.SynthesisSubject, store, synthesizer,
		cfg.TTS.DefaultVoice, cfg.NATS.Workers, log, recorder)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	return natsWorker, natsConnection.Close, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
