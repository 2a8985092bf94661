package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/drewmudry/instashorts-pipeline/imagegen"
	"github.com/drewmudry/instashorts-pipeline/internal/config"
	"github.com/drewmudry/instashorts-pipeline/internal/platform"
	"github.com/drewmudry/instashorts-pipeline/processing"
	"github.com/drewmudry/instashorts-pipeline/render"
	"github.com/drewmudry/instashorts-pipeline/storage"
	"github.com/drewmudry/instashorts-pipeline/store"
	"github.com/drewmudry/instashorts-pipeline/tasks"
	"github.com/drewmudry/instashorts-pipeline/voice"
	"github.com/drewmudry/instashorts-pipeline/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func stageOptions(cfg *config.Config) map[string]worker.StageOptions {
	stages := worker.DefaultStages()
	concurrency := map[string]int{
		tasks.QueueScript:     cfg.ScriptConcurrency,
		tasks.QueueVoiceover:  cfg.VoiceoverConcurrency,
		tasks.QueueScenes:     cfg.ScenesConcurrency,
		tasks.QueueSceneImage: cfg.SceneImageConcurrency,
		tasks.QueueRender:     cfg.RenderConcurrency,
	}
	for queue, n := range concurrency {
		o := stages[queue]
		o.Concurrency = n
		o.Backoff = cfg.RetryBackoff
		// render keeps its single attempt
		if queue != tasks.QueueRender {
			o.MaxAttempts = cfg.MaxAttempts
		}
		stages[queue] = o
	}
	return stages
}

// startMetricsServer serves /metrics and /health for the worker.
func startMetricsServer(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Metrics server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func main() {
	recoverTasks := flag.Bool("recover", false, "requeue tasks left in processing lists before starting; only safe with no other worker running")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := platform.NewLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := platform.NewRedisClient(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	processor := worker.NewProcessor(rdb, logger)

	if err := cfg.RequireWorker(); err != nil {
		logger.Fatal("Invalid config", zap.Error(err))
	}

	db, err := platform.NewDBConnection(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	s := store.New(db)
	if err := s.Migrate(); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	text := processing.NewGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)

	tts, err := voice.NewElevenLabs(voice.Config{
		APIKey:  cfg.ElevenLabsAPIKey,
		BaseURL: cfg.ElevenLabsURL,
		ModelID: cfg.ElevenLabsModel,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create ElevenLabs client", zap.Error(err))
	}

	images, err := imagegen.NewReplicate(imagegen.Config{
		APIToken: cfg.ReplicateToken,
		Model:    cfg.ReplicateModel,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create Replicate client", zap.Error(err))
	}

	uploader, err := storage.New(ctx, storage.Config{
		Backend:     cfg.StorageBackend,
		Bucket:      cfg.StorageBucket,
		SupabaseURL: cfg.SupabaseURL,
		SupabaseKey: cfg.SupabaseKey,
	})
	if err != nil {
		logger.Fatal("Failed to create storage client", zap.Error(err))
	}
	if c, ok := uploader.(io.Closer); ok {
		defer c.Close()
	}

	pipeline := worker.NewPipeline(worker.Deps{
		Store:      s,
		Emitter:    processor,
		Text:       text,
		Voice:      tts,
		Images:     images,
		Uploader:   uploader,
		Compositor: render.NewFFmpegCompositor(cfg.FFmpegPath, logger),
	}, worker.Settings{
		DefaultVoiceID: cfg.DefaultVoiceID,
		TempDir:        cfg.RenderTmpDir,
		RenderTimeout:  cfg.RenderTimeout,
	}, logger)
	pipeline.RegisterStages(processor, stageOptions(cfg))

	if *recoverTasks {
		moved, err := processor.Recover(ctx)
		if err != nil {
			logger.Fatal("Failed to recover in-flight tasks", zap.Error(err))
		}
		logger.Info("Recovered in-flight tasks", zap.Int("moved", moved))
	}

	metrics := startMetricsServer(cfg.MetricsAddr, logger)

	logger.Info("Worker started, waiting for queue tasks...")
	processor.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown", zap.Error(err))
	}
	logger.Info("Worker stopped")
}
