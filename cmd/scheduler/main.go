package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/drewmudry/instashorts-pipeline/internal/config"
	"github.com/drewmudry/instashorts-pipeline/internal/platform"
	"github.com/drewmudry/instashorts-pipeline/processing"
	"github.com/drewmudry/instashorts-pipeline/series"
	"github.com/drewmudry/instashorts-pipeline/store"
	"github.com/drewmudry/instashorts-pipeline/worker"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "run a single series tick and exit")
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

	if cfg.OpenAIAPIKey == "" {
		logger.Fatal("OPENAI_API_KEY is required")
	}

	db, err := platform.NewDBConnection(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	s := store.New(db)
	if err := s.Migrate(); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	rdb, err := platform.NewRedisClient(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topics := processing.NewGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)
	scheduler := series.NewScheduler(s, topics, worker.NewProcessor(rdb, logger), logger)

	// Tick logs its own summary.
	tick := func() {
		if _, err := scheduler.Tick(ctx); err != nil {
			logger.Error("Series tick failed", zap.Error(err))
		}
	}

	if *once {
		tick()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.SeriesCron, tick); err != nil {
		logger.Fatal("Invalid SERIES_CRON", zap.String("spec", cfg.SeriesCron), zap.Error(err))
	}

	if cfg.StuckJobTimeout > 0 {
		_, err := c.AddFunc(cfg.SweepCron, func() {
			if _, err := scheduler.SweepStuck(ctx, cfg.StuckJobTimeout); err != nil {
				logger.Error("Stuck video sweep failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Fatal("Invalid SWEEP_CRON", zap.String("spec", cfg.SweepCron), zap.Error(err))
		}
	}

	c.Start()
	logger.Info("Scheduler started",
		zap.String("series_cron", cfg.SeriesCron),
		zap.Duration("stuck_job_timeout", cfg.StuckJobTimeout),
	)

	<-ctx.Done()
	logger.Info("Shutting down scheduler")
	<-c.Stop().Done()
	logger.Info("Scheduler stopped")
}
