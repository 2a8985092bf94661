package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/drewmudry/instashorts-pipeline/auth"
	"github.com/drewmudry/instashorts-pipeline/internal/config"
	"github.com/drewmudry/instashorts-pipeline/internal/platform"
	"github.com/drewmudry/instashorts-pipeline/series"
	"github.com/drewmudry/instashorts-pipeline/store"
	"github.com/drewmudry/instashorts-pipeline/videos"
	"github.com/drewmudry/instashorts-pipeline/worker"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	Store  *store.GormStore
	Router *gin.Engine
	cfg    *config.Config
	log    *zap.Logger
}

func NewServer(cfg *config.Config, s *store.GormStore, emit videos.Emitter, logger *zap.Logger) *Server {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(platform.GinLogger(logger.Named("http")))
	router.Use(platform.CORS(cfg.FrontendURL))

	server := &Server{
		Store:  s,
		Router: router,
		cfg:    cfg,
		log:    logger,
	}
	server.setupRoutes(emit)
	return server
}

func (s *Server) setupRoutes(emit videos.Emitter) {
	// Health check (no auth required)
	s.Router.GET("/health", func(c *gin.Context) {
		if err := s.Store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"database": "connected",
		})
	})

	s.Router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Instashorts API v1"})
	})

	verifier := auth.NewVerifier(s.cfg.JWTSecret)
	videoHandler := videos.NewHandler(s.Store, emit, s.log)
	seriesHandler := series.NewHandler(s.Store, s.log)

	// Protected routes that require authentication
	protected := s.Router.Group("")
	protected.Use(verifier.AuthMiddleware())
	{
		videoRoutes := protected.Group("/videos")
		{
			videoRoutes.POST("", videoHandler.CreateVideo)
			videoRoutes.GET("", videoHandler.GetUserVideos)
			videoRoutes.GET("/:id", videoHandler.GetVideo)
		}

		seriesRoutes := protected.Group("/series")
		{
			seriesRoutes.POST("", seriesHandler.CreateSeries)
			seriesRoutes.GET("", seriesHandler.GetUserSeries)
			seriesRoutes.PATCH("/:id", seriesHandler.ToggleSeries)
			seriesRoutes.GET("/:id/videos", seriesHandler.GetSeriesVideos)
		}
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server starting", zap.String("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.RequireAPI(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := platform.NewLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

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

	server := NewServer(cfg, s, worker.NewProcessor(rdb, logger), logger)
	if err := server.Run(ctx); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
	logger.Info("Server stopped")
}
