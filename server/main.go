package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/san-kum/damage-watch/server/cache"
	"github.com/san-kum/damage-watch/server/capture"
	"github.com/san-kum/damage-watch/server/config"
	"github.com/san-kum/damage-watch/server/handlers"
	"github.com/san-kum/damage-watch/server/middleware"
	"github.com/san-kum/damage-watch/server/ml"
	"github.com/san-kum/damage-watch/server/models"
	"github.com/san-kum/damage-watch/server/notify"
	"github.com/san-kum/damage-watch/server/processor"
)

type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	session     *processor.Session
	detections  *cache.MemoryCache[[]models.Detection]
	publisher   *notify.MQTTPublisher
	rateLimiter *middleware.RateLimiter
	config      *config.Config
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment),
			zap.String("camera_source", cfg.Camera.Source))

		var err error
		if cfg.Security.EnableHTTPS {
			err = srv.ListenAndServeTLS(cfg.Security.CertFile, cfg.Security.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	if cfg.Sampler.AutoStart {
		if err := server.session.Start(context.Background()); err != nil {
			logger.Warn("Auto start failed, camera offline", zap.Error(err))
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	server.Close()
	logger.Info("Server exited")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	var (
		source capture.Source
		frames handlers.FrameSink
	)
	switch cfg.Camera.Source {
	case "device":
		source = capture.NewDeviceSource(cfg.Camera.DeviceID, logger)
	default:
		push := capture.NewPushSource(logger)
		source, frames = push, push
	}

	client, err := ml.NewClient(cfg.ML.Endpoint, cfg.ML.APIKey, &ml.ClientConfig{Timeout: cfg.ML.Timeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection client: %w", err)
	}

	var (
		detector   processor.Detector = client
		detections *cache.MemoryCache[[]models.Detection]
		cached     *ml.CachedDetector
	)
	if cfg.ML.CacheTTL > 0 {
		detections = cache.NewMemoryCache[[]models.Detection](cfg.ML.CacheMax, cfg.ML.CacheTTL, logger)
		cached = ml.NewCachedDetector(client, detections, logger)
		detector = cached
	}

	var (
		sink      processor.AlertSink
		publisher *notify.MQTTPublisher
	)
	if cfg.MQTT.Broker != "" {
		publisher, err = notify.NewMQTTPublisher(notify.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, logger)
		if err != nil {
			logger.Warn("MQTT unavailable, alerts stay local", zap.Error(err))
		} else {
			sink = publisher
		}
	}

	session := processor.NewSession(source, detector, sink, processor.Config{
		Threshold:       cfg.Sampler.DamageThreshold,
		SampleInterval:  cfg.Sampler.SampleInterval,
		BatchSize:       cfg.Sampler.BatchSize,
		RefreshInterval: cfg.Sampler.RefreshInterval,
		Width:           cfg.Sampler.CanvasWidth,
		Height:          cfg.Sampler.CanvasHeight,
		JPEGQuality:     cfg.Sampler.JPEGQuality,
		DetectTimeout:   cfg.ML.Timeout,
		MaxAlerts:       cfg.Sampler.MaxAlerts,
		Constraints: capture.Constraints{
			Width:      cfg.Camera.Width,
			Height:     cfg.Camera.Height,
			FacingMode: cfg.Camera.FacingMode,
			FrameRate:  cfg.Camera.FrameRate,
		},
	}, logger)

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)

	authMiddleware := middleware.NewAuthMiddleware(cfg.Security.APIKey, logger)

	router := gin.New()

	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders(cfg.Security.EnableHTTPS))
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))

	wsHandler := handlers.NewWebSocketHandler(session, frames, cfg.Security.AllowedOrigins, cfg.Security.MaxRequestSize, logger)
	streamHandler := handlers.NewStreamHandler(session, logger).
		WithStats("rate_limiter", func() any { return rateLimiter.GetGlobalStats() })
	if push, ok := source.(*capture.PushSource); ok {
		streamHandler.WithStats("capture", func() any { return push.Stats() })
	}
	if cached != nil {
		streamHandler.WithStats("detection_cache", func() any { return cached.Stats() })
	}
	if publisher != nil {
		streamHandler.WithStats("mqtt", func() any { return publisher.Stats() })
	}

	health := middleware.HealthCheck(func() string { return string(session.Status().State) })
	setupRoutes(router, cfg, wsHandler, streamHandler, authMiddleware, rateLimiter, health)

	return &Server{
		router:      router,
		logger:      logger,
		session:     session,
		detections:  detections,
		publisher:   publisher,
		rateLimiter: rateLimiter,
		config:      cfg,
	}, nil
}

func (s *Server) Close() {
	s.session.Close()
	s.rateLimiter.Shutdown()

	if s.detections != nil {
		s.detections.Close()
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
}

func setupRoutes(router *gin.Engine, cfg *config.Config, wsHandler *handlers.WebSocketHandler, streamHandler *handlers.StreamHandler, auth *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter, health gin.HandlerFunc) {
	router.GET("/health", health)

	router.GET("/ws", rateLimiter.RateLimit(), wsHandler.HandleWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/health", health)

		public := api.Group("/")
		public.Use(rateLimiter.RateLimit())
		{
			public.GET("/status", streamHandler.GetStatus)
			public.GET("/alerts", streamHandler.GetAlerts)
			public.GET("/detections", streamHandler.GetDetections)
			public.GET("/canvas.jpg", streamHandler.GetCanvas)
			public.GET("/stats", streamHandler.GetStats)
		}

		control := api.Group("/session")
		control.Use(rateLimiter.RateLimit(), auth.RequireAPIKey())
		{
			control.POST("/start", streamHandler.StartSession)
			control.POST("/stop", streamHandler.StopSession)
		}
	}

	router.Static("/static", cfg.Server.StaticDir)
	router.StaticFile("/", cfg.Server.StaticDir+"/index.html")
}
