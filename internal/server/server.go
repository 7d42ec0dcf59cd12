// Package server contains the HTTP and WebSocket handlers of the chat API.
package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"plaza/internal/cache"
	"plaza/internal/config"
	"plaza/internal/database"
	"plaza/internal/featureflags"
	"plaza/internal/middleware"
	"plaza/internal/models"
	"plaza/internal/notifications"
	"plaza/internal/repository"
	"plaza/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	store          repository.Store
	notifier       *notifications.Notifier
	hub            *notifications.Hub
	auth           *middleware.Authenticator
	limiter        *middleware.RateLimiter
	featureFlags   *featureflags.Manager
	chatService    *service.ChatService
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = cache.NewClient(cfg.RedisURL)
	}

	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil, in which case events are delivered to local
// websocket clients only and throttling and caching are disabled.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	flags := featureflags.NewManager(cfg.ChatFeatures)
	store := repository.NewStore(db, ChatDefaults(cfg, flags))

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("plaza-api"),
		store:          store,
		notifier:       notifications.NewNotifier(redisClient),
		hub:            notifications.NewHub(),
		auth:           middleware.NewAuthenticator(cfg.JWTSecret),
		limiter: middleware.NewRateLimiter(redisClient,
			redisClient == nil || middleware.ThrottleBypassed(cfg.Env), middleware.FailOpen),
		featureFlags: flags,
	}

	settings := cache.NewSettingsRepository(store.Settings(), redisClient)
	server.chatService = service.NewChatService(store,
		notifications.NewGateway(server.notifier, server.hub),
		service.WithSettingsRepository(settings),
		service.WithStoreTimeout(cfg.StoreTimeout()),
	)

	return server, nil
}

// ChatDefaults builds the settings row created on first read from configuration.
func ChatDefaults(cfg *config.Config, flags *featureflags.Manager) models.ChatSettings {
	settings := models.ChatSettings{
		SlowModeSeconds:    cfg.ChatSlowModeSeconds,
		MaxMessageLength:   cfg.ChatMaxMessageLength,
		DuplicateThreshold: cfg.ChatDuplicateThreshold,
	}
	flags.ApplyChatDefaults(&settings)
	return settings
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	app.Use(middleware.TracingMiddleware())
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	writeLimit := s.limiter.Limit("chat_write", s.config.HTTPRateLimit, s.config.HTTPRateWindow())

	chat := app.Group("/api/chat", s.auth.AuthRequired())
	chat.Get("/messages", s.ListMessages)
	chat.Post("/messages", writeLimit, s.SendMessage)
	chat.Get("/messages/:id", s.GetMessage)
	chat.Post("/messages/:id/reactions", writeLimit, s.ToggleReaction)
	chat.Get("/pinned", s.GetPinnedMessage)
	chat.Get("/me", s.GetMyStatus)
	chat.Get("/settings", s.GetSettings)

	adminOnly := middleware.AdminRequired()
	chat.Delete("/messages/:id", adminOnly, s.DeleteMessage)
	chat.Put("/messages/:id/pin", adminOnly, s.PinMessage)
	chat.Delete("/messages/:id/pin", adminOnly, s.UnpinMessage)
	chat.Post("/users/:userId/mute", adminOnly, s.MuteUser)
	chat.Delete("/users/:userId/mute", adminOnly, s.UnmuteUser)
	chat.Post("/users/:userId/ban", adminOnly, s.BanUser)
	chat.Delete("/users/:userId/ban", adminOnly, s.UnbanUser)
	chat.Patch("/settings", adminOnly, s.UpdateSettings)
	chat.Get("/feature-flags", adminOnly, s.GetFeatureFlags)

	ws := app.Group("/ws", s.auth.WebSocketAuthRequired())
	ws.Get("/chat", s.WebSocketChatHandler())
}

// NewApp builds the Fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Plaza Chat API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, models.NewCodedError(codeForStatus(fe.Code), fe.Message))
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})

	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// LivenessCheck reports whether the process is up
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports whether the database and Redis are reachable
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis is optional: without it the server runs single-instance.
	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"websocket_connections": s.hub.ConnectionCount(),
		"time":                  time.Now(),
	})
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.NewApp()

	// With Redis, events reach local sockets only through the subscriber.
	if err := s.wireHub(ctx); err != nil {
		cancel()
		return err
	}

	log.Printf("Server starting on port %s...", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// wireHub subscribes the hub to the Redis channels. It returns once the
// subscription is confirmed; delivery continues until ctx is cancelled.
func (s *Server) wireHub(ctx context.Context) error {
	if !s.notifier.Enabled() {
		return nil
	}
	if err := s.hub.StartWiring(ctx, s.notifier); err != nil {
		return fmt.Errorf("start %s wiring: %w", s.hub.Name(), err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancel the server-scoped context to stop the wiring goroutine
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		log.Printf("error shutting down %s: %v", s.hub.Name(), err)
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
