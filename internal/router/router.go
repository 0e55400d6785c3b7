package router

import (
	"time"

	"github.com/anonto42/nano-midea/notifications/internal/handlers"
	"github.com/anonto42/nano-midea/notifications/internal/live"
	"github.com/anonto42/nano-midea/notifications/internal/middleware"
	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/anonto42/nano-midea/notifications/internal/repositories"
	"github.com/anonto42/nano-midea/notifications/validators"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Notifications is what the REST handlers need from the notification service.
type Notifications interface {
	handlers.NotificationReader
	handlers.NotificationCleaner
}

// Dependencies are the collaborators built by the process entry point.
type Dependencies struct {
	Postgres      *gorm.DB
	Notifications Notifications
	Registry      *live.Registry
	WebSocket     *live.WebSocketServer
	PushTokens    handlers.PushTokenRegistry
	Publisher     handlers.EventPublisher

	// FirebaseAuth is nil when firebase is not configured; firebase login is then unavailable.
	FirebaseAuth      middleware.IDTokenVerifier
	UseFirebaseAuth   bool
	JWTSecret         string
	JWTTTL            time.Duration
	LiveStreamTimeout time.Duration
}

// Migrate runs the PostgreSQL auto-migrations for every relational model.
func Migrate(pgdb *gorm.DB) error {
	return pgdb.AutoMigrate(
		&models.User{},
		&models.Pin{},
		&models.Post{},
		&models.Like{},
		&models.Comment{},
		&models.Follow{},
		&models.Notification{},
	)
}

// SetupRoutes configures all application routes and injects dependencies
func SetupRoutes(e *echo.Echo, deps Dependencies, logger zerolog.Logger) {
	logger = logger.With().Str("component", "router").Logger()
	e.Validator = validators.NewValidator()

	// Health check - always accessible
	e.GET("/health", handlers.HealthCheck)

	// --- Initialize Repositories ---
	userRepo := repositories.NewPostgresUserRepository(deps.Postgres)
	pinRepo := repositories.NewPostgresPinRepository(deps.Postgres)
	postRepo := repositories.NewPostgresPostRepository(deps.Postgres)
	likeRepo := repositories.NewPostgresLikeRepository(deps.Postgres)
	commentRepo := repositories.NewPostgresCommentRepository(deps.Postgres)
	followRepo := repositories.NewPostgresFollowRepository(deps.Postgres)

	// --- Unprotected routes for authentication ---
	if deps.FirebaseAuth != nil {
		authGroup := e.Group("/api/v1/auth")
		authHandler := handlers.NewAuthHandler(userRepo, deps.FirebaseAuth, deps.JWTSecret, deps.JWTTTL)
		authHandler.RegisterAuthRoutes(authGroup)
		logger.Info().Msg("Auth routes configured.")
	}

	// --- Protected routes ---
	api := e.Group("/api/v1")
	if deps.UseFirebaseAuth {
		api.Use(middleware.FirebaseAuthMiddleware(deps.FirebaseAuth, userRepo))
		logger.Info().Msg("Firebase authentication middleware applied to /api/v1 group.")
	} else {
		api.Use(middleware.JWTAuthMiddleware(deps.JWTSecret))
		logger.Info().Msg("JWT authentication middleware applied to /api/v1 group.")
	}

	// User profile routes
	userHandler := handlers.NewUserHandler(userRepo, deps.Notifications)
	userHandler.RegisterProfileRoutes(api)

	// Pin routes
	pinHandler := handlers.NewPinHandler(pinRepo, deps.Notifications)
	pinHandler.RegisterPinRoutes(api)

	// Post routes
	postHandler := handlers.NewPostHandler(postRepo, deps.Notifications, deps.Publisher)
	postHandler.RegisterPostRoutes(api)

	// Like routes
	likeHandler := handlers.NewLikeHandler(likeRepo, pinRepo, deps.Publisher)
	likeHandler.RegisterLikeRoutes(api)

	// Comment routes
	commentHandler := handlers.NewCommentHandler(commentRepo, pinRepo, deps.Publisher)
	commentHandler.RegisterCommentRoutes(api)

	// Follow routes
	followHandler := handlers.NewFollowHandler(followRepo, userRepo, deps.Publisher)
	followHandler.RegisterFollowRoutes(api)

	// Notification routes
	notificationHandler := handlers.NewNotificationHandler(deps.Notifications, logger)
	notificationHandler.RegisterNotificationRoutes(api)

	// Live stream routes
	streamHandler := handlers.NewStreamHandler(deps.Registry, deps.WebSocket, deps.LiveStreamTimeout)
	streamHandler.RegisterStreamRoutes(api)

	// Push token routes
	pushTokenHandler := handlers.NewPushTokenHandler(deps.PushTokens)
	pushTokenHandler.RegisterPushTokenRoutes(api)

	logger.Info().Msg("All routes configured.")
}
