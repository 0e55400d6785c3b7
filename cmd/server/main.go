package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anonto42/nano-midea/notifications/internal/events"
	"github.com/anonto42/nano-midea/notifications/internal/live"
	"github.com/anonto42/nano-midea/notifications/internal/push"
	"github.com/anonto42/nano-midea/notifications/internal/repositories"
	"github.com/anonto42/nano-midea/notifications/internal/router"
	"github.com/anonto42/nano-midea/notifications/internal/services"
	"github.com/anonto42/nano-midea/notifications/pkg/broker"
	"github.com/anonto42/nano-midea/notifications/pkg/config"
	"github.com/anonto42/nano-midea/notifications/pkg/firebase"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger := config.NewLogger(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Notification service stopped with error")
	}
	logger.Info().Msg("Notification service shut down cleanly.")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	// Initialize database connections
	db, err := config.InitDB(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.CloseDB()

	if err := router.Migrate(db.Postgres); err != nil {
		return err
	}
	logger.Info().Msg("PostgreSQL auto-migrations completed for all models.")

	tokenRepo := repositories.NewMongoPushTokenRepository(db.MongoDB)
	if err := tokenRepo.EnsureIndexes(ctx); err != nil {
		return err
	}

	// Firebase is optional in JWT mode; without it mobile push and firebase login are disabled.
	var firebaseApp *firebase.App
	if cfg.FirebaseCredentialsPath != "" {
		firebaseApp, err = firebase.InitFirebase(ctx, cfg.FirebaseCredentialsPath, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Warn().Msg("FIREBASE_CREDENTIALS_PATH not set, mobile push disabled.")
	}

	// Event queue
	psClient, err := broker.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return err
	}
	defer psClient.Close()

	topology := broker.Topology{
		ProjectID:           cfg.PubSub.ProjectID,
		TopicID:             cfg.PubSub.TopicID,
		SubscriptionID:      cfg.PubSub.SubscriptionID,
		RoutingKey:          cfg.PubSub.RoutingKey,
		DeadLetterTopicID:   cfg.PubSub.DeadLetterTopicID,
		MaxDeliveryAttempts: int32(cfg.PubSub.MaxDeliveryAttempts),
		AckDeadlineSeconds:  int32(cfg.PubSub.AckDeadlineSeconds),
	}
	if err := broker.EnsureTopology(ctx, psClient, topology, logger); err != nil {
		return err
	}

	// Live registry and presence
	registry, online, closePresence, err := newLiveRegistry(cfg, logger)
	if err != nil {
		return err
	}
	defer closePresence()

	var gateway push.Gateway
	if firebaseApp != nil {
		gateway = firebaseApp.MessagingClient
	}
	pushService := push.NewService(tokenRepo, gateway, online, push.Options{
		Timeout:            cfg.PushTimeout,
		PruneInvalidTokens: cfg.PushPruneInvalidTokens,
		SkipOnline:         cfg.PushSkipOnline,
	}, logger)

	userRepo := repositories.NewPostgresUserRepository(db.Postgres)
	pinRepo := repositories.NewPostgresPinRepository(db.Postgres)
	postRepo := repositories.NewPostgresPostRepository(db.Postgres)
	followRepo := repositories.NewPostgresFollowRepository(db.Postgres)
	notificationRepo := repositories.NewPostgresNotificationRepository(db.Postgres)

	notificationService := services.NewNotificationService(notificationRepo, userRepo, pinRepo, registry, pushService, logger)

	publisher := events.NewPublisher(psClient.Publisher(cfg.PubSub.TopicID), cfg.PubSub.RoutingKey, logger)

	subscriber := psClient.Subscriber(cfg.PubSub.SubscriptionID)
	subscriber.ReceiveSettings.NumGoroutines = cfg.ConsumerWorkers
	subscriber.ReceiveSettings.MaxOutstandingMessages = cfg.ConsumerWorkers * 10
	consumer := events.NewConsumer(subscriber, userRepo, pinRepo, postRepo, followRepo, notificationService, events.ConsumerOptions{
		RoutingKey:          cfg.PubSub.RoutingKey,
		MaxDeliveryAttempts: cfg.PubSub.MaxDeliveryAttempts,
		DeadLetter:          cfg.PubSub.DeadLetterTopicID != "",
	}, logger)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Setup global middleware
	config.SetupMiddleware(e, logger, cfg.AllowedOrigins)

	deps := router.Dependencies{
		Postgres:          db.Postgres,
		Notifications:     notificationService,
		Registry:          registry,
		WebSocket:         live.NewWebSocketServer(registry, cfg.AllowedOrigins),
		PushTokens:        pushService,
		Publisher:         publisher,
		UseFirebaseAuth:   cfg.AuthMode == config.AuthModeFirebase,
		JWTSecret:         cfg.JWTSecret,
		JWTTTL:            cfg.JWTTTL,
		LiveStreamTimeout: cfg.LiveStreamTimeout,
	}
	if firebaseApp != nil {
		deps.FirebaseAuth = firebaseApp.AuthClient
	}
	router.SetupRoutes(e, deps, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		// A no-op without Redis; otherwise keeps presence keys from expiring under open connections.
		registry.RefreshPresence(gctx, cfg.PresenceTTL/2)
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Msg("HTTP server listening.")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down HTTP server.")
		// Live streams block until their client leaves; close them so Shutdown can drain.
		registry.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Nothing publishes or pushes once HTTP and the consumer are down.
	publisher.Stop()
	pushService.Wait()
	return err
}

// newLiveRegistry builds the live registry and the presence check used to skip mobile push. With
// REDIS_ADDR set presence is shared across instances, otherwise it is the local registry.
func newLiveRegistry(cfg *config.Config, logger zerolog.Logger) (*live.Registry, push.PresenceChecker, func(), error) {
	if cfg.RedisAddr == "" {
		registry := live.NewRegistry(nil, logger)
		return registry, registry, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	presence, err := live.NewRedisPresence(rdb, cfg.PresenceTTL, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing Redis connection")
		}
	}
	return live.NewRegistry(presence, logger), presence, closeFn, nil
}
