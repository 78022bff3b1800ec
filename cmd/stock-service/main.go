package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/stockflow/stockflow-backend/internal/stock/consumers"
	"github.com/stockflow/stockflow-backend/internal/stock/events"
	"github.com/stockflow/stockflow-backend/internal/stock/handler"
	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/internal/stock/service"
	"github.com/stockflow/stockflow-backend/pkg/auth"
	"github.com/stockflow/stockflow-backend/pkg/config"
	"github.com/stockflow/stockflow-backend/pkg/database"
	"github.com/stockflow/stockflow-backend/pkg/httputil"
	"github.com/stockflow/stockflow-backend/pkg/i18n"
	"github.com/stockflow/stockflow-backend/pkg/lock"
	"github.com/stockflow/stockflow-backend/pkg/logger"
	"github.com/stockflow/stockflow-backend/pkg/messaging"
)

const serviceName = "stock-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Stock Service")

	i18n.SetFallbackLocale(cfg.Stock.DefaultLocale)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, repository.Migrations()); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		log.Info().Msg("database schema up to date")
	}

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	if err := rmq.DeclareTopology(serviceName, messaging.ExchangeStockEvents, messaging.ExchangeUserEvents); err != nil {
		log.Fatal().Err(err).Msg("failed to declare RabbitMQ topology")
	}
	rmq.Watch(ctx)

	// Initialize event publisher
	publisher, err := events.NewStockEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Distributed locks are optional
	var (
		locker lock.Locker = lock.Nop{}
		leader service.LeaderLock
	)
	if cfg.Redis.Enabled() {
		rdb, err := lock.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer rdb.Close()

		redisLocker := lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, log.WithComponent("lock"))
		locker, leader = redisLocker, redisLocker
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis locking enabled")
	}

	// Initialize repositories
	itemRepo := repository.NewItemRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	allocationRepo := repository.NewAllocationRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)

	stores := service.Stores{
		Tx:            db,
		Items:         itemRepo,
		Movements:     movementRepo,
		Allocations:   allocationRepo,
		Notifications: notificationRepo,
		Recipients:    recipientRepo,
	}

	// Initialize services
	bus := service.NewEventBus(log)
	uow := service.NewUnitOfWork(db, bus, cfg.Stock.MaxRetries, log)

	catalogService := service.NewCatalogService(uow, stores, log)
	ledgerService := service.NewLedgerService(uow, catalogService, stores, log)
	allocationEngine := service.NewAllocationEngine(uow, ledgerService, stores, locker, log)
	shortageWorkflow := service.NewShortageWorkflow(uow, stores, log)

	bus.Subscribe(shortageWorkflow.HandleEvent)
	bus.Subscribe(publisher.HandleEvent)
	bus.Subscribe(service.SinkHandler(publisher))

	// Initialize handlers
	handlers := &handler.Handlers{
		Items:         handler.NewItemHandler(catalogService, ledgerService, log),
		Allocations:   handler.NewAllocationHandler(allocationEngine, shortageWorkflow, log),
		Notifications: handler.NewNotificationHandler(shortageWorkflow, log),
	}

	// Start user event consumer
	userConsumer, err := consumers.NewUserEventConsumer(rmq, recipientRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create user event consumer")
	}
	if err := userConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start user event consumer")
	}

	// Start low stock scheduler
	scheduler := service.NewLowStockScheduler(shortageWorkflow, leader, cfg.Stock.LowStockScanInterval, log)
	scheduler.Start(ctx)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Accept-Language"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(i18n.Middleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	verifier := auth.NewVerifier(&cfg.JWT)
	if cfg.Server.TrustGatewayHeaders {
		log.Warn().Msg("trusting X-User-* gateway headers, tokens are not verified")
		verifier = nil
	}
	r.Mount("/api/v1/stock", handlers.Mount(httputil.Authenticate(verifier)))

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop background work before the connections close
	cancel()
	scheduler.Stop()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
