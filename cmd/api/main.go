package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/campus-canteen/api/internal/handlers"
	"github.com/campus-canteen/api/internal/platform/config"
	pfirestore "github.com/campus-canteen/api/internal/platform/firestore"
	"github.com/campus-canteen/api/internal/platform/jobs"
	"github.com/campus-canteen/api/internal/platform/observability"
	firestoreRepo "github.com/campus-canteen/api/internal/repositories/firestore"
	"github.com/campus-canteen/api/internal/services"

	"github.com/oklog/ulid/v2"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	orderTopic := pubsubClient.Topic(cfg.PubSub.OrderTopic)
	defer orderTopic.Stop()

	publisher, err := jobs.NewPubSubOrderEventPublisher(orderTopic)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     registry.Orders(),
		Canteens:   registry.Canteens(),
		MenuItems:  registry.MenuItems(),
		Counters:   registry.Counters(),
		UnitOfWork: registry,
		Clock:      time.Now,
		// The service prefixes the id itself; generate the bare ULID here.
		IDGenerator: func() string {
			return strings.ToLower(ulid.Make().String())
		},
		Events:             publisher,
		Logger:             zapEventLogger(logger.Named("orders")),
		PaymentTimeout:     cfg.Orders.PaymentTimeout,
		PickupCodeAttempts: cfg.Orders.PickupCodeAttempts,
		OverdueBatchSize:   cfg.Orders.OverdueBatchSize,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	expirer, ok := orderService.(services.OrderExpirer)
	if !ok {
		logger.Fatal("order service does not expose the expiry primitive")
	}

	canteenService, err := services.NewCanteenService(services.CanteenServiceDeps{
		Canteens:  registry.Canteens(),
		MenuItems: registry.MenuItems(),
	})
	if err != nil {
		logger.Fatal("failed to initialise canteen service", zap.Error(err))
	}

	sweeper, err := services.NewExpirySweeper(services.ExpirySweeperDeps{
		Orders:    registry.Orders(),
		Expirer:   expirer,
		Clock:     time.Now,
		Logger:    zapEventLogger(logger.Named("sweeper")),
		Interval:  cfg.Orders.SweepInterval,
		BatchSize: cfg.Orders.OverdueBatchSize,
	})
	if err != nil {
		logger.Fatal("failed to initialise expiry sweeper", zap.Error(err))
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		sweeper.Run(sweepCtx)
	}()

	orderLimiter := newSimpleRateLimiterFromConfig(cfg)
	orderHandlers := handlers.NewOrderHandlers(orderService, orderLimiter)
	adminHandlers := handlers.NewAdminOrderHandlers(orderService)
	canteenHandlers := handlers.NewCanteenHandlers(canteenService)
	paymentHandlers := handlers.NewPaymentHandlers(orderService)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(os.Getenv("CANTEEN_BUILD_VERSION"), cfg.Environment),
		handlers.WithReadinessCheck("firestore", firestoreProbe(firestoreClient)),
		handlers.WithReadinessCheck("pubsub", pubsubProbe(orderTopic)),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		handlers.ActorMiddleware(),
		observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCanteenRoutes(canteenHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("canteen api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info("service event", zFields...)
	}
}

func newSimpleRateLimiterFromConfig(cfg config.Config) handlers.RateLimiter {
	return handlers.NewSimpleRateLimiter(cfg.RateLimits.OrdersPerMinute, time.Minute, time.Now)
}

func firestoreProbe(client *firestore.Client) handlers.ReadinessProbe {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("firestore client not initialised")
		}
		iter := client.Collections(ctx)
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}

func pubsubProbe(topic *pubsub.Topic) handlers.ReadinessProbe {
	return func(ctx context.Context) error {
		if topic == nil {
			return errors.New("pubsub topic not initialised")
		}
		exists, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("pubsub topic %s does not exist", topic.ID())
		}
		return nil
	}
}
