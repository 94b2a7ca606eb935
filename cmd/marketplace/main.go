package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fjod/go_marketplace/internal/cache"
	"github.com/fjod/go_marketplace/internal/cart"
	"github.com/fjod/go_marketplace/internal/checkout"
	"github.com/fjod/go_marketplace/internal/checkout/repository"
	"github.com/fjod/go_marketplace/internal/config"
	"github.com/fjod/go_marketplace/internal/consumer"
	h "github.com/fjod/go_marketplace/internal/http"
	"github.com/fjod/go_marketplace/internal/inventory"
	"github.com/fjod/go_marketplace/internal/listing"
	"github.com/fjod/go_marketplace/internal/listing/store"
	"github.com/fjod/go_marketplace/internal/payment"
	"github.com/fjod/go_marketplace/internal/publisher"
	snapshots "github.com/fjod/go_marketplace/internal/repository"
	"github.com/fjod/go_marketplace/pkg/circuitbreaker"
	"github.com/fjod/go_marketplace/pkg/clock"
	"github.com/fjod/go_marketplace/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)

	zl.Info("marketplace starting...")

	// Trace context arrives in W3C headers on both HTTP and gRPC.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	realClock := clock.NewRealClock()

	// Catalog
	catalog, err := store.NewStore(cfg.CatalogDBPath)
	if err != nil {
		zl.Fatal("Failed to open catalog", zap.Error(err))
	}
	defer catalog.Close()
	if err := catalog.RunMigrations(); err != nil {
		zl.Fatal("Failed to run catalog migrations", zap.Error(err))
	}

	listingCache := cache.NewTTL[any](cache.Options{
		TTL:        cfg.ListingCacheTTL,
		MaxEntries: cfg.ListingCacheEntries,
		Clock:      realClock,
	})
	listings := listing.NewReader(catalog, listingCache, zl.Named("listings"))

	// Carts: Redis in front of Mongo
	db, err := snapshots.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		zl.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		if err := snapshots.Disconnect(context.Background(), db); err != nil {
			zl.Warn("MongoDB disconnect failed", zap.Error(err))
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zl.Warn("Redis not reachable, carts will be read from MongoDB", zap.Error(err))
	}

	snapshotRepo := snapshots.NewSnapshotRepository(db)
	if err := snapshotRepo.CreateIndexes(ctx); err != nil {
		zl.Fatal("Failed to create cart snapshot indexes", zap.Error(err))
	}

	cartStore := cart.NewCachedStore(
		snapshotRepo,
		cache.NewRedisCache(redisClient, cfg.SnapshotTTL),
		zl.Named("cart_store"),
	)
	carts := cart.NewService(cartStore, listings, cart.Options{
		SessionTTL:  cfg.CartSessionTTL,
		MaxSessions: cfg.CartMaxSessions,
		Clock:       realClock,
		Logger:      zl.Named("carts"),
	})

	// Checkout
	ledger := inventory.NewLedger(inventory.Options{
		TTL:    cfg.ReservationTTL,
		Clock:  realClock,
		Logger: zl.Named("inventory"),
	})
	defer ledger.Close()

	repo, err := repository.NewRepository(&repository.Credentials{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		DBName:   cfg.Postgres.DBName,
	})
	if err != nil {
		zl.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer repo.Close()
	if err := repo.RunMigrations(); err != nil {
		zl.Fatal("Failed to run migrations", zap.Error(err))
	}
	zl.Info("Database migrations completed")

	gateway := payment.NewBreakerGateway(
		payment.NewSimulator(payment.RandomRoller{}),
		circuitbreaker.DefaultSettings("payment"),
		zl.Named("payment"),
	)

	checkouts := checkout.NewService(carts, listings, catalog, ledger, repo, gateway, checkout.Options{
		Config: checkout.Config{
			BaseShipping:       cfg.Pricing.BaseShipping,
			PerItemShipping:    cfg.Pricing.PerItemShipping,
			MaxAdditionalItems: cfg.Pricing.MaxAdditionalItems,
			ExpressSurcharge:   cfg.Pricing.ExpressSurcharge,
			PrioritySurcharge:  cfg.Pricing.PrioritySurcharge,
			TaxRate:            cfg.Pricing.TaxRate,
		},
		Timeouts: checkout.Timeouts{
			Revalidate: cfg.RevalidateTimeout,
			Payment:    cfg.PaymentTimeout,
			Store:      checkout.DefaultTimeouts().Store,
		},
		Clock:  realClock,
		Logger: zl.Named("checkout"),
	})

	// Background workers
	var wg sync.WaitGroup

	writer := publisher.NewKafkaWriter(cfg.KafkaBrokers...)
	defer writer.Close()
	poller := publisher.NewOutboxPoller(repo, writer, checkouts, publisher.Options{
		StuckAfter: cfg.StuckSessionAfter,
		Logger:     zl.Named("outbox"),
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	updates := consumer.NewConsumer(listings, consumer.NewKafkaReader(cfg.KafkaBrokers...), zl.Named("listing_updates"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		updates.Run(ctx)
	}()

	// HTTP
	router := h.NewRouter(h.Handlers{
		Listings: h.NewListingHandler(listings, cfg.RequestTimeout, zl),
		Carts:    h.NewCartHandler(carts, cfg.RequestTimeout, zl),
		Checkout: h.NewCheckoutHandler(checkouts, cfg.RequestTimeout, zl),
	}, h.RouterOptions{
		RequestTimeout: cfg.RequestTimeout,
		Logger:         zl.Named("http"),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: router,
	}
	go func() {
		zl.Info("HTTP server listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// gRPC health for orchestrators
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		zl.Fatal("Failed to listen", zap.Error(err))
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("marketplace", healthpb.HealthCheckResponse_SERVING)
	// Enable reflection for grpcurl/grpcui
	reflection.Register(grpcServer)
	go func() {
		zl.Info("gRPC health server listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			zl.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("Shutting down marketplace...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("HTTP server shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()

	stop()
	updates.Close()
	wg.Wait()

	zl.Info("Marketplace stopped")
}
