package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ajaymenon/storefront-core/internal/assignments"
	"github.com/ajaymenon/storefront-core/internal/auth"
	"github.com/ajaymenon/storefront-core/internal/bidding"
	"github.com/ajaymenon/storefront-core/internal/config"
	"github.com/ajaymenon/storefront-core/internal/database"
	"github.com/ajaymenon/storefront-core/internal/domain"
	"github.com/ajaymenon/storefront-core/internal/geocode"
	"github.com/ajaymenon/storefront-core/internal/messaging"
	"github.com/ajaymenon/storefront-core/internal/orders"
	"github.com/ajaymenon/storefront-core/internal/pubsub"
	"github.com/ajaymenon/storefront-core/internal/telemetry"
	"github.com/ajaymenon/storefront-core/internal/wallet"
)

const (
	serviceName    = "storefront-api"
	serviceVersion = "1.0.0"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load()

	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer func() { _ = redisClient.Close() }()
	}

	var orderEvents, bidEvents *messaging.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		orderEvents = messaging.NewProducer(cfg.Kafka.Brokers, domain.EventOrderStatusUpdated)
		defer func() { _ = orderEvents.Close() }()
		bidEvents = messaging.NewProducer(cfg.Kafka.Brokers, domain.EventBidPlaced)
		defer func() { _ = bidEvents.Close() }()
	}

	hub := pubsub.NewHub()

	authRepo := auth.NewRepository(db)
	authHandler := auth.NewHandler(authRepo, logger)

	walletRepo := wallet.NewRepository(db)
	walletHandler := wallet.NewHandler(walletRepo, logger)

	assignmentRepo := assignments.NewPostgresRepository(db)

	orderRepo := orders.NewPostgresRepository(db)
	orderService := orders.NewService(orderRepo, assignmentRepo, walletRepo, hub, producerOrNil(orderEvents), logger)
	orderHandler := orders.NewHandler(orderService, logger)

	geocoder := geocode.NewClient(cfg.Geocoder.BaseURL, nil, cfg.Geocoder.Timeout)
	assignmentService := assignments.NewService(assignmentRepo, orderService, geocoder, logger)
	assignmentHandler := assignments.NewHandler(assignmentService, logger)

	biddingRepo := bidding.NewPostgresRepository(db)
	biddingCache := bidding.NewSnapshotCache(redisClient)
	biddingService := bidding.NewService(biddingRepo, biddingCache, hub, producerOrNil(bidEvents), nil, authRepo, logger)
	biddingHandler := bidding.NewHandler(biddingService, logger)

	mux := http.NewServeMux()

	// unauthenticated surface
	mux.HandleFunc("POST /auth/register", telemetry.WithHTTPRoute(authHandler.HandleRegister))
	mux.HandleFunc("POST /auth/login", telemetry.WithHTTPRoute(authHandler.HandleLogin))
	mux.Handle("GET /metrics", metricsHandler)
	// payment provider confirmation callback
	mux.HandleFunc("POST /wallet/topups/{id}/confirm", telemetry.WithHTTPRoute(walletHandler.HandleConfirmTopUp))

	protected := func(h http.HandlerFunc) http.Handler {
		return authHandler.Middleware(telemetry.WithHTTPRoute(h))
	}

	mux.Handle("POST /orders", protected(orderHandler.HandleCheckout))
	mux.Handle("GET /orders", protected(orderHandler.HandleList))
	mux.Handle("GET /orders/{id}", protected(orderHandler.HandleGet))
	mux.Handle("PATCH /orders/{id}/status", protected(orderHandler.HandleUpdateStatus))
	mux.Handle("POST /orders/{id}/cancel", protected(orderHandler.HandleCancel))

	mux.Handle("POST /orders/{id}/assignment", protected(assignmentHandler.HandleAssign))
	mux.Handle("GET /orders/{id}/assignment", protected(assignmentHandler.HandleGet))
	mux.Handle("POST /orders/{id}/assignment/accept", protected(assignmentHandler.HandleAccept))
	mux.Handle("POST /orders/{id}/assignment/location", protected(assignmentHandler.HandleUpdateLocation))

	mux.Handle("POST /vouchers", protected(biddingHandler.HandleCreateVoucher))
	mux.Handle("GET /vouchers", protected(biddingHandler.HandleListVouchers))
	mux.Handle("GET /vouchers/{id}", protected(biddingHandler.HandleGetAuctionState))
	mux.Handle("POST /vouchers/{id}/bids", protected(biddingHandler.HandlePlaceBid))

	mux.Handle("GET /wallet", protected(walletHandler.HandleGet))
	mux.Handle("GET /wallet/transactions", protected(walletHandler.HandleListTransactions))
	mux.Handle("POST /wallet/topups", protected(walletHandler.HandleCreateTopUp))

	// live tracking and auction streams
	mux.Handle("GET /orders/{id}/events", protected(pubsub.SSEHandler(hub, func(r *http.Request) string {
		if id := r.PathValue("id"); id != "" {
			return pubsub.OrderTopic(id)
		}
		return ""
	}, logger)))
	mux.Handle("GET /vouchers/{id}/events", protected(pubsub.SSEHandler(hub, func(r *http.Request) string {
		if id := r.PathValue("id"); id != "" {
			return pubsub.VoucherTopic(id)
		}
		return ""
	}, logger)))

	server := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     otelhttp.NewHandler(mux, "api"),
		ReadTimeout: cfg.Server.ReadTimeout,
		// no WriteTimeout: the SSE streams hold their connections open
	}

	go func() {
		logger.Info("starting api", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// producerOrNil keeps a nil *messaging.Producer from becoming a non-nil
// interface value when kafka is not configured.
func producerOrNil(p *messaging.Producer) interface {
	Publish(ctx context.Context, key string, event any) error
} {
	if p == nil {
		return nil
	}
	return p
}
