package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajaymenon/storefront-core/internal/assignments"
	"github.com/ajaymenon/storefront-core/internal/auth"
	"github.com/ajaymenon/storefront-core/internal/bidding"
	"github.com/ajaymenon/storefront-core/internal/config"
	"github.com/ajaymenon/storefront-core/internal/database"
	"github.com/ajaymenon/storefront-core/internal/domain"
	"github.com/ajaymenon/storefront-core/internal/geocode"
	"github.com/ajaymenon/storefront-core/internal/messaging"
	"github.com/ajaymenon/storefront-core/internal/notifications"
	"github.com/ajaymenon/storefront-core/internal/pubsub"
	"github.com/ajaymenon/storefront-core/internal/telemetry"
)

const (
	serviceName    = "storefront-worker"
	serviceVersion = "1.0.0"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load()

	shutdownTracer, err := telemetry.InitTracerProvider(context.Background(), serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	mailer := notifications.NewMailer(cfg.Worker.EmailServiceURL, &http.Client{Timeout: 10 * time.Second})
	assignmentRepo := assignments.NewPostgresRepository(db)
	authRepo := auth.NewRepository(db)

	statusConsumer := messaging.NewConsumer(cfg.Kafka.Brokers, domain.EventOrderStatusUpdated, "storefront-worker")
	defer func() { _ = statusConsumer.Close() }()
	auctionConsumer := messaging.NewConsumer(cfg.Kafka.Brokers, domain.EventAuctionClosed, "storefront-worker")
	defer func() { _ = auctionConsumer.Close() }()

	closeEvents := messaging.NewProducer(cfg.Kafka.Brokers, domain.EventAuctionClosed)
	defer func() { _ = closeEvents.Close() }()

	statusHandler := notifications.NewStatusHandler(mailer, assignmentRepo, logger)
	auctionHandler := notifications.NewAuctionHandler(mailer, logger)

	// the worker broadcasts into its own hub to nobody; the durable kafka
	// leg is what matters from this process
	biddingRepo := bidding.NewPostgresRepository(db)
	biddingService := bidding.NewService(biddingRepo, bidding.NewSnapshotCache(nil), pubsub.NewHub(), nil, closeEvents, authRepo, logger)
	sweeper := bidding.NewSweeper(biddingService, cfg.Worker.SweepInterval, logger)

	geocoder := geocode.NewClient(cfg.Geocoder.BaseURL, nil, cfg.Geocoder.Timeout)
	refresher := assignments.NewLocationRefresher(assignmentRepo, geocoder, cfg.Worker.LocationRefreshInterval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting worker", "brokers", cfg.Kafka.Brokers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return statusConsumer.Consume(gctx, statusHandler.Handle) })
	g.Go(func() error { return auctionConsumer.Consume(gctx, auctionHandler.Handle) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return refresher.Run(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
