package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/atelierhq/atelier-backend/api/routes"
	"github.com/atelierhq/atelier-backend/internal/bookings"
	"github.com/atelierhq/atelier-backend/internal/enrollments"
	"github.com/atelierhq/atelier-backend/internal/events"
	"github.com/atelierhq/atelier-backend/internal/groups"
	"github.com/atelierhq/atelier-backend/internal/notify"
	"github.com/atelierhq/atelier-backend/internal/orders"
	"github.com/atelierhq/atelier-backend/internal/payments"
	"github.com/atelierhq/atelier-backend/internal/products"
	"github.com/atelierhq/atelier-backend/internal/sessions"
	"github.com/atelierhq/atelier-backend/internal/subscriptions"
	"github.com/atelierhq/atelier-backend/internal/users"
	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db"
	"github.com/atelierhq/atelier-backend/pkg/gateway"
	"github.com/atelierhq/atelier-backend/pkg/logger"
	"github.com/atelierhq/atelier-backend/pkg/metrics"
	"github.com/atelierhq/atelier-backend/pkg/migrate"
	"github.com/atelierhq/atelier-backend/pkg/redis"
	"github.com/atelierhq/atelier-backend/pkg/studiotime"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" || cfg.Redis.Address != "" {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	} else {
		logg.Warn(context.Background(), "redis not configured, refresh tokens and webhook dedup disabled")
	}

	conn := dbClient.DB()
	usersRepo := users.NewRepository(conn)
	groupsRepo := groups.NewRepository(conn)
	sessionsRepo := sessions.NewRepository(conn)
	enrollmentsRepo := enrollments.NewRepository(conn)
	bookingsRepo := bookings.NewRepository(conn)
	eventsRepo := events.NewRepository(conn)
	ordersRepo := orders.NewRepository(conn)
	productsRepo := products.NewRepository(conn)
	subsRepo := subscriptions.NewRepository(conn)
	paymentsRepo := payments.NewRepository(conn)

	clock := studiotime.NewClock(cfg.Studio.UTCOffsetHours)
	mailer := notify.NewMailer(cfg.SMTP, usersRepo, clock, logg)

	// The initiator stays a nil interface when the gateway is not
	// configured, so services see s.gateway == nil and answer with a
	// dependency error instead of calling through.
	var gw orders.PaymentInitiator
	if cfg.Gateway.Enabled() {
		gw = gateway.New(cfg.Gateway)
	}

	var usersSvc users.Service
	if redisClient != nil {
		usersSvc, err = users.NewService(usersRepo, redisClient, cfg.JWT)
	} else {
		usersSvc, err = users.NewService(usersRepo, nil, cfg.JWT)
	}
	if err != nil {
		logg.Error(context.Background(), "failed to create user service", err)
		os.Exit(1)
	}

	subsSvc, err := subscriptions.NewService(subsRepo, dbClient, mailer, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	sessionsSvc, err := sessions.NewService(sessionsRepo, dbClient, mailer, cfg.Studio, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create session service", err)
		os.Exit(1)
	}

	groupsSvc, err := groups.NewService(groupsRepo, sessionsSvc, cfg.Studio)
	if err != nil {
		logg.Error(context.Background(), "failed to create group service", err)
		os.Exit(1)
	}

	enrollmentsSvc, err := enrollments.NewService(enrollmentsRepo, dbClient, mailer, cfg.Studio, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create enrollment service", err)
		os.Exit(1)
	}

	bookingsSvc, err := bookings.NewService(bookingsRepo, dbClient, mailer, cfg.Studio, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create booking service", err)
		os.Exit(1)
	}

	eventsSvc, err := events.NewService(eventsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create event service", err)
		os.Exit(1)
	}

	productsSvc, err := products.NewService(productsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create product service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(ordersRepo, dbClient, gw, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	webhookMetrics := metrics.NewWebhookMetrics(registry)
	bookingMetrics := metrics.NewBookingMetrics(registry)

	var dedup *payments.WebhookDedup
	if redisClient != nil {
		dedup = payments.NewWebhookDedup(redisClient, cfg.Gateway.WebhookDedupTTL)
	}

	paymentsSvc, err := payments.NewService(
		paymentsRepo, ordersRepo, subsSvc, subsRepo,
		dbClient, gw, cfg.Gateway, dedup, webhookMetrics, logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.Deps{
		Config:         cfg,
		Logger:         logg,
		DB:             dbClient,
		Redis:          redisClient,
		Registry:       registry,
		BookingMetrics: bookingMetrics,
		Users:          usersSvc,
		Groups:         groupsSvc,
		Sessions:       sessionsSvc,
		Enrollments:    enrollmentsSvc,
		Bookings:       bookingsSvc,
		Events:         eventsSvc,
		Orders:         ordersSvc,
		Products:       productsSvc,
		Subscriptions:  subsSvc,
		Payments:       paymentsSvc,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-shutdownCtx.Done():
		logg.Info(ctx, "shutting down api server")
		timeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(timeout); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
