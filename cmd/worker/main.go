package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/atelierhq/atelier-backend/internal/events"
	"github.com/atelierhq/atelier-backend/internal/jobs"
	"github.com/atelierhq/atelier-backend/internal/notify"
	"github.com/atelierhq/atelier-backend/internal/sessions"
	"github.com/atelierhq/atelier-backend/internal/subscriptions"
	"github.com/atelierhq/atelier-backend/internal/users"
	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db"
	"github.com/atelierhq/atelier-backend/pkg/logger"
	"github.com/atelierhq/atelier-backend/pkg/metrics"
	"github.com/atelierhq/atelier-backend/pkg/migrate"
	"github.com/atelierhq/atelier-backend/pkg/redis"
	"github.com/atelierhq/atelier-backend/pkg/studiotime"
)

const (
	generateInterval = 6 * time.Hour
	sweepInterval    = time.Hour
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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
		logg.Warn(context.Background(), "redis not configured, job locking disabled")
	}

	conn := dbClient.DB()
	usersRepo := users.NewRepository(conn)
	sessionsRepo := sessions.NewRepository(conn)
	eventsRepo := events.NewRepository(conn)
	subsRepo := subscriptions.NewRepository(conn)

	clock := studiotime.NewClock(cfg.Studio.UTCOffsetHours)
	mailer := notify.NewMailer(cfg.SMTP, usersRepo, clock, logg)

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

	eventsSvc, err := events.NewService(eventsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create event service", err)
		os.Exit(1)
	}

	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)

	var lock interface {
		SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	}
	if redisClient != nil {
		lock = redisClient
	}

	runner := jobs.NewRunner(lock, jobMetrics, logg)
	if cfg.FeatureFlags.SessionGenerate {
		runner.Add(jobs.Job{
			Name:     "session_generate",
			Interval: generateInterval,
			Run: func(ctx context.Context) error {
				_, err := sessionsSvc.GenerateAll(ctx)
				return err
			},
		})
	}
	runner.Add(jobs.Job{
		Name:     "session_complete",
		Interval: sweepInterval,
		Run: func(ctx context.Context) error {
			_, err := sessionsSvc.CompleteDue(ctx)
			return err
		},
	})
	runner.Add(jobs.Job{
		Name:     "event_complete",
		Interval: sweepInterval,
		Run: func(ctx context.Context) error {
			_, err := eventsSvc.CompleteDue(ctx)
			return err
		},
	})
	runner.Add(jobs.Job{
		Name:     "subscription_expire",
		Interval: sweepInterval,
		Run: func(ctx context.Context) error {
			_, err := subsSvc.ExpireDue(ctx)
			return err
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting worker")

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
