/**
 * @description
 * Main entry point for the washapp service. It loads configuration, opens the
 * store and the outbound clients (payment gateway, RabbitMQ, Redis), builds the
 * engines, starts the cron sweeps and serves the HTTP API until SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv: optional .env loading for local runs.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: accept-attempt rate limiting.
 * - golang.org/x/sync/errgroup: HTTP server lifecycle.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/omerc321/washapp-sub002/internal/api"
	"github.com/omerc321/washapp-sub002/internal/app"
	"github.com/omerc321/washapp-sub002/internal/company"
	"github.com/omerc321/washapp-sub002/internal/complaint"
	"github.com/omerc321/washapp-sub002/internal/config"
	"github.com/omerc321/washapp-sub002/internal/dispatch"
	"github.com/omerc321/washapp-sub002/internal/domain"
	"github.com/omerc321/washapp-sub002/internal/ledger"
	"github.com/omerc321/washapp-sub002/internal/logger"
	"github.com/omerc321/washapp-sub002/internal/observability"
	"github.com/omerc321/washapp-sub002/internal/ratelimit"
	"github.com/omerc321/washapp-sub002/internal/shift"
	"github.com/omerc321/washapp-sub002/internal/store"
	"github.com/omerc321/washapp-sub002/internal/store/memory"
	"github.com/omerc321/washapp-sub002/pkg/gatewayclient"
	"github.com/omerc321/washapp-sub002/pkg/rabbitmq"
)

// repository is everything the engines need from a store.
type repository interface {
	company.Repository
	ledger.Repository
	shift.Repository
	dispatch.Repository
	complaint.Repository
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("washapp stopped")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	boot := log.WithField("component", "bootstrap")
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("JWT_SECRET must be configured")
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		boot.Warn("internal api key not configured; /internal routes will reject every request")
	}

	shutdownTracing, err := observability.InitTracing(cfg.OtelExporter)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			boot.WithError(err).Warn("tracer shutdown failed")
		}
	}()

	repo, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, log)
	if err != nil {
		boot.WithError(err).Warn("rabbitmq producer unavailable; using fallback")
		publisher = &rabbitmq.EventProducerFallback{Logger: log}
	} else {
		publisher = producer
		boot.Info("rabbitmq producer connected")
	}
	defer publisher.Close()

	var gateway dispatch.Gateway
	if strings.TrimSpace(cfg.GatewayBaseURL) == "" {
		boot.Warn("GATEWAY_BASE_URL not set; using sandbox gateway")
		gateway = gatewayclient.NewSandbox(log)
	} else {
		gateway = gatewayclient.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout())
	}

	var limiter dispatch.RateLimiter
	if redisClient := openRedis(ctx, cfg, boot); redisClient != nil {
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RedisPrefix)
	}

	ledgerEngine := ledger.NewEngine(repo, cfg.FeeRates(), cfg.Currency, log)
	tracker := shift.NewTracker(repo, publisher, log, cfg.ShiftStaleAfter())
	dispatcher := dispatch.NewEngine(repo, ledgerEngine, gateway, publisher, limiter, log, dispatch.Config{
		RefundAfter:              cfg.RefundAfter(),
		AcceptRateLimitPerMinute: cfg.AcceptRateLimitPerMinute,
	})
	services := api.Services{
		Companies:  company.NewService(repo, cfg.FeeRates(), log),
		Shifts:     tracker,
		Ledger:     ledgerEngine,
		Dispatch:   dispatcher,
		Complaints: complaint.NewResolver(repo, ledgerEngine, gateway, publisher, log),
	}

	if producer != nil {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, 10, log)
		if err != nil {
			boot.WithError(err).Warn("rabbitmq consumer unavailable; payment events disabled")
		} else {
			defer consumer.Close()
			payments := app.NewPaymentConsumer(dispatcher, gateway, log)
			if err := consumer.ConsumeWithBindings(domain.EventsExchange, cfg.PaymentEventQueue, map[string]rabbitmq.Handler{
				domain.RoutingPaymentCaptured: payments.HandleMessage,
			}); err != nil {
				return fmt.Errorf("payment consumer start failed: %w", err)
			}
		}
	}

	scheduler := app.NewScheduler(app.NewJobs(tracker, dispatcher, log, 0), log, app.Schedules{
		ShiftSweep:  cfg.ShiftSweepSchedule,
		RefundSweep: cfg.RefundSweepSchedule,
	})
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer func() { <-scheduler.Stop().Done() }()

	server := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: api.NewRouter(api.NewHandler(services, log), api.RouterConfig{
			JWTSecret:      cfg.JWTSecret,
			InternalAPIKey: cfg.InternalAPIKey,
			AllowedOrigins: cfg.AllowedOrigins(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"component": "http", "addr": server.Addr}).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.WithField("component", "http").Info("shutdown started")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.WithField("component", "http").Info("shutdown complete")
	return nil
}

// openStore returns the configured repository and its close function.
func openStore(ctx context.Context, cfg config.Config, log *logrus.Logger) (repository, func(), error) {
	boot := log.WithField("component", "bootstrap")
	if cfg.StoreDriver == "memory" {
		boot.Warn("using in-memory store; data is lost on restart")
		return memory.New(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database url parse failed: %w", err)
	}
	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = cfg.DBMaxConns / 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	repo := store.NewPostgresRepository(dbpool)
	if err := repo.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}
	boot.Info("database connected")

	if cfg.RunMigrations {
		if err := store.Migrate(ctx, dbpool, log); err != nil {
			dbpool.Close()
			return nil, nil, err
		}
	}
	return repo, repo.Close, nil
}

// openRedis connects to Redis for rate limiting. It returns nil, which
// disables rate limiting, when Redis is not configured or not reachable.
func openRedis(ctx context.Context, cfg config.Config, boot logrus.FieldLogger) *redis.Client {
	if cfg.AcceptRateLimitPerMinute <= 0 {
		return nil
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		boot.Warn("redis url missing; accept rate limiting disabled")
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		boot.WithError(err).Warn("redis url parse failed; accept rate limiting disabled")
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		boot.WithError(err).Warn("redis ping failed; accept rate limiting disabled")
		client.Close()
		return nil
	}
	boot.Info("redis connected")
	return client
}
