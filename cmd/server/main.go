package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"featuregate/internal/api"
	"featuregate/internal/config"
	"featuregate/internal/metrics"
	"featuregate/internal/middleware"
	"featuregate/internal/repository"
	"featuregate/internal/service"
	"featuregate/internal/telemetry"
	"featuregate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Server.Environment)
	logger.SetLevel(cfg.Server.LogLevel)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("application startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Server.Environment)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	rdb, err := initRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	etcdCli, err := initEtcd(cfg.Etcd)
	if err != nil {
		return err
	}
	defer etcdCli.Close()

	db, err := repository.Open(cfg.Database)
	if err != nil {
		return err
	}

	repos := repository.NewRepositories(db)
	feedRepo := repository.NewFeedRepository(etcdCli, cfg.Etcd.Prefix)

	observer := metrics.NewPrometheusObserver()
	hub := service.NewHub(observer, cfg.Stream.HeartbeatInterval, cfg.Stream.HubBufferSize)
	feed := service.NewFeedService(feedRepo, hub, cfg.Stream.RevisionBuffer)
	features := service.NewFeatureService(repos, observer)
	admin := service.NewAdminService(db, repos, feedRepo)
	auth := service.NewAuthService(rdb, cfg.Auth)

	outboxWorker := service.NewOutboxWorker(repos.Outbox, feedRepo, cfg.Workers.OutboxInterval, cfg.Workers.OutboxBatchSize)
	reconciler := service.NewReconciler(etcdCli, feedRepo, repos.Flags, cfg.Workers.ReconcilerInterval)
	sweeper := service.NewSubscriptionSweeper(repos.Catalog, cfg.Workers.SubscriptionSchedule)

	limiter := middleware.NewRateLimiter(rdb, "featuregate:ratelimit:", cfg.RateLimit.RequestsPerSecond)
	config.WatchReload(func(next *config.Config) {
		logger.SetLevel(next.Server.LogLevel)
		limiter.SetRate(next.RateLimit.RequestsPerSecond)
		logger.Info("configuration reloaded",
			zap.String("log_level", next.Server.LogLevel),
			zap.Int("rps", next.RateLimit.RequestsPerSecond))
	}, func(err error) {
		logger.Warn("ignoring invalid configuration", zap.Error(err))
	})

	if err := api.RegisterValidators(); err != nil {
		return fmt.Errorf("register validators: %w", err)
	}
	r := api.RegisterRoutes(api.Deps{
		Features:   api.NewFeatureHandler(features, hub),
		Admin:      api.NewAdminHandler(admin),
		Streams:    api.NewStreamHandler(feed, hub),
		Auth:       api.NewAuthHandler(auth),
		Tokens:     auth,
		SDKKeys:    repos.SDK,
		Limiter:    limiter,
		HTTPMetric: observer,
		Metrics:    observer.Handler(),
		AdminRoles: cfg.Auth.AdminRoles,
		DevPass:    cfg.Auth.DevPass,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting hub")
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting change feed")
		feed.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting outbox worker")
		outboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting reconciler")
		reconciler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting subscription sweeper", zap.String("schedule", cfg.Workers.SubscriptionSchedule))
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited properly")
	return nil
}

func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func initEtcd(cfg config.EtcdConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return client, nil
}
