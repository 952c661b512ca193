package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/fogmap-area/internal/area"
	"github.com/mohammed-shakir/fogmap-area/internal/cache/areacache"
	"github.com/mohammed-shakir/fogmap-area/internal/cache/redisstore"
	"github.com/mohammed-shakir/fogmap-area/internal/core/config"
	"github.com/mohammed-shakir/fogmap-area/internal/core/middleware"
	"github.com/mohammed-shakir/fogmap-area/internal/core/observability"
	"github.com/mohammed-shakir/fogmap-area/internal/core/router"
	"github.com/mohammed-shakir/fogmap-area/internal/core/server"
	"github.com/mohammed-shakir/fogmap-area/internal/logger"
	"github.com/mohammed-shakir/fogmap-area/internal/metrics"
	"github.com/mohammed-shakir/fogmap-area/internal/service"
	"github.com/mohammed-shakir/fogmap-area/internal/snapshot"
	"github.com/mohammed-shakir/fogmap-area/internal/store"
	"github.com/mohammed-shakir/fogmap-area/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "fogmap-area",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 1
	}
	// Validate already parsed both
	defStrategy, _ := area.ParseStrategy(cfg.AreaStrategy)
	compression, _ := snapshot.ParseCompression(cfg.SnapshotCompression)

	build := metrics.BuildFromRuntime()
	if build.Version == "" || build.Version == "(devel)" {
		build.Version = Version
	}
	prom := metrics.Init(metrics.Config{Build: build})

	appLog.Info("starting fogmap-area",
		"addr", cfg.Addr,
		"version", build.Version,
		"redis", cfg.RedisAddr,
		"strategy", defStrategy.String(),
		"kafka", cfg.Invalidation.Active())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisOpts []redisstore.Option
	if cfg.RedisPoolSize > 0 {
		redisOpts = append(redisOpts, redisstore.WithPool(cfg.RedisPoolSize, 2))
	}
	redisOpts = append(redisOpts, redisstore.WithTimeouts(0, 0, cfg.RedisWriteTimeout))
	rc, err := redisstore.New(ctx, cfg.RedisAddr, redisOpts...)
	if err != nil {
		appLog.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
		return 1
	}
	defer func() { _ = rc.Close() }()

	journeys := store.NewRedisStore(rc,
		store.WithTTL(cfg.JourneyTTL),
		store.WithCompression(compression),
		store.WithLogger(appLog),
	)
	areas := areacache.New(areacache.Config{Size: cfg.AreaCacheSize, TTL: cfg.AreaCacheTTL}, rc, appLog)

	opts := service.Options{
		Logger:          appLog,
		Estimator:       area.New(area.WithObserver(observability.AreaObserver{})),
		Cache:           areas,
		DefaultStrategy: defStrategy,
		Shards:          cfg.AreaParallelShards,
		CacheOpTimeout:  cfg.CacheOpTimeout,
	}

	runner := kafka.New(cfg.Invalidation, areas, kafka.Options{
		Logger:   appLog.With("component", "invalidation"),
		Register: prom.Registerer(),
	})
	if cfg.Invalidation.Active() {
		pub, err := kafka.NewPublisher(cfg.Invalidation, appLog)
		if err != nil {
			appLog.Error("kafka publisher setup failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		opts.Publisher = pub

		if err := runner.Start(ctx); err != nil {
			appLog.Error("kafka consumer start failed", "err", err)
			return 1
		}
		defer runner.Stop()
	}

	svc := service.New(journeys, opts)
	handlers := router.New(appLog, svc, router.Options{
		MaxUploadBytes: cfg.UploadMaxBytes,
		H3Res:          cfg.H3Res,
		Upload:         middleware.RateLimit(middleware.NewUploadLimiter(cfg.UploadRate, cfg.UploadBurst)),
	})

	err = server.Run(ctx, cfg, appLog, server.Deps{
		Handlers: handlers,
		Metrics:  prom.Handler(),
		Redis:    rc,
		Kafka:    runner,
	})
	if err != nil {
		appLog.Error("server exited", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}
