package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/tile-animator/internal/animation"
	"github.com/mohammed-shakir/tile-animator/internal/artifact"
	"github.com/mohammed-shakir/tile-animator/internal/cache/redisstore"
	"github.com/mohammed-shakir/tile-animator/internal/cache/tilecache"
	"github.com/mohammed-shakir/tile-animator/internal/core/config"
	"github.com/mohammed-shakir/tile-animator/internal/core/health"
	"github.com/mohammed-shakir/tile-animator/internal/core/httpclient"
	"github.com/mohammed-shakir/tile-animator/internal/core/observability"
	"github.com/mohammed-shakir/tile-animator/internal/core/router"
	"github.com/mohammed-shakir/tile-animator/internal/core/server"
	"github.com/mohammed-shakir/tile-animator/internal/events"
	"github.com/mohammed-shakir/tile-animator/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/tile-animator/internal/logger"
	"github.com/mohammed-shakir/tile-animator/internal/metrics"
	"github.com/mohammed-shakir/tile-animator/internal/render"
	"github.com/mohammed-shakir/tile-animator/internal/stamps"
	"github.com/mohammed-shakir/tile-animator/internal/tiler"
)

var Version = "dev"

// frames come back at tile_scale=2
const brandScale = 2

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "tile-animator",
		Component: "animator",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting animator",
		"addr", cfg.Addr,
		"version", Version,
		"tiler", cfg.Tiler.URL,
		"max_frames", cfg.MaxFrames,
		"workers", cfg.FrameWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mp := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(mp.Registerer(), cfg.Metrics.Enabled)
	if srv := mp.Server(); srv != nil {
		go func() {
			appLog.Info("metrics listen", "addr", srv.Addr, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	tc, err := tiler.New(appLog, httpclient.NewOutbound(cfg.Tiler.Timeout*2), cfg.Tiler.URL, tiler.Options{
		Timeout: cfg.Tiler.Timeout,
		Retries: cfg.Tiler.Retries,
		Backoff: cfg.Tiler.Backoff,
		RPS:     cfg.Tiler.RPS,
		Burst:   cfg.Tiler.Burst,
	})
	if err != nil {
		appLog.Error("failed to initialize tiler client", "err", err)
		return 1
	}

	ready := map[string]health.Pinger{}
	var kv artifact.KV = artifact.NewMemoryKV(cfg.ArtifactBytes, cfg.ArtifactTTL)
	cacheOpts := tilecache.Options{
		Size:         cfg.TileCache.Size,
		TTL:          cfg.TileCache.TTL,
		FetchTimeout: cfg.AnimationTimeout,
	}
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		kv = rc
		cacheOpts.L2 = rc
		ready["redis"] = rc
	} else {
		appLog.Warn("REDIS_ADDR not set, keeping animations in memory")
	}

	var sink events.Sink = events.Nop{}
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(appLog, cfg.Events.Brokers, cfg.Events.Topic, 1024)
		if err != nil {
			appLog.Error("events publisher init failed", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("events publisher close", "err", err)
			}
		}()
		sink = pub
	}

	brand, err := stamps.NewBranding(cfg.BrandText, brandScale)
	if err != nil {
		appLog.Warn("branding disabled", "err", err)
		brand = nil
	}

	frames := tilecache.New(appLog, tc, cacheOpts)
	if cfg.Invalidation.Enabled {
		cons := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Invalidation.Topic,
			GroupID: cfg.Invalidation.GroupID,
		}, appLog, frames)
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	reg := render.DefaultRegistry()
	cdn := render.NewCDNRewriter(cfg.CDNAccounts...)
	anim := &animation.Animator{
		Logger:    appLog,
		Fetcher:   frames,
		Workers:   cfg.FrameWorkers,
		MaxFrames: cfg.MaxFrames,
		Brand:     brand,
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		metricsHandler = mp.Handler()
	}

	handler := server.NewHandler(appLog, router.Deps{
		PublicURL: cfg.PublicURL,
		StacURL:   cfg.StacURL,
		Renderer:  anim,
		Artifacts: artifact.New(kv, cfg.ArtifactTTL),
		Registry:  reg,
		Linker:    render.NewLinker(reg, cdn, cfg.Tiler.URL),
		CDN:       cdn,
		Events:    sink,
		Timeout:   cfg.AnimationTimeout,
	}, server.Options{
		Ready:       ready,
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
	})

	if err := server.Run(ctx, cfg, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
