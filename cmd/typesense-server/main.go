package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voldyman/typesense/internal/analytics"
	"github.com/voldyman/typesense/internal/collection"
	"github.com/voldyman/typesense/internal/replication"
	"github.com/voldyman/typesense/internal/search/cache"
	"github.com/voldyman/typesense/internal/store"
	"github.com/voldyman/typesense/pkg/config"
	"github.com/voldyman/typesense/pkg/health"
	"github.com/voldyman/typesense/pkg/logger"
	"github.com/voldyman/typesense/pkg/metrics"
	pkgredis "github.com/voldyman/typesense/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting typesense server",
		"port", cfg.Server.Port,
		"data_dir", cfg.Store.DataDir,
		"node_id", cfg.Raft.NodeID,
	)

	m := metrics.New()

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	manager, err := collection.NewManager(st)
	if err != nil {
		slog.Error("failed to load collections", "error", err)
		os.Exit(1)
	}
	defer manager.Close()

	node, err := replication.Start(cfg.Raft, manager, st)
	if err != nil {
		slog.Error("failed to start replication", "error", err)
		os.Exit(1)
	}
	defer node.Shutdown()

	if err := node.WaitForLeader(30 * time.Second); err != nil {
		slog.Warn("no leader elected yet, continuing as follower", "error", err)
	}

	var queryCache *cache.QueryCache
	if cfg.Redis.Addr != "" {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search cache disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis)
		}
	}

	publisher := analytics.NewPublisher(cfg.Kafka)
	defer publisher.Close()

	aggregator := analytics.NewAggregator()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Analytics.Enabled {
		go startAnalyticsFlush(ctx, cfg, aggregator, m)
	}

	checker := health.NewChecker()
	checker.Register("store", func(ctx context.Context) health.ComponentHealth {
		if _, _, err := st.Get("$health"); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("replication", func(ctx context.Context) health.ComponentHealth {
		if node.LeaderAddr() == "" {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no leader"}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	api := newAPIServer(manager, node, queryCache, publisher, aggregator, m)
	mux := http.NewServeMux()
	api.register(mux)
	mux.HandleFunc("/health", checker.Handler())

	if cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			slog.Info("metrics server listening", "addr", addr)
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(addr, metricsMux); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("api server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}

func startAnalyticsFlush(ctx context.Context, cfg *config.Config, aggregator *analytics.Aggregator, m *metrics.Metrics) {
	pg, err := newAnalyticsStore(cfg)
	if err != nil {
		slog.Warn("analytics store unavailable, aggregation disabled", "error", err)
		return
	}
	aggregator.RunFlushLoop(ctx, cfg.Analytics.FlushInterval, func(ctx context.Context, stats analytics.AggregatedStats) error {
		err := pg.SaveSnapshot(ctx, stats)
		if err != nil {
			m.AnalyticsFlushTotal.WithLabelValues("error").Inc()
			return err
		}
		m.AnalyticsFlushTotal.WithLabelValues("ok").Inc()
		return nil
	})
}
