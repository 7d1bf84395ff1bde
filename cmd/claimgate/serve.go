package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veridian-labs/claimgate/pkg/api"
	"github.com/veridian-labs/claimgate/pkg/audit"
	"github.com/veridian-labs/claimgate/pkg/config"
	"github.com/veridian-labs/claimgate/pkg/engine"
	"github.com/veridian-labs/claimgate/pkg/graph"
	"github.com/veridian-labs/claimgate/pkg/ledger"
	"github.com/veridian-labs/claimgate/pkg/observability"
	"github.com/veridian-labs/claimgate/pkg/outbox"
	"github.com/veridian-labs/claimgate/pkg/policy"
	"github.com/veridian-labs/claimgate/pkg/revert"
	"github.com/veridian-labs/claimgate/pkg/review"
	"github.com/veridian-labs/claimgate/pkg/scheduler"
	"github.com/veridian-labs/claimgate/pkg/store"
	"github.com/veridian-labs/claimgate/pkg/vector"
)

//nolint:gocognit // top-level wiring
func runServer() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry first so everything below traces into it.
	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Insecure = true
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		log.Fatalf("observability init failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	// Durable stores.
	db, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("database open failed: %v", err)
	}
	defer func() { _ = db.Close() }()
	logger.Info("database connected", "driver", cfg.DBDriver)

	led := ledger.New().WithStore(store.NewSQLCommitStore(db))
	if err := led.Load(ctx); err != nil {
		log.Fatalf("ledger replay failed: %v", err)
	}
	if err := led.Verify(); err != nil {
		log.Fatalf("ledger chain verification failed: %v", err)
	}
	logger.Info("ledger replayed", "commits", led.Len(), "head", led.Head())

	ob := store.NewSQLOutboxStore(db)

	// Policy. The gateway refuses to start without a valid document; after
	// that, failed reloads keep the last good snapshot.
	table := policy.NewTable(nil)
	loader := policy.NewLoader(cfg.PolicyPath, table)
	if err := loader.Load(); err != nil {
		log.Fatalf("policy load failed: %v", err)
	}

	auditLog := audit.NewLogger()

	// Decision engine. Redis-backed limiter and review queue when configured,
	// single-instance fallbacks otherwise.
	eng := engine.New(table, led, ob).WithAudit(auditLog).WithLogger(logger).WithMetrics(obs)
	var reviewQueue review.Queue
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping failed: %v", err)
		}
		eng.WithLimiter(engine.NewRedisLimiter(rdb))
		reviewQueue = review.NewRedis(rdb)
		logger.Info("redis connected", "addr", cfg.RedisAddr)
	} else {
		limiter := engine.NewMemoryLimiter()
		table.OnReload(func(*policy.Snapshot) { limiter.Reset() })
		eng.WithLimiter(limiter)
		reviewQueue = review.NewMemory()
	}

	rev := revert.New(led, table, ob, eng.Locks()).WithAudit(auditLog).WithLogger(logger)

	// Collaborators behind the outbox.
	graphStore := graph.NewClient(cfg.GraphURL, cfg.GraphAPIKey)
	var vectorIndex vector.Index = vector.Noop{}
	if cfg.WeaviateURL != "" {
		wv, err := vector.NewWeaviate(cfg.WeaviateURL)
		if err != nil {
			log.Fatalf("weaviate client failed: %v", err)
		}
		vectorIndex = wv
	}

	router := &engine.Router{
		Graph:  graphStore,
		Vector: vectorIndex,
		Review: reviewQueue,
		Ledger: led,
	}
	worker := outbox.NewWorker(ob, router, logger).WithInterval(cfg.OutboxPollInterval).WithMetrics(obs)
	go worker.Run(ctx)

	sched := scheduler.New(eng, rev, graphStore, table).
		WithIntervals(cfg.PromoteInterval, 10*cfg.PromoteInterval).
		WithLogger(logger)
	go sched.Run(ctx)

	// HTTP surface. Auth fails closed: with no credential configured every
	// request except /healthz is rejected.
	if cfg.APIKey == "" && cfg.JWTSecret == "" {
		logger.Warn("no CLAIMGATE_API_KEY or CLAIMGATE_JWT_SECRET configured, all requests will be rejected")
	}
	server := &api.Server{
		Engine: eng,
		Revert: rev,
		Ledger: led,
		Table:  table,
		Loader: loader,
		Review: reviewQueue,
		Audit:  auditLog,
		Logger: logger,
	}
	handler := api.Chain(server.Routes(),
		api.RequestID,
		api.RequestLogger(logger),
		api.NewGlobalRateLimiter(cfg.HTTPRatePerSec, cfg.HTTPBurst).Middleware,
		api.Auth(cfg.APIKey, cfg.JWTSecret),
		api.IdempotencyMiddleware(api.NewIdempotencyStore(10*time.Minute)),
	)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
