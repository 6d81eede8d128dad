// Command stepflowd serves the onboarding engine over HTTP.
//
// Configuration comes from the environment (see internal/config); a .env
// file in the working directory is loaded first if present.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/stepflow/internal/config"
	"github.com/petrijr/stepflow/internal/coord"
	"github.com/petrijr/stepflow/internal/engine"
	"github.com/petrijr/stepflow/internal/persistence"
	"github.com/petrijr/stepflow/pkg/api"
	"github.com/petrijr/stepflow/pkg/httpapi"
	"github.com/petrijr/stepflow/pkg/metrics"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	observer := api.NewCompositeObserver(
		api.NewLoggingObserver(logger),
		metrics.NewPrometheusObserver(nil),
	)

	svc, cleanup, err := buildService(cfg, observer)
	if err != nil {
		logger.Error("failed to initialize backend", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := httpapi.NewHandler(svc)
	if !cfg.Production {
		handler = handler.WithErrorDetail()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterHealth(router)
	handler.RegisterRoutes(router.Group("/v1"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HandlerTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Addr, "backend", cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// buildService assembles the engine for the configured backend. The returned
// cleanup closes whatever connections were opened.
func buildService(cfg *config.Config, observer api.Observer) (api.Service, func(), error) {
	noop := func() {}

	ecfg := engine.Config{
		Observer: observer,
		Dedup: coord.NewDeduplicator(coord.NewInMemoryResultCache(),
			coord.DefaultCacheTTL, cfg.HandlerTimeout),
		Limiter: coord.NewWindowLimiter(cfg.RateLimit, cfg.RateWindow),
	}

	switch cfg.Backend {
	case config.BackendMemory:
		return engine.New(ecfg), noop, nil

	case config.BackendSQLite:
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		sessions, err := persistence.NewSQLiteSessionStore(db)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		locks, err := coord.NewSQLiteLockStore(db)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		ecfg.Sessions = sessions
		ecfg.Locks = locks
		return engine.New(ecfg), func() { db.Close() }, nil

	case config.BackendPostgres:
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		sessions, err := persistence.NewPostgresSessionStore(db)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		locks, err := coord.NewPostgresLockStore(db)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		ecfg.Sessions = sessions
		ecfg.Locks = locks
		return engine.New(ecfg), func() { db.Close() }, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		const prefix = "stepflow:"
		ecfg.Sessions = persistence.NewRedisSessionStore(client, prefix)
		ecfg.Locks = coord.NewRedisLockStore(client, prefix)
		ecfg.Dedup = coord.NewDeduplicator(coord.NewRedisResultCache(client, prefix),
			coord.DefaultCacheTTL, cfg.HandlerTimeout)
		ecfg.Limiter = coord.NewRedisRateLimiter(client, prefix, cfg.RateLimit, cfg.RateWindow)
		return engine.New(ecfg), func() { client.Close() }, nil

	case config.BackendMongo:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, noop, err
		}
		ecfg.Sessions = persistence.NewMongoSessionStore(client, cfg.MongoDB)
		return engine.New(ecfg), func() {
			_ = client.Disconnect(context.Background())
		}, nil
	}

	return nil, noop, errors.New("unreachable: config.Load validates the backend")
}
