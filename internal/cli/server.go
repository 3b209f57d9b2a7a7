package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classroom-live/internal/app"
	"classroom-live/internal/config"
	"classroom-live/internal/infra/memory"
	mongostore "classroom-live/internal/infra/mongo"
	"classroom-live/internal/infra/postgres"
	redisstore "classroom-live/internal/infra/redis"
	"classroom-live/internal/logging"
	transport "classroom-live/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the classroom server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.Init(cfg.Log.Level, cfg.Log.Format)
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	deps, cleanup, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	classroom := app.NewClassroom(deps)
	handler := transport.NewRouter(classroom, cfg.Server.AllowedOrigins, logger)

	// WriteTimeout stays unset: websocket connections outlive any per-request bound.
	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting classroom service", "port", finalPort, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server...")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildDeps connects the configured backends. The returned cleanup closes them.
func buildDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (app.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (app.Deps, func(), error) {
		cleanup()
		return app.Deps{}, func() {}, err
	}

	deps := app.Deps{
		Logger:           logger,
		LeaderboardLimit: cfg.Quiz.LeaderboardLimit,
		Scoring:          app.Scoring{Correct: cfg.Quiz.Scoring.Correct, Attempt: cfg.Quiz.Scoring.Attempt},
		QuizOptions:      app.QuizOptions{AnnounceLock: cfg.Quiz.AnnounceLock},
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 12*time.Hour)

	// Sessions live in Postgres when it is configured, regardless of the quiz driver.
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return fail(err)
		}
		db := postgres.OpenBun(cfg.Postgres.URL)
		closers = append(closers, func() { _ = db.Close() })
		deps.Sessions = postgres.NewSessionStore(db)
	} else {
		deps.Sessions = memory.NewSessionStore()
	}

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		deps.Quiz = memory.NewQuizStore()
	case config.DriverRedis:
		if redisClient == nil {
			return fail(fmt.Errorf("storage driver redis needs redis.addr"))
		}
		deps.Quiz = redisstore.NewQuizStore(redisClient, redisTTL)
	case config.DriverPostgres:
		if cfg.Postgres.URL == "" {
			return fail(fmt.Errorf("storage driver postgres needs postgres.url"))
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, pool.Close)
		deps.Quiz = postgres.NewQuizStore(pool)
	case config.DriverMongo:
		if cfg.Mongo.URI == "" {
			return fail(fmt.Errorf("storage driver mongo needs mongo.uri"))
		}
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = client.Disconnect(context.Background()) })
		store := mongostore.NewQuizStore(client, cfg.Mongo.Database)
		if err := store.EnsureIndexes(ctx); err != nil {
			return fail(err)
		}
		deps.Quiz = store
	default:
		return fail(fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver))
	}

	cacheTTL := config.TTLDuration(cfg.Sessions.CacheTTL, 30*time.Second)
	if redisClient != nil {
		cache := redisstore.NewSessionCache(redisClient, deps.Sessions, cacheTTL)
		deps.Directory = cache
		deps.Tracker = cache
	} else {
		deps.Directory = memory.NewSessionCache(deps.Sessions, cacheTTL)
	}
	return deps, cleanup, nil
}
