package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Knights-Who-Say-Node/reviews/internal/cache"
	"github.com/Knights-Who-Say-Node/reviews/internal/config"
	"github.com/Knights-Who-Say-Node/reviews/internal/event"
	handler "github.com/Knights-Who-Say-Node/reviews/internal/handler/http"
	"github.com/Knights-Who-Say-Node/reviews/internal/repository/postgres"
	"github.com/Knights-Who-Say-Node/reviews/internal/service"
	"github.com/Knights-Who-Say-Node/reviews/migrations"
	"github.com/Knights-Who-Say-Node/reviews/pkg/database"
	"github.com/Knights-Who-Say-Node/reviews/pkg/health"
	pkgkafka "github.com/Knights-Who-Say-Node/reviews/pkg/kafka"
	"github.com/Knights-Who-Say-Node/reviews/pkg/middleware"
	"github.com/Knights-Who-Say-Node/reviews/pkg/tracing"
)

// App wires together all dependencies and runs the reviews service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	limiter        *middleware.RateLimiter
	shutdownTracer tracing.ShutdownFunc
	listener       net.Listener
	httpServer     *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		_ = shutdownTracer(context.Background())
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryMS)*time.Millisecond, logger)
	database.RegisterPoolMetrics(pool, config.ServiceName, workerLabel(cfg))

	// Run database migrations. Concurrent workers serialize on an advisory lock.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		_ = shutdownTracer(context.Background())
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Initialize Redis. The cache degrades to the database while Redis is
	// unreachable, so a failed ping is not fatal.
	rdb, err := database.NewRedisClient(ctx, cfg.Redis(), logger)
	if err != nil {
		logger.Warn("redis unavailable, serving uncached until it recovers",
			slog.String("addr", cfg.Redis().Addr()),
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("connected to Redis",
			slog.String("addr", cfg.Redis().Addr()),
			slog.Int("db", cfg.RedisDB),
		)
	}
	reviewCache := cache.New(rdb, cfg.Cache(), logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", reviewCache.Ping)

	// Initialize Kafka producer.
	var (
		producer  *pkgkafka.Producer
		publisher event.Publisher = event.NoopPublisher{}
	)
	if cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = event.NewProducer(producer, logger)
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	repo := postgres.NewReviewRepository(pool)
	reviewService := service.NewReviewService(repo, reviewCache, publisher, logger)

	var limiter *middleware.RateLimiter
	if rlCfg, enabled := cfg.RateLimit(); enabled {
		limiter = middleware.NewRateLimiter(rlCfg, logger)
	}

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		ServiceName: config.ServiceName,
		CORS:        cfg.CORS(),
		PprofCIDRs:  cfg.PprofAllowedCIDRs,
		RateLimiter: limiter,
	}, reviewService, healthHandler, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		rdb:            rdb,
		producer:       producer,
		limiter:        limiter,
		shutdownTracer: shutdownTracer,
		httpServer:     httpServer,
	}, nil
}

// UseListener makes Run serve on ln instead of binding HTTP_PORT. Cluster
// workers pass the socket inherited from the supervisor.
func (a *App) UseListener(ln net.Listener) {
	a.listener = ln
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	if a.limiter != nil {
		go a.limiter.Run(ctx)
	}

	go func() {
		var err error
		if a.listener != nil {
			a.logger.Info("starting HTTP server",
				slog.String("addr", a.listener.Addr().String()),
				slog.Bool("inherited", true),
			)
			err = a.httpServer.Serve(a.listener)
		} else {
			a.logger.Info("starting HTTP server",
				slog.String("addr", a.httpServer.Addr),
			)
			err = a.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	a.pool.Close()

	if err := a.shutdownTracer(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}

func workerLabel(cfg *config.Config) string {
	if cfg.WorkerID == "" {
		return "0"
	}
	return cfg.WorkerID
}
