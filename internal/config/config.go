package config

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/Knights-Who-Say-Node/reviews/internal/cache"
	pkgconfig "github.com/Knights-Who-Say-Node/reviews/pkg/config"
	"github.com/Knights-Who-Say-Node/reviews/pkg/database"
	"github.com/Knights-Who-Say-Node/reviews/pkg/middleware"
	"github.com/Knights-Who-Say-Node/reviews/pkg/tracing"
)

// ServiceName is reported in logs, metrics and traces.
const ServiceName = "reviews-service"

// Config holds all configuration for the reviews service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"3000"`

	// PostgreSQL
	PostgresHost     string `env:"DB_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"DB_PORT" envDefault:"5432"`
	PostgresUser     string `env:"DB_USER" envDefault:"reviews"`
	PostgresPass     string `env:"DB_PASSWORD" envDefault:"reviews_secret"`
	PostgresDB       string `env:"DB_NAME" envDefault:"reviews"`
	PostgresSSL      string `env:"DB_SSL_MODE" envDefault:"disable"`
	DBMaxConns       int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns       int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifeMin int    `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleMin int    `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`
	SlowQueryMS      int    `env:"LOG_SLOW_QUERY_MS" envDefault:"200"`

	// Redis
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Cache
	CacheTTLSeconds            int     `env:"CACHE_TTL_SECONDS" envDefault:"3600"`
	CacheBreakerFailureRatio   float64 `env:"CACHE_BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	CacheBreakerTimeoutSeconds int     `env:"CACHE_BREAKER_TIMEOUT_SECONDS" envDefault:"30"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Rate limiting; 0 RPS disables it
	RateLimitRPS      float64 `env:"RATE_LIMIT_RPS" envDefault:"0"`
	RateLimitBurst    int     `env:"RATE_LIMIT_BURST" envDefault:"0"`
	RateLimitTrustXFF bool    `env:"RATE_LIMIT_TRUST_PROXY" envDefault:"false"`

	// Access control
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	PprofAllowedCIDRs  []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	// Process model
	ClusterEnabled bool `env:"CLUSTER_ENABLED" envDefault:"false"`
	ClusterWorkers int  `env:"CLUSTER_WORKERS" envDefault:"0"`

	// WorkerID is set by the cluster supervisor on each worker process.
	WorkerID string `env:"REVIEWS_WORKER_ID" envDefault:""`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load reviews config: %w", err)
	}
	return finish(cfg)
}

// LoadFrom reads configuration from an explicit variable set.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadFrom(cfg, environ); err != nil {
		return nil, fmt.Errorf("load reviews config: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if cfg.ClusterWorkers <= 0 {
		cfg.ClusterWorkers = runtime.NumCPU()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	var errs []error
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port: %d", c.HTTPPort))
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 1 || c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) are inconsistent", c.DBMinConns, c.DBMaxConns))
	}
	if c.CacheTTLSeconds < 1 {
		errs = append(errs, fmt.Errorf("CACHE_TTL_SECONDS must be positive, got %d", c.CacheTTLSeconds))
	}
	if c.CacheBreakerFailureRatio <= 0 || c.CacheBreakerFailureRatio > 1 {
		errs = append(errs, fmt.Errorf("CACHE_BREAKER_FAILURE_RATIO must be in (0, 1], got %g", c.CacheBreakerFailureRatio))
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %g", c.OTELSampleRate))
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative"))
	}
	for _, cidr := range c.PprofAllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, fmt.Errorf("invalid PPROF_ALLOWED_CIDRS entry %q", cidr))
		}
	}
	return errors.Join(errs...)
}

// Postgres returns the pool configuration.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifeMin) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleMin) * time.Minute,
	}
}

// Redis returns the Redis client configuration.
func (c *Config) Redis() database.RedisConfig {
	rc := database.DefaultRedisConfig()
	rc.Host = c.RedisHost
	rc.Port = c.RedisPort
	rc.Password = c.RedisPass
	rc.DB = c.RedisDB
	return rc
}

// Cache returns the response cache configuration.
func (c *Config) Cache() cache.Config {
	b := cache.DefaultBreakerConfig()
	b.FailureRatio = c.CacheBreakerFailureRatio
	b.Timeout = time.Duration(c.CacheBreakerTimeoutSeconds) * time.Second
	return cache.Config{
		TTL:     time.Duration(c.CacheTTLSeconds) * time.Second,
		Breaker: b,
	}
}

// Tracing returns the OpenTelemetry configuration.
func (c *Config) Tracing() tracing.Config {
	tc := tracing.DefaultConfig(ServiceName)
	tc.Environment = c.Environment
	tc.InstanceID = c.WorkerID
	tc.OTLPEndpoint = c.OTELEndpoint
	tc.SampleRate = c.OTELSampleRate
	tc.Enabled = c.OTELEnabled
	return tc
}

// CORS returns the CORS middleware configuration.
func (c *Config) CORS() middleware.CORSConfig {
	cc := middleware.DefaultCORSConfig()
	cc.AllowedOrigins = c.CORSAllowedOrigins
	return cc
}

// RateLimit returns the rate limiter configuration and whether limiting is
// enabled.
func (c *Config) RateLimit() (middleware.RateLimitConfig, bool) {
	return middleware.RateLimitConfig{
		RPS:               c.RateLimitRPS,
		Burst:             c.RateLimitBurst,
		TrustProxyHeaders: c.RateLimitTrustXFF,
	}, c.RateLimitRPS > 0
}

// IsWorker reports whether this process was started by the cluster
// supervisor.
func (c *Config) IsWorker() bool {
	return c.WorkerID != ""
}
