package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coreybb/datapusher/api"
	"github.com/coreybb/datapusher/datastore"
	"github.com/coreybb/datapusher/delivery"
	rh "github.com/coreybb/datapusher/route-handlers"
	"github.com/coreybb/datapusher/webhooks"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	defaultPort        = "8080"
	defaultDatabaseURL = "user=postgres password=password dbname=datapusher host=localhost port=5432 sslmode=disable"
	dbPingTimeout      = 5 * time.Second
	redisPingTimeout   = 3 * time.Second
	shutdownTimeout    = 15 * time.Second
	dbMaxOpenConns     = 25
	dbMaxIdleConns     = 25
	dbConnMaxLifetime  = 5 * time.Minute
	limiterJanitorTick = 2 * time.Minute
	serviceName        = "datapusher"
)

type config struct {
	port               string
	dbDriver           string
	databaseURL        string
	autoMigrate        bool
	redisURL           string
	tokenCacheTTL      time.Duration
	forwardTimeout     time.Duration
	forwardConcurrency int
	dispatchTimeout    time.Duration
	otlpEndpoint       string
	rateLimitRPS       float64
	rateLimitBurst     int
	logLevel           slog.Level
}

func main() {
	cfg := loadConfig()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel})))

	db, err := setupDatabase(cfg.dbDriver, cfg.databaseURL)
	if err != nil {
		log.Fatalf("Database setup failed: %v", err)
	}
	defer db.Close()

	if cfg.autoMigrate {
		if err := datastore.Migrate(context.Background(), db, cfg.dbDriver); err != nil {
			log.Fatalf("Database migration failed: %v", err)
		}
	}

	accountRepo := datastore.NewAccountRepository(db)
	destinationRepo := datastore.NewDestinationRepository(db)

	// Token resolution goes through Redis when configured.
	var tokenLookup delivery.AccountLookup = accountRepo
	var tokenInvalidator rh.TokenInvalidator
	if cfg.redisURL != "" {
		rdb, err := setupRedis(cfg.redisURL)
		if err != nil {
			log.Fatalf("Redis setup failed: %v", err)
		}
		defer rdb.Close()

		cache := datastore.NewTokenCache(accountRepo, rdb, cfg.tokenCacheTTL)
		tokenLookup = cache
		tokenInvalidator = cache
	}

	shutdownTracing, err := setupTracing(context.Background(), cfg.otlpEndpoint)
	if err != nil {
		log.Fatalf("Tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("Tracer shutdown failed: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := delivery.NewMetrics(registry)

	deliveryService := delivery.NewDeliveryService(tokenLookup, destinationRepo,
		delivery.WithForwarder(delivery.NewHTTPForwarder(cfg.forwardTimeout)),
		delivery.WithMetrics(metrics),
		delivery.WithConcurrency(cfg.forwardConcurrency),
		delivery.WithDispatchTimeout(cfg.dispatchTimeout),
	)

	accountHandler := rh.NewAccountHandler(accountRepo, tokenInvalidator)
	destinationHandler := rh.NewDestinationHandler(destinationRepo, accountRepo)
	incomingDataHandler := webhooks.NewIncomingDataHandler(deliveryService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var limiter *api.TokenRateLimiter
	if cfg.rateLimitRPS > 0 {
		limiter = api.NewTokenRateLimiter(cfg.rateLimitRPS, cfg.rateLimitBurst)
		limiter.StartJanitor(ctx, limiterJanitorTick)
	}

	router := api.SetupRoutes(accountHandler, destinationHandler, incomingDataHandler, api.RouteOptions{
		RateLimiter:    limiter,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	startServer(cfg.port, router)
}

func loadConfig() config {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	driver := strings.ToLower(os.Getenv("DB_DRIVER"))
	if driver == "" {
		driver = datastore.DriverPostgres
	}

	dbURL := os.Getenv("DB_CONNECTION_STRING")
	if dbURL == "" {
		if driver == datastore.DriverSQLite {
			dbURL = "file:datapusher.db?_foreign_keys=on"
		} else {
			dbURL = defaultDatabaseURL
		}
		log.Println("WARNING: DB_CONNECTION_STRING not set, using default local connection string.")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		log.Println("REDIS_URL not set, token lookups will hit the database directly.")
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		log.Println("OTEL_EXPORTER_OTLP_ENDPOINT not set, traces are not exported.")
	}

	return config{
		port:               port,
		dbDriver:           driver,
		databaseURL:        dbURL,
		autoMigrate:        envBool("DB_AUTO_MIGRATE", false),
		redisURL:           redisURL,
		tokenCacheTTL:      envDuration("TOKEN_CACHE_TTL", datastore.DefaultTokenCacheTTL),
		forwardTimeout:     envDuration("FORWARD_TIMEOUT", delivery.DefaultForwardTimeout),
		forwardConcurrency: envInt("FORWARD_CONCURRENCY", delivery.DefaultConcurrency),
		dispatchTimeout:    envDuration("DISPATCH_TIMEOUT", delivery.DefaultDispatchTimeout),
		otlpEndpoint:       otlpEndpoint,
		rateLimitRPS:       envFloat("INCOMING_RATE_LIMIT_RPS", 0),
		rateLimitBurst:     envInt("INCOMING_RATE_LIMIT_BURST", 20),
		logLevel:           envLogLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("WARNING: invalid %s %q, using %d", key, raw, fallback)
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("WARNING: invalid %s %q, using %g", key, raw, fallback)
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("WARNING: invalid %s %q, using %s", key, raw, fallback)
		return fallback
	}
	return v
}

func envLogLevel(key string, fallback slog.Level) slog.Level {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		log.Printf("WARNING: invalid %s %q, using %s", key, raw, fallback)
		return fallback
	}
	return level
}

func setupDatabase(driver, connStr string) (*sql.DB, error) {
	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if driver == datastore.DriverSQLite {
		// SQLite serialises writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(dbMaxOpenConns)
		db.SetMaxIdleConns(dbMaxIdleConns)
		db.SetConnMaxLifetime(dbConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close() // Close unusable connection pool
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection successful (%s)", driver)
	return db, nil
}

// setupTracing installs a batching OTLP/HTTP tracer provider when an
// endpoint is configured. The exporter reads the remaining OTEL_EXPORTER_OTLP_*
// variables itself.
func setupTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(tp)

	log.Printf("Exporting traces to %s", endpoint)
	return tp.Shutdown, nil
}

func setupRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Println("Redis connection successful")
	return rdb, nil
}

func startServer(port string, router http.Handler) {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownSignal // Block until signal received
	log.Println("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}

	log.Println("Server gracefully stopped")
}
