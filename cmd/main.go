/**
 * @description
 * This is the main entry point for the tool-service. It loads configuration, connects
 * the credential store and the market-data warehouse, builds the validation, rate
 * limiting and usage pipeline around the tool registry, and serves the REST and
 * JSON-RPC transports until it receives a shutdown signal.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver for the credential store and warehouse.
 * - github.com/redis/go-redis/v9: Shared rate limit windows across replicas.
 * - github.com/joho/godotenv: Loads .env into the process environment.
 * - internal/api, internal/app, internal/config, internal/store, internal/tools.
 * - pkg/rabbitmq, pkg/objectstore, pkg/searchclient: Event bus and tool backends.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gammarips/tool-service/internal/api"
	"github.com/gammarips/tool-service/internal/app"
	"github.com/gammarips/tool-service/internal/config"
	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/internal/store"
	"github.com/gammarips/tool-service/internal/tools"
	"github.com/gammarips/tool-service/pkg/middleware"
	"github.com/gammarips/tool-service/pkg/objectstore"
	rmrabbit "github.com/gammarips/tool-service/pkg/rabbitmq"
	"github.com/gammarips/tool-service/pkg/searchclient"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// PORT is read straight from the environment, so .env has to land there too.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("level=warn component=bootstrap msg=\".env load failed\" err=%v", err)
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	authMode, err := app.ParseAuthMode(cfg.AuthMode)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid auth mode\" err=%v", err)
	}
	if authMode == app.AuthModeRequired && strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured when auth is required\" env=DATABASE_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting tool-service\" port=%s auth_mode=%s", cfg.ServerPort, authMode)

	var dbpool *pgxpool.Pool
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		dbpool = mustPool(cfg.DatabaseURL, 50, 5)
		defer dbpool.Close()
		log.Println("level=info component=bootstrap msg=\"database connected\"")
	}

	// The warehouse never borrows the credential pool: run_price_query must not be able
	// to reach the subscribers table.
	var warehousePool *pgxpool.Pool
	if cfg.WarehouseDatabaseURL != "" {
		warehousePool = mustPool(cfg.WarehouseDatabaseURL, 20, 2)
		defer warehousePool.Close()
		log.Println("level=info component=bootstrap msg=\"warehouse connected\"")
	} else {
		log.Println("level=warn component=bootstrap msg=\"warehouse not configured; dashboard tools disabled\" env=WAREHOUSE_DATABASE_URL")
	}

	var producer rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		producer = rabbitProducer
		defer rabbitProducer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	var credentials store.CredentialStore
	var repository *store.PostgresRepository
	if dbpool != nil {
		repository = store.NewPostgresRepository(dbpool)
		credentials = repository
	}
	cache := app.NewCredentialCache(credentials, cfg.CredentialCacheTTL)
	validator := app.NewKeyValidator(cache, authMode)

	limits := app.RateLimits{
		GlobalPerMinute: cfg.RateLimitGlobalPerMinute,
		PerTier: map[domain.Tier]int{
			domain.TierPro:   cfg.RateLimitProPerMinute,
			domain.TierTrial: cfg.RateLimitTrialPerMinute,
			domain.TierFree:  cfg.RateLimitFreePerMinute,
		},
	}
	windows, memoryWindows, closeRedis := windowStore(cfg)
	defer closeRedis()
	limiter := app.NewRateLimiter(windows, limits)

	var recorder *app.UsageRecorder
	var usageSink app.UsageSink
	if repository != nil {
		recorder = app.NewUsageRecorder(repository, producer, cfg.UsageQueueSize)
		usageSink = recorder
	}

	registry := tools.NewRegistry(cfg.ToolTimeout)
	var deps tools.Deps
	if warehousePool != nil {
		deps.Warehouse = store.NewWarehouseRepository(warehousePool, store.WarehouseTables{
			WinnersDashboard:   cfg.TableWinners,
			PerformanceTracker: cfg.TablePerformance,
			CalendarEvents:     cfg.TableCalendar,
			OptionsChain:       cfg.TableOptionsChain,
			PriceData:          cfg.TablePriceData,
		}, cfg.WarehouseTimeout).WithQueryRole(cfg.WarehouseQueryRole)
		deps.PriceTable = cfg.TablePriceData
	}
	if cfg.ObjectStoreBaseURL != "" && cfg.ObjectStoreBucket != "" {
		deps.Analysis = objectstore.NewClient(cfg.ObjectStoreBaseURL, cfg.ObjectStoreBucket, cfg.ObjectStoreToken)
	} else {
		log.Println("level=warn component=bootstrap msg=\"object store not configured; analysis tools disabled\" env=OBJECTSTORE_BASE_URL,OBJECTSTORE_BUCKET")
	}
	if search := searchclient.NewClient(cfg.SearchBaseURL, cfg.GoogleAPIKey, cfg.GoogleSearchCX); search.Configured() {
		deps.Search = search
	} else {
		log.Println("level=warn component=bootstrap msg=\"search not configured; web_search disabled\" env=GOOGLE_API_KEY,GOOGLE_CSE_ID")
	}
	if err := tools.RegisterCatalog(registry, deps); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"tool registration failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"tools registered\" count=%d", registry.Len())

	dispatcher := app.NewDispatcher(validator, limiter, registry, usageSink)

	var rotator api.KeyRotator
	var accountAuth func(http.Handler) http.Handler
	if repository != nil && strings.TrimSpace(cfg.ClerkJWKSURL) != "" {
		rotator = app.NewKeyRotator(repository, cache, producer)
		accountAuth = api.ClerkAuthMiddleware(api.NewJWKSClient(cfg.ClerkJWKSURL), cfg.ClerkIssuer)
	} else {
		log.Println("level=warn component=bootstrap msg=\"clerk not configured; api key regeneration disabled\" env=CLERK_JWKS_URL")
	}

	handlers := api.NewToolHandlers(dispatcher, registry, rotator, api.DefaultServerInfo, authMode)
	router := api.Routes(handlers, api.RouterOptions{
		AccountAuth:       accountAuth,
		AllowedOrigins:    cfg.CORSOrigins,
		RequestTimeout:    cfg.ToolTimeout + 10*time.Second,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	// Other replicas announce key rotations and entitlement changes on the bus. Without
	// it, cached credentials only go stale for one cache TTL.
	if rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; relying on cache ttl\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		subscriberConsumer := app.NewSubscriberEventConsumer(cache)
		if err := rabbitConsumer.ConsumeWithBindings(domain.EventsExchange, cfg.SubscriberEventQueue, subscriberConsumer.Bindings()); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"subscriber event consumer start failed\" err=%v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	jobs := &app.Jobs{
		Windows:   memoryWindows,
		Retention: cfg.UsageRetention,
		Logger:    logger,
	}
	if repository != nil {
		jobs.Usage = repository
	}
	scheduler := app.NewScheduler(jobs, logger, app.Schedules{
		WindowSweep:    cfg.WindowSweepSchedule,
		UsageRetention: cfg.UsageRetentionSchedule,
	})
	scheduler.Start()

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()

	if recorder != nil {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), cfg.UsageShutdownTimeout)
		defer cancelFlush()
		if err := recorder.Close(flushCtx); err != nil {
			log.Printf("level=warn component=usage msg=\"usage flush incomplete\" err=%v", err)
		}
		stats := recorder.Stats()
		log.Printf("level=info component=usage msg=\"usage recorder closed\" written=%d dropped=%d failed=%d", stats.Written, stats.Dropped, stats.Failed)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

func mustPool(url string, maxConns, minConns int32) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = minConns
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Poolers in front of the warehouse reject prepared statements.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	return pool
}

// windowStore picks Redis when it is reachable and falls back to process-local
// windows. The memory store is returned separately so the sweeper can reach it.
func windowStore(cfg config.Config) (app.WindowStore, *app.MemoryWindowStore, func()) {
	memory := app.NewMemoryWindowStore(middleware.NewFixedWindowCounter(0))
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limits are per replica\" env=REDIS_URL")
		return memory, memory, func() {}
	}

	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limits are per replica\" err=%v", err)
		return memory, memory, func() {}
	}
	redisClient := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limits are per replica\" err=%v", err)
		redisClient.Close()
		return memory, memory, func() {}
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return app.NewRedisWindowStore(redisClient, cfg.RedisRateLimitPrefix), nil, func() { redisClient.Close() }
}
