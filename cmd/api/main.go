package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/adapters/cache"
	"github.com/zatekoja/keywordclusters/internal/adapters/database"
	"github.com/zatekoja/keywordclusters/internal/adapters/events"
	"github.com/zatekoja/keywordclusters/internal/adapters/locks"
	"github.com/zatekoja/keywordclusters/internal/adapters/search"
	"github.com/zatekoja/keywordclusters/internal/api/handlers"
	"github.com/zatekoja/keywordclusters/internal/api/routes"
	"github.com/zatekoja/keywordclusters/internal/application/services"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
	"github.com/zatekoja/keywordclusters/internal/graphql/resolvers"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/clients/redis"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/clients/typesense"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/observability"
	queryadapters "github.com/zatekoja/keywordclusters/internal/query/adapters"
	"github.com/zatekoja/keywordclusters/internal/query/loaders"
	queryservices "github.com/zatekoja/keywordclusters/internal/query/services"
	"github.com/zatekoja/keywordclusters/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.App.Environment, cfg.App.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		} else {
			observability.EnableOTelLogExport()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("Error shutting down OpenTelemetry")
				}
			}()
			log.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metrics")
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()
	pgClient.SetMetrics(metrics)

	if cfg.Database.Migrate {
		if err := pgClient.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply database schema")
		}
	}

	// Redis backs the cache, the event bus and the cross-process site lock.
	// Without it the service runs on in-process equivalents and no cache.
	var (
		cacheProvider providers.CacheProvider
		eventBus      providers.EventBus
		siteLocker    providers.SiteLocker
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, using in-process locks and events without cache")
		} else {
			defer redisClient.Close()
			cacheProvider = cache.NewRedisAdapter(redisClient)
			eventBus = events.NewRedisEventBus(redisClient)
			siteLocker = locks.NewRedisSiteLocker(redisClient)
			log.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("Redis client initialized")
		}
	}
	if eventBus == nil {
		eventBus = events.NewMemoryEventBus()
	}
	if siteLocker == nil {
		siteLocker = locks.NewLocalSiteLocker()
	}

	var searchIndex providers.ClusterSearchIndex
	if cfg.Typesense.URL != "" {
		typesenseClient, err := typesense.NewClient(&cfg.Typesense)
		if err != nil {
			log.Warn().Err(err).Msg("Typesense unavailable, cluster search uses the database")
		} else if err := typesenseClient.InitSchema(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to init Typesense schema, cluster search uses the database")
		} else {
			searchIndex = search.NewTypesenseClusterIndex(typesenseClient)
		}
	}

	keywordAdapter := database.NewKeywordAdapter(pgClient)
	clusterAdapter := database.NewClusterAdapter(pgClient)
	contentAdapter := database.NewContentAdapter(pgClient)
	coverageAdapter := database.NewContentCoverageAdapter(pgClient)
	analyticsAdapter := database.NewAnalyticsAdapter(pgClient)
	jobAdapter := database.NewClusteringJobAdapter(pgClient)

	builder := services.NewClusterBuilderService(keywordAdapter, clusterAdapter, services.ClusterBuilderConfig{
		DefaultMinSimilarity: cfg.Clustering.MinSimilarity,
		Strategy:             cfg.Clustering.Strategy,
		MaxComparisons:       cfg.Clustering.MaxComparisons,
		MaxDuration:          cfg.Clustering.MaxDuration,
	})

	coverageService := services.NewCoverageService(keywordAdapter, clusterAdapter, contentAdapter, coverageAdapter, services.CoverageConfig{
		Workers:       cfg.Coverage.Workers,
		RetryAttempts: cfg.Coverage.RetryAttempts,
		RetryDelay:    cfg.Coverage.RetryDelay,
	})
	coverageService.SetMetrics(metrics)

	windowDays, weights, targets := services.PerformanceSettingsFromConfig(cfg.Performance)
	performanceService := services.NewPerformanceService(contentAdapter, analyticsAdapter, windowDays, weights, targets)
	performanceService.SetRetry(cfg.Performance.RetryAttempts, cfg.Performance.RetryDelay)

	jobService := services.NewClusteringJobService(jobAdapter, keywordAdapter, builder, coverageService, siteLocker, services.ClusteringJobConfig{
		DefaultMinSimilarity: cfg.Clustering.MinSimilarity,
		MaxConcurrentRuns:    cfg.Clustering.MaxConcurrentRuns,
		LockTTL:              cfg.Clustering.LockTTL,
	})
	jobService.SetEventBus(eventBus)
	jobService.SetMetrics(metrics)
	if searchIndex != nil {
		jobService.SetSearchIndex(searchIndex)
	}
	if _, err := jobService.FailStaleJobs(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to sweep stale jobs")
	}

	var queryCache queryservices.QueryCacheProvider
	var cacheInvalidationService *services.CacheInvalidationService
	if cacheProvider != nil {
		queryCache = queryadapters.NewQueryCacheAdapter(cacheProvider)
		cacheInvalidationService = services.NewCacheInvalidationService(cacheProvider, eventBus)
		if err := cacheInvalidationService.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start cache invalidation service")
			cacheInvalidationService = nil
			queryCache = nil
		}
	}

	queryService := queryservices.NewClusterQueryService(clusterAdapter, coverageAdapter, queryCache, searchIndex)
	queryService.SetMetrics(metrics)
	if cacheInvalidationService != nil {
		cacheInvalidationService.SetWarmer(services.NewCacheWarmingService(queryService, 10*time.Second))
	}

	router := routes.NewRouter(
		handlers.NewClusteringHandler(jobService, queryService),
		handlers.NewContentHandler(contentAdapter, coverageService, performanceService),
		handlers.NewClusterEventsHandler(eventBus),
		loaders.Middleware(clusterAdapter, coverageAdapter)(
			resolvers.NewServer(resolvers.NewResolver(queryService, jobService, clusterAdapter, coverageAdapter)),
		),
		metrics,
		cfg.Server.AllowedOrigins,
	)

	// cancelled when shutdown starts so open event streams return
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelBase)

	go func() {
		log.Info().Str("addr", serverAddr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during server shutdown")
	}

	// runs publish events, so they stop before the bus closes
	if err := jobService.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Background runs did not finish before shutdown")
	}

	if cacheInvalidationService != nil {
		cacheInvalidationService.Stop()
	}

	if err := eventBus.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing event bus")
	}

	log.Info().Msg("Server stopped")
}
