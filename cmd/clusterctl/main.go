package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/adapters/database"
	"github.com/zatekoja/keywordclusters/internal/adapters/events"
	"github.com/zatekoja/keywordclusters/internal/adapters/locks"
	"github.com/zatekoja/keywordclusters/internal/adapters/search"
	"github.com/zatekoja/keywordclusters/internal/application/services"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/clients/redis"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/clients/typesense"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/observability"
	"github.com/zatekoja/keywordclusters/pkg/config"
)

func main() {
	var userID string
	var siteURL string
	var minSimilarity float64
	var coverageOnly bool
	var performanceWindow int
	var contentID string
	var reindex bool

	flag.StringVar(&userID, "user", "", "User ID that owns the site")
	flag.StringVar(&siteURL, "site", "", "Site URL to process")
	flag.Float64Var(&minSimilarity, "min-similarity", 0, "Clustering threshold in (0,1]; 0 uses the configured default")
	flag.BoolVar(&coverageOnly, "coverage-only", false, "Recompute coverage against the stored clusters")
	flag.IntVar(&performanceWindow, "performance-window", 0, "Refresh performance scores over this many days instead of clustering")
	flag.StringVar(&contentID, "content", "", "Recompute coverage for a single content item")
	flag.BoolVar(&reindex, "reindex", false, "Rebuild the site's search index from the stored clusters")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger("clusterctl", cfg.App.Environment, cfg.App.LogLevel)

	if contentID == "" && (userID == "" || siteURL == "") {
		flag.Usage()
		os.Exit(2)
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pgClient.Close()

	keywordRepo := database.NewKeywordAdapter(pgClient)
	clusterRepo := database.NewClusterAdapter(pgClient)
	contentRepo := database.NewContentAdapter(pgClient)
	coverageRepo := database.NewContentCoverageAdapter(pgClient)

	coverageService := services.NewCoverageService(keywordRepo, clusterRepo, contentRepo, coverageRepo, services.CoverageConfig{
		Workers:       cfg.Coverage.Workers,
		RetryAttempts: cfg.Coverage.RetryAttempts,
		RetryDelay:    cfg.Coverage.RetryDelay,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()

	switch {
	case contentID != "":
		n, err := coverageService.RecomputeContent(ctx, contentID)
		if err != nil {
			log.Fatal().Err(err).Str("content_id", contentID).Msg("Coverage recompute failed")
		}
		log.Info().Str("content_id", contentID).Int("mappings", n).Dur("elapsed", time.Since(start)).Msg("Coverage recomputed")

	case reindex:
		index := newSearchIndex(ctx, cfg)
		if index == nil {
			log.Fatal().Msg("Reindex requires a reachable Typesense (TYPESENSE_URL)")
		}
		count, err := reindexSite(ctx, clusterRepo, index, userID, siteURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Reindex failed")
		}
		log.Info().Int("clusters", count).Dur("elapsed", time.Since(start)).Msg("Reindex complete")

	case performanceWindow > 0:
		_, weights, targets := services.PerformanceSettingsFromConfig(cfg.Performance)
		performanceService := services.NewPerformanceService(contentRepo, database.NewAnalyticsAdapter(pgClient), performanceWindow, weights, targets)
		performanceService.SetRetry(cfg.Performance.RetryAttempts, cfg.Performance.RetryDelay)
		summary, err := performanceService.RefreshSite(ctx, userID, siteURL, performanceWindow)
		if err != nil {
			log.Fatal().Err(err).Msg("Performance refresh failed")
		}
		log.Info().
			Int("content_items", summary.ContentItems).
			Int("updated", summary.Updated).
			Int("skipped", summary.Skipped).
			Dur("elapsed", time.Since(start)).
			Msg("Performance refresh complete")

	default:
		jobService := newJobService(ctx, cfg, pgClient, keywordRepo, clusterRepo, coverageService)

		var job *entities.ClusteringJob
		if coverageOnly {
			job, err = jobService.RunCoverage(ctx, userID, siteURL)
		} else {
			job, err = jobService.RunClustering(ctx, userID, siteURL, minSimilarity)
		}
		if err != nil {
			ev := log.Fatal().Err(err)
			if job != nil {
				ev = ev.Str("job_id", job.ID)
			}
			ev.Msg("Run failed")
		}
		log.Info().
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Int("clusters", job.ClusterCount).
			Int("keywords", job.KeywordCount).
			Dur("elapsed", time.Since(start)).
			Msg("Run complete")
	}
}

// newJobService wires the run path the API uses, so CLI runs share its job
// records and, when Redis is reachable, its site lock and events.
func newJobService(
	ctx context.Context,
	cfg *config.Config,
	pgClient *postgres.Client,
	keywordRepo repositories.KeywordRepository,
	clusterRepo repositories.ClusterRepository,
	coverage *services.CoverageService,
) *services.ClusteringJobService {
	var locker providers.SiteLocker = locks.NewLocalSiteLocker()
	var bus providers.EventBus
	if cfg.Redis.Enabled {
		if redisClient, err := redis.NewClient(&cfg.Redis); err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, running with a local lock")
		} else {
			locker = locks.NewRedisSiteLocker(redisClient)
			bus = events.NewRedisEventBus(redisClient)
		}
	}

	builder := services.NewClusterBuilderService(keywordRepo, clusterRepo, services.ClusterBuilderConfig{
		DefaultMinSimilarity: cfg.Clustering.MinSimilarity,
		Strategy:             cfg.Clustering.Strategy,
		MaxComparisons:       cfg.Clustering.MaxComparisons,
		MaxDuration:          cfg.Clustering.MaxDuration,
	})
	jobService := services.NewClusteringJobService(database.NewClusteringJobAdapter(pgClient), keywordRepo, builder, coverage, locker, services.ClusteringJobConfig{
		DefaultMinSimilarity: cfg.Clustering.MinSimilarity,
		MaxConcurrentRuns:    1,
		LockTTL:              cfg.Clustering.LockTTL,
	})
	if bus != nil {
		jobService.SetEventBus(bus)
	}
	if index := newSearchIndex(ctx, cfg); index != nil {
		jobService.SetSearchIndex(index)
	}
	return jobService
}

func newSearchIndex(ctx context.Context, cfg *config.Config) providers.ClusterSearchIndex {
	if cfg.Typesense.URL == "" {
		return nil
	}
	client, err := typesense.NewClient(&cfg.Typesense)
	if err != nil {
		log.Warn().Err(err).Msg("Typesense unavailable, skipping indexing")
		return nil
	}
	if err := client.InitSchema(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to init Typesense schema, skipping indexing")
		return nil
	}
	return search.NewTypesenseClusterIndex(client)
}

// reindexSite pushes the stored generation of a site to the search index.
func reindexSite(ctx context.Context, clusterRepo repositories.ClusterRepository, index providers.ClusterSearchIndex, userID, siteURL string) (int, error) {
	clusters, err := clusterRepo.ListForSite(ctx, userID, siteURL)
	if err != nil {
		return 0, err
	}
	ids := make([]string, len(clusters))
	for i, c := range clusters {
		ids[i] = c.ID
	}
	memberships, err := clusterRepo.ListMemberships(ctx, ids)
	if err != nil {
		return 0, err
	}
	for _, c := range clusters {
		c.Memberships = memberships[c.ID]
	}
	if err := index.IndexSite(ctx, userID, siteURL, clusters); err != nil {
		return 0, err
	}
	return len(clusters), nil
}
