package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/observability"
	"github.com/zatekoja/keywordclusters/internal/query/loaders"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
	"github.com/zatekoja/keywordclusters/pkg/similarity"
)

const (
	clusterViewsTTL    = 5 * time.Minute
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	cacheMetricPrefix  = "clusters"
)

// QueryCacheProvider interface for caching in query services
type QueryCacheProvider interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ClusterQueryService serves read-only cluster views and search.
type ClusterQueryService struct {
	clusterRepo  repositories.ClusterRepository
	coverageRepo repositories.ContentCoverageRepository
	cache        QueryCacheProvider
	searchIndex  providers.ClusterSearchIndex
	metrics      *observability.Metrics
}

// NewClusterQueryService creates a new cluster query service. cache and
// searchIndex may be nil.
func NewClusterQueryService(
	clusterRepo repositories.ClusterRepository,
	coverageRepo repositories.ContentCoverageRepository,
	cache QueryCacheProvider,
	searchIndex providers.ClusterSearchIndex,
) *ClusterQueryService {
	return &ClusterQueryService{
		clusterRepo:  clusterRepo,
		coverageRepo: coverageRepo,
		cache:        cache,
		searchIndex:  searchIndex,
	}
}

// SetMetrics enables cache hit/miss counters.
func (s *ClusterQueryService) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// GetClusters returns every cluster of the site with its members and
// coverage rows.
func (s *ClusterQueryService) GetClusters(ctx context.Context, userID, siteURL string) ([]*entities.ClusterView, error) {
	if strings.TrimSpace(siteURL) == "" {
		return nil, apperrors.NewValidationError("site_url is required")
	}

	cacheKey := providers.ClusterCacheKey(userID, siteURL, "views")
	var cached []*entities.ClusterView
	if s.readCache(ctx, cacheKey, &cached) {
		return cached, nil
	}

	ctx, span := observability.StartSpan(ctx, "ClusterQueryService.GetClusters")
	defer span.End()

	clusters, err := s.clusterRepo.ListForSite(ctx, userID, siteURL)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	views, err := s.buildViews(ctx, clusters)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	s.writeCache(ctx, cacheKey, views)
	return views, nil
}

// ListClusters returns the site's clusters without members or coverage.
func (s *ClusterQueryService) ListClusters(ctx context.Context, userID, siteURL string) ([]*entities.Cluster, error) {
	if strings.TrimSpace(siteURL) == "" {
		return nil, apperrors.NewValidationError("site_url is required")
	}
	return s.clusterRepo.ListForSite(ctx, userID, siteURL)
}

// GetCluster returns one of the user's clusters. Another user's cluster is
// reported as not found.
func (s *ClusterQueryService) GetCluster(ctx context.Context, userID, clusterID string) (*entities.Cluster, error) {
	cluster, err := s.clusterRepo.GetByID(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	if cluster.UserID != userID {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("cluster %s not found", clusterID))
	}
	return cluster, nil
}

// OrderMembers returns a copy of members ordered by descending relevance,
// then keyword. It never returns nil.
func OrderMembers(members []entities.ClusterMembership) []entities.ClusterMembership {
	m := make([]entities.ClusterMembership, len(members))
	copy(m, members)
	sort.SliceStable(m, func(a, b int) bool {
		if m[a].RelevanceScore != m[b].RelevanceScore {
			return m[a].RelevanceScore > m[b].RelevanceScore
		}
		return m[a].Keyword < m[b].Keyword
	})
	return m
}

// WarmClusterViews loads the site's views so they land in the cache.
func (s *ClusterQueryService) WarmClusterViews(ctx context.Context, userID, siteURL string) (int, error) {
	views, err := s.GetClusters(ctx, userID, siteURL)
	if err != nil {
		return 0, err
	}
	return len(views), nil
}

func (s *ClusterQueryService) buildViews(ctx context.Context, clusters []*entities.Cluster) ([]*entities.ClusterView, error) {
	views := make([]*entities.ClusterView, 0, len(clusters))
	if len(clusters) == 0 {
		return views, nil
	}

	ctx, l := loaders.Ensure(ctx, s.clusterRepo, s.coverageRepo)

	ids := make([]string, len(clusters))
	for i, c := range clusters {
		ids[i] = c.ID
	}
	members, errs := l.MembershipLoader.LoadMany(ctx, ids)()
	if err := firstError(errs); err != nil {
		return nil, err
	}
	coverage, errs := l.CoverageLoader.LoadMany(ctx, ids)()
	if err := firstError(errs); err != nil {
		return nil, err
	}

	for i, c := range clusters {
		m := OrderMembers(members[i])
		cov := coverage[i]
		if cov == nil {
			cov = []entities.ContentClusterMapping{}
		}
		views = append(views, &entities.ClusterView{
			ID:        c.ID,
			UserID:    c.UserID,
			SiteURL:   c.SiteURL,
			Name:      c.Name,
			CreatedAt: c.CreatedAt,
			Members:   m,
			Coverage:  cov,
		})
	}
	return views, nil
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// SearchClusters finds clusters whose name or keywords match q. It uses the
// search index when one is configured and reachable, otherwise it scores the
// site's clusters in memory.
func (s *ClusterQueryService) SearchClusters(ctx context.Context, userID, siteURL, q string, limit int) ([]providers.ClusterSearchHit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, apperrors.NewValidationError("q is required")
	}
	if strings.TrimSpace(siteURL) == "" {
		return nil, apperrors.NewValidationError("site_url is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	cacheKey := providers.ClusterCacheKey(userID, siteURL, "search", strings.ToLower(q), strconv.Itoa(limit))
	var cached []providers.ClusterSearchHit
	if s.readCache(ctx, cacheKey, &cached) {
		return cached, nil
	}

	if s.searchIndex != nil {
		hits, err := s.searchIndex.Search(ctx, userID, siteURL, q, limit)
		if err == nil {
			s.writeCache(ctx, cacheKey, hits)
			return hits, nil
		}
		log.Warn().Err(err).Str("site_url", siteURL).Msg("Cluster search index failed, falling back to database")
	}

	views, err := s.GetClusters(ctx, userID, siteURL)
	if err != nil {
		return nil, fmt.Errorf("search fallback failed: %w", err)
	}
	hits := rankViews(views, q, limit)
	s.writeCache(ctx, cacheKey, hits)
	return hits, nil
}

// rankViews scores each cluster by its best matching name or keyword.
func rankViews(views []*entities.ClusterView, q string, limit int) []providers.ClusterSearchHit {
	query := similarity.Normalize(q)
	hits := make([]providers.ClusterSearchHit, 0)
	for _, v := range views {
		best := similarity.ScoreTokens(query, similarity.Normalize(v.Name))
		keywords := make([]string, len(v.Members))
		for i, m := range v.Members {
			keywords[i] = m.Keyword
			if score := similarity.ScoreTokens(query, similarity.Normalize(m.Keyword)); score > best {
				best = score
			}
		}
		if best <= 0 {
			continue
		}
		hits = append(hits, providers.ClusterSearchHit{
			ClusterID: v.ID,
			Name:      v.Name,
			Keywords:  keywords,
			Score:     best,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Name < hits[j].Name
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (s *ClusterQueryService) readCache(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	found, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Cache read failed")
		return false
	}
	if found {
		observability.RecordCacheHit(ctx, s.metrics, cacheMetricPrefix)
		return true
	}
	observability.RecordCacheMiss(ctx, s.metrics, cacheMetricPrefix)
	return false
}

func (s *ClusterQueryService) writeCache(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, clusterViewsTTL); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
