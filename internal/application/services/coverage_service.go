package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
	"github.com/zatekoja/keywordclusters/pkg/retry"
	"github.com/zatekoja/keywordclusters/pkg/similarity"
)

// CoverageConfig tunes the coverage recompute.
type CoverageConfig struct {
	Workers       int
	RetryAttempts int
	RetryDelay    time.Duration
}

// CoverageSummary reports what a site recompute did.
type CoverageSummary struct {
	Clusters     int `json:"clusters"`
	ContentItems int `json:"content_items"`
	Updated      int `json:"updated"`
	Skipped      int `json:"skipped"`
	Mappings     int `json:"mappings"`
}

// CoverageScore is the relevance-weighted share of the cluster's keywords
// that the content ranks for. Keywords are compared in normalized form.
func CoverageScore(memberships []entities.ClusterMembership, contentKeywords []string) float64 {
	keys := make(map[string]struct{}, len(contentKeywords))
	for _, k := range contentKeywords {
		keys[similarity.Normalize(k).Key()] = struct{}{}
	}

	var total, covered float64
	for _, m := range memberships {
		if m.RelevanceScore <= 0 {
			continue
		}
		total += m.RelevanceScore
		if _, ok := keys[similarity.Normalize(m.Keyword).Key()]; ok {
			covered += m.RelevanceScore
		}
	}
	if total == 0 {
		return 0
	}
	return clamp01(covered / total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clusterIndex maps normalized keywords to the clusters that contain them so a
// content item is scored against every cluster in one pass over its keywords.
type clusterIndex struct {
	clusterIDs []string
	totals     []float64
	byKey      map[string][]weightedCluster
}

type weightedCluster struct {
	cluster   int
	relevance float64
}

func newClusterIndex(clusters []*entities.Cluster, memberships map[string][]entities.ClusterMembership) *clusterIndex {
	idx := &clusterIndex{
		clusterIDs: make([]string, len(clusters)),
		totals:     make([]float64, len(clusters)),
		byKey:      make(map[string][]weightedCluster),
	}
	for i, c := range clusters {
		idx.clusterIDs[i] = c.ID
		for _, m := range memberships[c.ID] {
			if m.RelevanceScore <= 0 {
				continue
			}
			idx.totals[i] += m.RelevanceScore
			key := similarity.Normalize(m.Keyword).Key()
			idx.byKey[key] = append(idx.byKey[key], weightedCluster{cluster: i, relevance: m.RelevanceScore})
		}
	}
	return idx
}

// mappings returns one row per cluster the content covers at all.
func (idx *clusterIndex) mappings(contentID string, contentKeywords []string, now time.Time) []entities.ContentClusterMapping {
	covered := make(map[int]float64)
	seen := make(map[string]struct{}, len(contentKeywords))
	for _, k := range contentKeywords {
		key := similarity.Normalize(k).Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		for _, wc := range idx.byKey[key] {
			covered[wc.cluster] += wc.relevance
		}
	}

	result := make([]entities.ContentClusterMapping, 0, len(covered))
	for i := range idx.clusterIDs {
		c, ok := covered[i]
		if !ok || idx.totals[i] == 0 {
			continue
		}
		result = append(result, entities.ContentClusterMapping{
			ContentID:     contentID,
			ClusterID:     idx.clusterIDs[i],
			CoverageScore: clamp01(c / idx.totals[i]),
			UpdatedAt:     now,
		})
	}
	return result
}

// CoverageService computes and stores how well content covers clusters.
type CoverageService struct {
	keywordRepo  repositories.KeywordRepository
	clusterRepo  repositories.ClusterRepository
	contentRepo  repositories.ContentRepository
	coverageRepo repositories.ContentCoverageRepository
	cfg          CoverageConfig
	metrics      *observability.Metrics
}

// NewCoverageService creates a new coverage service
func NewCoverageService(
	keywordRepo repositories.KeywordRepository,
	clusterRepo repositories.ClusterRepository,
	contentRepo repositories.ContentRepository,
	coverageRepo repositories.ContentCoverageRepository,
	cfg CoverageConfig,
) *CoverageService {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &CoverageService{
		keywordRepo:  keywordRepo,
		clusterRepo:  clusterRepo,
		contentRepo:  contentRepo,
		coverageRepo: coverageRepo,
		cfg:          cfg,
	}
}

// SetMetrics enables skip counters.
func (s *CoverageService) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

func (s *CoverageService) fetchConfig() retry.Config {
	cfg := retry.FetchConfig(s.cfg.RetryAttempts, s.cfg.RetryDelay)
	cfg.Retryable = func(err error) bool {
		return apperrors.IsType(err, apperrors.ErrorTypeTransientFetch)
	}
	return cfg
}

func (s *CoverageService) pageKeywords(ctx context.Context, content *entities.ContentItem) ([]string, error) {
	var keywords []string
	err := retry.Do(ctx, s.fetchConfig(), func() error {
		var err error
		keywords, err = s.keywordRepo.ListForPage(ctx, content.UserID, content.SiteURL, content.PageURL)
		return err
	})
	return keywords, err
}

// ComputeCoverage scores one content item against one cluster without storing it.
func (s *CoverageService) ComputeCoverage(ctx context.Context, contentID, clusterID string) (float64, error) {
	content, err := s.contentRepo.GetByID(ctx, contentID)
	if err != nil {
		return 0, err
	}
	cluster, err := s.clusterRepo.GetByID(ctx, clusterID)
	if err != nil {
		return 0, err
	}
	if cluster.UserID != content.UserID || cluster.SiteURL != content.SiteURL {
		return 0, apperrors.NewValidationError("content and cluster belong to different sites")
	}

	keywords, err := s.pageKeywords(ctx, content)
	if err != nil {
		return 0, apperrors.NewTransientFetchError(fmt.Sprintf("failed to load keywords for content %s", contentID), err)
	}
	return CoverageScore(cluster.Memberships, keywords), nil
}

// RecomputeContent refreshes the stored coverage rows of one content item.
func (s *CoverageService) RecomputeContent(ctx context.Context, contentID string) (int, error) {
	content, err := s.contentRepo.GetByID(ctx, contentID)
	if err != nil {
		return 0, err
	}
	idx, _, err := s.loadClusterIndex(ctx, content.UserID, content.SiteURL)
	if err != nil {
		return 0, err
	}
	keywords, err := s.pageKeywords(ctx, content)
	if err != nil {
		return 0, apperrors.NewTransientFetchError(fmt.Sprintf("failed to load keywords for content %s", contentID), err)
	}
	mappings := idx.mappings(content.ID, keywords, time.Now().UTC())
	if err := s.coverageRepo.ReplaceForContent(ctx, content.ID, mappings); err != nil {
		return 0, err
	}
	return len(mappings), nil
}

func (s *CoverageService) loadClusterIndex(ctx context.Context, userID, siteURL string) (*clusterIndex, int, error) {
	clusters, err := s.clusterRepo.ListForSite(ctx, userID, siteURL)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]string, len(clusters))
	for i, c := range clusters {
		ids[i] = c.ID
	}
	memberships, err := s.clusterRepo.ListMemberships(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	return newClusterIndex(clusters, memberships), len(clusters), nil
}

// RecomputeSite rescores every content item of the site against the current
// cluster generation. Items whose keywords cannot be fetched after retries
// are skipped and keep their previous rows; a failed write stops the run.
func (s *CoverageService) RecomputeSite(ctx context.Context, userID, siteURL string) (*CoverageSummary, error) {
	ctx, span := observability.StartSpan(ctx, "CoverageService.RecomputeSite")
	defer span.End()

	idx, clusterCount, err := s.loadClusterIndex(ctx, userID, siteURL)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	items, err := s.contentRepo.ListForSite(ctx, userID, siteURL)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var updated, skipped, mappingCount int64
	var firstErr error
	var errOnce sync.Once
	now := time.Now().UTC()

	itemChan := make(chan *entities.ContentItem, s.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range itemChan {
				keywords, err := s.pageKeywords(ctx, item)
				if err != nil {
					if ctx.Err() != nil {
						continue
					}
					atomic.AddInt64(&skipped, 1)
					log.Warn().Err(err).
						Str("content_id", item.ID).
						Str("page_url", item.PageURL).
						Msg("Skipping content item after keyword fetch retries")
					continue
				}

				mappings := idx.mappings(item.ID, keywords, now)
				if err := s.coverageRepo.ReplaceForContent(ctx, item.ID, mappings); err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					continue
				}
				atomic.AddInt64(&updated, 1)
				atomic.AddInt64(&mappingCount, int64(len(mappings)))
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case itemChan <- item:
		case <-ctx.Done():
			break feed
		}
	}
	close(itemChan)
	wg.Wait()

	if firstErr != nil {
		observability.RecordError(span, firstErr)
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := &CoverageSummary{
		Clusters:     clusterCount,
		ContentItems: len(items),
		Updated:      int(updated),
		Skipped:      int(skipped),
		Mappings:     int(mappingCount),
	}
	observability.RecordCoverageSkipped(ctx, s.metrics, summary.Skipped)
	log.Info().
		Str("user_id", userID).
		Str("site_url", siteURL).
		Int("clusters", summary.Clusters).
		Int("content_items", summary.ContentItems).
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("mappings", summary.Mappings).
		Msg("Recomputed content coverage")
	return summary, nil
}
