package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
	"github.com/zatekoja/keywordclusters/pkg/similarity"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultMinSimilarity is the clustering threshold used when none is given.
const DefaultMinSimilarity = 0.3

// budgetCheckInterval is how many comparisons run between clock reads.
const budgetCheckInterval = 4096

// ClusterBuilderConfig bounds a clustering run.
type ClusterBuilderConfig struct {
	DefaultMinSimilarity float64
	Strategy             string
	MaxComparisons       int64
	MaxDuration          time.Duration
}

// BuildStats describes one clustering pass.
type BuildStats struct {
	InputRows      int
	UniqueKeywords int
	Clusters       int
	Comparisons    int64
	Strategy       string
	Duration       time.Duration
}

// ClusterBuilderService groups a site's keywords into clusters and replaces
// the site's stored generation.
type ClusterBuilderService struct {
	keywordRepo repositories.KeywordRepository
	clusterRepo repositories.ClusterRepository
	cfg         ClusterBuilderConfig
	now         func() time.Time
}

// NewClusterBuilderService creates a new cluster builder service
func NewClusterBuilderService(
	keywordRepo repositories.KeywordRepository,
	clusterRepo repositories.ClusterRepository,
	cfg ClusterBuilderConfig,
) *ClusterBuilderService {
	if cfg.DefaultMinSimilarity <= 0 || cfg.DefaultMinSimilarity > 1 {
		cfg.DefaultMinSimilarity = DefaultMinSimilarity
	}
	return &ClusterBuilderService{
		keywordRepo: keywordRepo,
		clusterRepo: clusterRepo,
		cfg:         cfg,
		now:         time.Now,
	}
}

// CreateClusters loads the site's keywords, clusters them and atomically
// replaces the previous generation. Nothing is written when the site has no
// keywords or the run exceeds its budget.
func (s *ClusterBuilderService) CreateClusters(ctx context.Context, userID, siteURL string, minSimilarity float64) ([]*entities.Cluster, error) {
	ctx, span := observability.StartSpan(ctx, "ClusterBuilderService.CreateClusters")
	defer span.End()

	keywords, err := s.keywordRepo.ListForSite(ctx, userID, siteURL)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if len(keywords) == 0 {
		return nil, apperrors.NewInsufficientDataError(fmt.Sprintf("no keyword data for site %s", siteURL))
	}

	clusters, stats, err := s.BuildClusters(ctx, keywords, minSimilarity)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	if err := s.clusterRepo.ReplaceForSite(ctx, userID, siteURL, clusters); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.SetSpanAttributes(span,
		attribute.Int("keywords.unique", stats.UniqueKeywords),
		attribute.Int("clusters.count", stats.Clusters),
		attribute.Int64("comparisons", stats.Comparisons),
		attribute.String("strategy", stats.Strategy),
	)
	log.Info().
		Str("user_id", userID).
		Str("site_url", siteURL).
		Int("rows", stats.InputRows).
		Int("keywords", stats.UniqueKeywords).
		Int("clusters", stats.Clusters).
		Int64("comparisons", stats.Comparisons).
		Str("strategy", stats.Strategy).
		Dur("duration", stats.Duration).
		Msg("Replaced cluster generation")

	return clusters, nil
}

// BuildClusters runs greedy single-pass seeding over the keywords without
// touching storage. Keywords are visited by descending clicks+impressions;
// each unassigned keyword seeds a cluster and pulls in every later
// unassigned keyword whose similarity to it reaches minSimilarity.
func (s *ClusterBuilderService) BuildClusters(ctx context.Context, keywords []*entities.Keyword, minSimilarity float64) ([]*entities.Cluster, *BuildStats, error) {
	if minSimilarity <= 0 || minSimilarity > 1 {
		minSimilarity = s.cfg.DefaultMinSimilarity
	}

	strategy, err := NewCandidateStrategy(s.cfg.Strategy)
	if err != nil {
		return nil, nil, apperrors.NewValidationError(err.Error())
	}

	started := s.now()
	items := dedupeKeywords(keywords)
	if len(items) == 0 {
		return nil, nil, apperrors.NewInsufficientDataError("no usable keywords to cluster")
	}
	stats := &BuildStats{
		InputRows:      len(keywords),
		UniqueKeywords: len(items),
		Strategy:       strategy.Name(),
	}

	strategy.Prepare(items)
	assigned := make([]bool, len(items))
	titler := cases.Title(language.English)
	clusters := make([]*entities.Cluster, 0)

	var budgetErr error
	for seed := range items {
		if assigned[seed] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		assigned[seed] = true

		cluster := &entities.Cluster{
			Name:        titler.String(items[seed].display),
			Memberships: []entities.ClusterMembership{{Keyword: items[seed].display, RelevanceScore: 1.0}},
		}

		strategy.Visit(seed, func(i int) bool {
			if assigned[i] {
				return true
			}
			stats.Comparisons++
			if stats.Comparisons%budgetCheckInterval == 0 {
				if budgetErr = s.checkBudget(ctx, stats.Comparisons, started); budgetErr != nil {
					return false
				}
			}
			score := similarity.ScoreTokens(items[seed].tokens, items[i].tokens)
			if score >= minSimilarity {
				assigned[i] = true
				cluster.Memberships = append(cluster.Memberships, entities.ClusterMembership{
					Keyword:        items[i].display,
					RelevanceScore: score,
				})
			}
			return true
		})
		if budgetErr == nil {
			budgetErr = s.checkBudget(ctx, stats.Comparisons, started)
		}
		if budgetErr != nil {
			return nil, nil, budgetErr
		}

		sortMemberships(cluster.Memberships)
		clusters = append(clusters, cluster)
	}

	stats.Clusters = len(clusters)
	stats.Duration = s.now().Sub(started)
	return clusters, stats, nil
}

func (s *ClusterBuilderService) checkBudget(ctx context.Context, comparisons int64, started time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.cfg.MaxComparisons > 0 && comparisons > s.cfg.MaxComparisons {
		return apperrors.NewBudgetExceededError(fmt.Sprintf("clustering exceeded %d comparisons", s.cfg.MaxComparisons))
	}
	if s.cfg.MaxDuration > 0 && s.now().Sub(started) > s.cfg.MaxDuration {
		return apperrors.NewBudgetExceededError(fmt.Sprintf("clustering exceeded %s", s.cfg.MaxDuration))
	}
	return nil
}

// dedupeKeywords merges rows whose normalized forms are equal, summing their
// signal, and returns them in seeding order. The display form is the variant
// with the strongest own signal, ties broken lexically.
func dedupeKeywords(keywords []*entities.Keyword) []candidate {
	type merged struct {
		candidate
		bestSignal int
	}
	byKey := make(map[string]*merged, len(keywords))
	order := make([]string, 0, len(keywords))

	for _, k := range keywords {
		display := strings.Join(strings.Fields(k.Keyword), " ")
		if display == "" {
			continue
		}
		tokens := similarity.Normalize(display)
		key := tokens.Key()
		signal := k.Signal()

		m, ok := byKey[key]
		if !ok {
			byKey[key] = &merged{
				candidate:  candidate{display: display, tokens: tokens, signal: signal},
				bestSignal: signal,
			}
			order = append(order, key)
			continue
		}
		m.signal += signal
		if signal > m.bestSignal || (signal == m.bestSignal && display < m.display) {
			m.display = display
			m.bestSignal = signal
		}
	}

	items := make([]candidate, 0, len(order))
	for _, key := range order {
		items = append(items, byKey[key].candidate)
	}
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].signal != items[b].signal {
			return items[a].signal > items[b].signal
		}
		return items[a].display < items[b].display
	})
	return items
}

func sortMemberships(ms []entities.ClusterMembership) {
	sort.SliceStable(ms, func(a, b int) bool {
		if ms[a].RelevanceScore != ms[b].RelevanceScore {
			return ms[a].RelevanceScore > ms[b].RelevanceScore
		}
		return ms[a].Keyword < ms[b].Keyword
	})
}
