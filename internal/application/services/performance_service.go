package services

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
	"github.com/zatekoja/keywordclusters/pkg/config"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
	"github.com/zatekoja/keywordclusters/pkg/retry"
)

// DefaultPerformanceWindowDays is the trailing window used when none is given.
const DefaultPerformanceWindowDays = 30

// PerformanceWeights are the relative weights of the score components.
type PerformanceWeights struct {
	Pageviews       float64
	UniquePageviews float64
	Engagement      float64
	TimeOnPage      float64
}

// DefaultPerformanceWeights returns the standard blend.
func DefaultPerformanceWeights() PerformanceWeights {
	return PerformanceWeights{Pageviews: 0.35, UniquePageviews: 0.25, Engagement: 0.20, TimeOnPage: 0.20}
}

// normalized scales the weights to sum to 1. Negative weights count as 0 and
// an all-zero set falls back to the defaults.
func (w PerformanceWeights) normalized() PerformanceWeights {
	w.Pageviews = math.Max(w.Pageviews, 0)
	w.UniquePageviews = math.Max(w.UniquePageviews, 0)
	w.Engagement = math.Max(w.Engagement, 0)
	w.TimeOnPage = math.Max(w.TimeOnPage, 0)
	sum := w.Pageviews + w.UniquePageviews + w.Engagement + w.TimeOnPage
	if sum == 0 {
		return DefaultPerformanceWeights()
	}
	return PerformanceWeights{
		Pageviews:       w.Pageviews / sum,
		UniquePageviews: w.UniquePageviews / sum,
		Engagement:      w.Engagement / sum,
		TimeOnPage:      w.TimeOnPage / sum,
	}
}

// PerformanceTargets are the values at which a traffic component saturates.
type PerformanceTargets struct {
	Pageviews       float64
	UniquePageviews float64
	TimeOnPage      float64
}

// PerformanceSettingsFromConfig maps the env configuration onto the scorer.
func PerformanceSettingsFromConfig(cfg config.PerformanceConfig) (int, PerformanceWeights, PerformanceTargets) {
	return cfg.WindowDays,
		PerformanceWeights{
			Pageviews:       cfg.PageviewsWeight,
			UniquePageviews: cfg.UniquePageviewsWeight,
			Engagement:      cfg.EngagementWeight,
			TimeOnPage:      cfg.TimeOnPageWeight,
		},
		PerformanceTargets{
			Pageviews:       cfg.PageviewsTarget,
			UniquePageviews: cfg.UniquePageviewsTarget,
			TimeOnPage:      cfg.TimeOnPageTarget,
		}
}

// PerformanceScore blends a window of snapshots into a score in [0,100].
// Traffic components are log-scaled against their targets; engagement is
// 1 - bounce rate. Time on page and bounce rate are pageview-weighted means.
func PerformanceScore(snapshots []*entities.ContentAnalyticsSnapshot, weights PerformanceWeights, targets PerformanceTargets) float64 {
	var pageviews, unique, timeWeighted, bounceWeighted float64
	for _, s := range snapshots {
		pv := math.Max(float64(s.Pageviews), 0)
		pageviews += pv
		unique += math.Max(float64(s.UniquePageviews), 0)
		timeWeighted += math.Max(s.AvgTimeOnPage, 0) * pv
		bounceWeighted += bounceFraction(s.BounceRate) * pv
	}
	if pageviews == 0 {
		return 0
	}

	w := weights.normalized()
	score := w.Pageviews*logScale(pageviews, targets.Pageviews) +
		w.UniquePageviews*logScale(unique, targets.UniquePageviews) +
		w.Engagement*(1-bounceWeighted/pageviews) +
		w.TimeOnPage*logScale(timeWeighted/pageviews, targets.TimeOnPage)

	return math.Round(clamp01(score)*10000) / 100
}

// bounceFraction accepts both fractions and percentages.
func bounceFraction(rate float64) float64 {
	if rate > 1 {
		rate /= 100
	}
	return clamp01(rate)
}

func logScale(value, target float64) float64 {
	if value <= 0 {
		return 0
	}
	if target <= 0 {
		return 1
	}
	return math.Min(1, math.Log1p(value)/math.Log1p(target))
}

// PerformanceRefreshSummary reports a site-wide performance refresh.
type PerformanceRefreshSummary struct {
	ContentItems int `json:"content_items"`
	Updated      int `json:"updated"`
	Skipped      int `json:"skipped"`
}

// PerformanceService scores content from its recent analytics.
type PerformanceService struct {
	contentRepo   repositories.ContentRepository
	analyticsRepo repositories.AnalyticsRepository
	windowDays    int
	weights       PerformanceWeights
	targets       PerformanceTargets
	fetchRetry    retry.Config
	now           func() time.Time
}

// NewPerformanceService creates a new performance service
func NewPerformanceService(
	contentRepo repositories.ContentRepository,
	analyticsRepo repositories.AnalyticsRepository,
	windowDays int,
	weights PerformanceWeights,
	targets PerformanceTargets,
) *PerformanceService {
	if windowDays <= 0 {
		windowDays = DefaultPerformanceWindowDays
	}
	if targets.Pageviews <= 0 {
		targets.Pageviews = 10000
	}
	if targets.UniquePageviews <= 0 {
		targets.UniquePageviews = 5000
	}
	if targets.TimeOnPage <= 0 {
		targets.TimeOnPage = 180
	}
	return &PerformanceService{
		contentRepo:   contentRepo,
		analyticsRepo: analyticsRepo,
		windowDays:    windowDays,
		weights:       weights,
		targets:       targets,
		fetchRetry:    analyticsFetchConfig(0, 0),
		now:           time.Now,
	}
}

// SetRetry sets the retry budget for analytics reads. Non-positive values
// keep the fetch defaults.
func (s *PerformanceService) SetRetry(attempts int, delay time.Duration) {
	s.fetchRetry = analyticsFetchConfig(attempts, delay)
}

func analyticsFetchConfig(attempts int, delay time.Duration) retry.Config {
	cfg := retry.FetchConfig(attempts, delay)
	cfg.Retryable = func(err error) bool {
		return apperrors.IsType(err, apperrors.ErrorTypeTransientFetch)
	}
	return cfg
}

// EffectiveWindow resolves a requested window to the one actually scored.
func (s *PerformanceService) EffectiveWindow(windowDays int) int {
	if windowDays <= 0 {
		return s.windowDays
	}
	return windowDays
}

// CalculatePerformanceScore scores a content item over the trailing window
// of windowDays calendar days ending today (UTC), today included.
// A window without analytics scores 0.
func (s *PerformanceService) CalculatePerformanceScore(ctx context.Context, contentID string, windowDays int) (float64, error) {
	windowDays = s.EffectiveWindow(windowDays)
	if windowDays > 365 {
		return 0, apperrors.NewValidationError("window_days must be at most 365")
	}

	since := s.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(windowDays - 1))
	var snapshots []*entities.ContentAnalyticsSnapshot
	err := retry.Do(ctx, s.fetchRetry, func() error {
		var err error
		snapshots, err = s.analyticsRepo.ListSnapshots(ctx, contentID, since)
		return err
	})
	if err != nil {
		return 0, err
	}
	return PerformanceScore(snapshots, s.weights, s.targets), nil
}

// RefreshSite recomputes and stores the score of every content item of a site.
// Items whose analytics cannot be read are skipped.
func (s *PerformanceService) RefreshSite(ctx context.Context, userID, siteURL string, windowDays int) (*PerformanceRefreshSummary, error) {
	items, err := s.contentRepo.ListForSite(ctx, userID, siteURL)
	if err != nil {
		return nil, err
	}

	summary := &PerformanceRefreshSummary{ContentItems: len(items)}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score, err := s.CalculatePerformanceScore(ctx, item.ID, windowDays)
		if err != nil {
			if apperrors.IsType(err, apperrors.ErrorTypeValidation) {
				return nil, err
			}
			summary.Skipped++
			log.Warn().Err(err).Str("content_id", item.ID).Msg("Skipping performance score")
			continue
		}
		if err := s.contentRepo.UpdatePerformanceScore(ctx, item.ID, score); err != nil {
			return nil, err
		}
		summary.Updated++
	}

	log.Info().
		Str("user_id", userID).
		Str("site_url", siteURL).
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Msg("Refreshed performance scores")
	return summary, nil
}
