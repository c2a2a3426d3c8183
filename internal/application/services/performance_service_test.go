package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/keywordclusters/internal/application/services"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/pkg/config"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

var testTargets = services.PerformanceTargets{Pageviews: 10000, UniquePageviews: 5000, TimeOnPage: 180}

func snapshot(contentID string, daysAgo, pageviews, unique int, timeOnPage, bounce float64) *entities.ContentAnalyticsSnapshot {
	return &entities.ContentAnalyticsSnapshot{
		ContentID:       contentID,
		Date:            time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -daysAgo),
		Pageviews:       pageviews,
		UniquePageviews: unique,
		AvgTimeOnPage:   timeOnPage,
		BounceRate:      bounce,
	}
}

func TestPerformanceScore_NoTrafficIsZero(t *testing.T) {
	weights := services.DefaultPerformanceWeights()
	assert.Equal(t, 0.0, services.PerformanceScore(nil, weights, testTargets))
	assert.Equal(t, 0.0, services.PerformanceScore([]*entities.ContentAnalyticsSnapshot{
		snapshot("c1", 1, 0, 0, 40, 0.5),
	}, weights, testTargets))
}

func TestPerformanceScore_Bounds(t *testing.T) {
	weights := services.DefaultPerformanceWeights()

	saturated := services.PerformanceScore([]*entities.ContentAnalyticsSnapshot{
		snapshot("c1", 1, 50000, 20000, 600, 0),
	}, weights, testTargets)
	assert.Equal(t, 100.0, saturated)

	weak := services.PerformanceScore([]*entities.ContentAnalyticsSnapshot{
		snapshot("c1", 1, 3, 2, 5, 1),
	}, weights, testTargets)
	assert.Greater(t, weak, 0.0)
	assert.Less(t, weak, saturated)
}

func TestPerformanceScore_MoreTrafficScoresHigher(t *testing.T) {
	weights := services.DefaultPerformanceWeights()
	low := services.PerformanceScore([]*entities.ContentAnalyticsSnapshot{
		snapshot("c1", 1, 100, 80, 60, 0.5),
	}, weights, testTargets)
	high := services.PerformanceScore([]*entities.ContentAnalyticsSnapshot{
		snapshot("c1", 1, 1000, 800, 60, 0.5),
	}, weights, testTargets)
	assert.Greater(t, high, low)
}

func TestPerformanceScore_BouncePercentMatchesFraction(t *testing.T) {
	weights := services.DefaultPerformanceWeights()
	fraction := services.PerformanceScore([]*entities.ContentAnalyticsSnapshot{
		snapshot("c1", 1, 500, 300, 90, 0.4),
	}, weights, testTargets)
	percent := services.PerformanceScore([]*entities.ContentAnalyticsSnapshot{
		snapshot("c1", 1, 500, 300, 90, 40),
	}, weights, testTargets)
	assert.Equal(t, fraction, percent)
}

func TestPerformanceScore_EngagementOnlyWeights(t *testing.T) {
	weights := services.PerformanceWeights{Engagement: 3}
	score := services.PerformanceScore([]*entities.ContentAnalyticsSnapshot{
		snapshot("c1", 1, 100, 50, 30, 0.25),
		snapshot("c1", 2, 300, 100, 30, 0.75),
	}, weights, testTargets)
	// pageview-weighted bounce is (25+225)/400
	assert.InDelta(t, 37.5, score, 0.001)
}

func TestPerformanceScore_ZeroWeightsUseDefaults(t *testing.T) {
	snapshots := []*entities.ContentAnalyticsSnapshot{snapshot("c1", 1, 500, 300, 90, 0.4)}
	assert.Equal(t,
		services.PerformanceScore(snapshots, services.DefaultPerformanceWeights(), testTargets),
		services.PerformanceScore(snapshots, services.PerformanceWeights{}, testTargets))
}

func TestPerformanceSettingsFromConfig(t *testing.T) {
	window, weights, targets := services.PerformanceSettingsFromConfig(config.PerformanceConfig{
		WindowDays:            14,
		PageviewsWeight:       0.5,
		UniquePageviewsWeight: 0.1,
		EngagementWeight:      0.2,
		TimeOnPageWeight:      0.2,
		PageviewsTarget:       2000,
		UniquePageviewsTarget: 1000,
		TimeOnPageTarget:      120,
	})
	assert.Equal(t, 14, window)
	assert.Equal(t, 0.5, weights.Pageviews)
	assert.Equal(t, 120.0, targets.TimeOnPage)
}

func TestPerformanceService_CalculateUsesWindow(t *testing.T) {
	analytics := &fakeAnalyticsRepo{snapshots: map[string][]*entities.ContentAnalyticsSnapshot{
		"c1": {
			snapshot("c1", 2, 400, 300, 90, 0.3),
			snapshot("c1", 20, 100000, 50000, 600, 0),
		},
	}}
	svc := services.NewPerformanceService(newFakeContentRepo(), analytics, 30, services.DefaultPerformanceWeights(), testTargets)

	today := time.Now().UTC().Truncate(24 * time.Hour)

	recent, err := svc.CalculatePerformanceScore(context.Background(), "c1", 7)
	require.NoError(t, err)
	assert.Equal(t, today.AddDate(0, 0, -6), analytics.since)

	full, err := svc.CalculatePerformanceScore(context.Background(), "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, today.AddDate(0, 0, -29), analytics.since)
	assert.Greater(t, full, recent)
}

func TestPerformanceService_WindowCoversExactlyWindowDays(t *testing.T) {
	weights := services.PerformanceWeights{Pageviews: 1}
	edge := snapshot("c1", 6, 500, 300, 90, 0.3)
	outside := snapshot("c1", 7, 500, 300, 90, 0.3)

	inWindow := services.NewPerformanceService(newFakeContentRepo(), &fakeAnalyticsRepo{snapshots: map[string][]*entities.ContentAnalyticsSnapshot{
		"c1": {edge},
	}}, 30, weights, testTargets)
	score, err := inWindow.CalculatePerformanceScore(context.Background(), "c1", 7)
	require.NoError(t, err)
	assert.Greater(t, score, 0.0)

	pastWindow := services.NewPerformanceService(newFakeContentRepo(), &fakeAnalyticsRepo{snapshots: map[string][]*entities.ContentAnalyticsSnapshot{
		"c1": {outside},
	}}, 30, weights, testTargets)
	score, err = pastWindow.CalculatePerformanceScore(context.Background(), "c1", 7)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)

	// a one-day window is today only
	today := snapshot("c1", 0, 500, 300, 90, 0.3)
	yesterday := snapshot("c1", 1, 50000, 30000, 90, 0.3)
	single := services.NewPerformanceService(newFakeContentRepo(), &fakeAnalyticsRepo{snapshots: map[string][]*entities.ContentAnalyticsSnapshot{
		"c1": {today, yesterday},
	}}, 30, weights, testTargets)
	score, err = single.CalculatePerformanceScore(context.Background(), "c1", 1)
	require.NoError(t, err)
	assert.Equal(t, services.PerformanceScore([]*entities.ContentAnalyticsSnapshot{today}, weights, testTargets), score)
}

func TestPerformanceService_EffectiveWindow(t *testing.T) {
	svc := services.NewPerformanceService(newFakeContentRepo(), &fakeAnalyticsRepo{}, 14, services.DefaultPerformanceWeights(), testTargets)
	assert.Equal(t, 14, svc.EffectiveWindow(0))
	assert.Equal(t, 14, svc.EffectiveWindow(-3))
	assert.Equal(t, 7, svc.EffectiveWindow(7))

	defaulted := services.NewPerformanceService(newFakeContentRepo(), &fakeAnalyticsRepo{}, 0, services.DefaultPerformanceWeights(), testTargets)
	assert.Equal(t, services.DefaultPerformanceWindowDays, defaulted.EffectiveWindow(0))
}

func TestPerformanceService_CalculateRetriesTransientRead(t *testing.T) {
	analytics := &fakeAnalyticsRepo{failures: 1, snapshots: map[string][]*entities.ContentAnalyticsSnapshot{
		"c1": {snapshot("c1", 1, 800, 500, 120, 0.2)},
	}}
	svc := services.NewPerformanceService(newFakeContentRepo(), analytics, 30, services.DefaultPerformanceWeights(), testTargets)
	svc.SetRetry(3, time.Millisecond)

	score, err := svc.CalculatePerformanceScore(context.Background(), "c1", 0)
	require.NoError(t, err)
	assert.Greater(t, score, 0.0)
	assert.Equal(t, 2, analytics.calls)
}

func TestPerformanceService_CalculateDoesNotRetryPermanentErrors(t *testing.T) {
	analytics := &fakeAnalyticsRepo{err: apperrors.NewPersistenceError("query failed", errors.New("syntax error"))}
	svc := services.NewPerformanceService(newFakeContentRepo(), analytics, 30, services.DefaultPerformanceWeights(), testTargets)
	svc.SetRetry(3, time.Millisecond)

	_, err := svc.CalculatePerformanceScore(context.Background(), "c1", 0)
	require.Error(t, err)
	assert.Equal(t, 1, analytics.calls)
}

func TestPerformanceService_NoAnalyticsScoresZero(t *testing.T) {
	svc := services.NewPerformanceService(newFakeContentRepo(), &fakeAnalyticsRepo{}, 30, services.DefaultPerformanceWeights(), testTargets)

	score, err := svc.CalculatePerformanceScore(context.Background(), "missing", 30)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestPerformanceService_RejectsLongWindow(t *testing.T) {
	svc := services.NewPerformanceService(newFakeContentRepo(), &fakeAnalyticsRepo{}, 30, services.DefaultPerformanceWeights(), testTargets)

	_, err := svc.CalculatePerformanceScore(context.Background(), "c1", 400)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestPerformanceService_RefreshSite(t *testing.T) {
	contents := newFakeContentRepo(content("c1", "/a"), content("c2", "/b"))
	analytics := &fakeAnalyticsRepo{snapshots: map[string][]*entities.ContentAnalyticsSnapshot{
		"c1": {snapshot("c1", 1, 800, 500, 120, 0.2)},
	}}
	svc := services.NewPerformanceService(contents, analytics, 30, services.DefaultPerformanceWeights(), testTargets)

	summary, err := svc.RefreshSite(context.Background(), testUser, testSite, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ContentItems)
	assert.Equal(t, 2, summary.Updated)
	assert.Greater(t, contents.scores["c1"], 0.0)
	assert.Equal(t, 0.0, contents.scores["c2"])
}

func TestPerformanceService_RefreshSiteRecoversFromTransientRead(t *testing.T) {
	contents := newFakeContentRepo(content("c1", "/a"))
	analytics := &fakeAnalyticsRepo{failures: 1, snapshots: map[string][]*entities.ContentAnalyticsSnapshot{
		"c1": {snapshot("c1", 1, 800, 500, 120, 0.2)},
	}}
	svc := services.NewPerformanceService(contents, analytics, 30, services.DefaultPerformanceWeights(), testTargets)
	svc.SetRetry(3, time.Millisecond)

	summary, err := svc.RefreshSite(context.Background(), testUser, testSite, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 0, summary.Skipped)
	assert.Greater(t, contents.scores["c1"], 0.0)
}

func TestPerformanceService_RefreshSiteSkipsUnreadableAnalytics(t *testing.T) {
	contents := newFakeContentRepo(content("c1", "/a"))
	analytics := &fakeAnalyticsRepo{err: apperrors.NewTransientFetchError("analytics down", errors.New("timeout"))}
	svc := services.NewPerformanceService(contents, analytics, 30, services.DefaultPerformanceWeights(), testTargets)
	svc.SetRetry(2, time.Millisecond)

	summary, err := svc.RefreshSite(context.Background(), testUser, testSite, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 2, analytics.calls)
	_, stored := contents.scores["c1"]
	assert.False(t, stored)
}
