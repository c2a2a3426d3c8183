package database

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

const analyticsTable = "content_analytics_history"

// AnalyticsAdapter reads daily content analytics.
type AnalyticsAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewAnalyticsAdapter creates a new analytics adapter
func NewAnalyticsAdapter(client *postgres.Client) repositories.AnalyticsRepository {
	return &AnalyticsAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// ListSnapshots returns a content item's snapshots on or after since, oldest first.
func (a *AnalyticsAdapter) ListSnapshots(ctx context.Context, contentID string, since time.Time) ([]*entities.ContentAnalyticsSnapshot, error) {
	query, args, err := a.db.From(analyticsTable).
		Select("content_id", "date", "pageviews", "unique_pageviews", "avg_time_on_page", "bounce_rate", "exit_rate").
		Where(
			goqu.C("content_id").Eq(contentID),
			goqu.C("date").Gte(since),
		).
		Order(goqu.I("date").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build analytics query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewTransientFetchError("failed to list analytics snapshots", err)
	}
	defer rows.Close()

	snapshots := make([]*entities.ContentAnalyticsSnapshot, 0)
	for rows.Next() {
		s := &entities.ContentAnalyticsSnapshot{}
		if err := rows.Scan(&s.ContentID, &s.Date, &s.Pageviews, &s.UniquePageviews, &s.AvgTimeOnPage, &s.BounceRate, &s.ExitRate); err != nil {
			return nil, apperrors.NewTransientFetchError("failed to scan analytics snapshot", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientFetchError("failed to iterate analytics snapshots", err)
	}
	return snapshots, nil
}
