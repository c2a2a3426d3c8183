package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

const contentTable = "content_inventory"

var contentColumns = []interface{}{
	"id", "user_id", "site_url", "page_url", "title", "word_count", "last_crawled", "performance_score",
}

// ContentAdapter reads the content inventory and stores performance scores.
type ContentAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewContentAdapter creates a new content adapter
func NewContentAdapter(client *postgres.Client) repositories.ContentRepository {
	return &ContentAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContentItem(row rowScanner) (*entities.ContentItem, error) {
	item := &entities.ContentItem{}
	var (
		title       sql.NullString
		wordCount   sql.NullInt64
		lastCrawled sql.NullTime
		perfScore   sql.NullFloat64
	)
	if err := row.Scan(&item.ID, &item.UserID, &item.SiteURL, &item.PageURL, &title, &wordCount, &lastCrawled, &perfScore); err != nil {
		return nil, err
	}
	item.Title = title.String
	item.WordCount = int(wordCount.Int64)
	if lastCrawled.Valid {
		t := lastCrawled.Time
		item.LastCrawled = &t
	}
	if perfScore.Valid {
		s := perfScore.Float64
		item.PerformanceScore = &s
	}
	return item, nil
}

// GetByID retrieves a content item by ID
func (a *ContentAdapter) GetByID(ctx context.Context, contentID string) (*entities.ContentItem, error) {
	if _, err := uuid.Parse(contentID); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("content %s not found", contentID))
	}

	query, args, err := a.db.From(contentTable).
		Select(contentColumns...).
		Where(goqu.Ex{"id": contentID}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build content query", err)
	}

	item, err := scanContentItem(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("content %s not found", contentID))
	}
	if err != nil {
		return nil, apperrors.NewTransientFetchError("failed to get content", err)
	}
	return item, nil
}

// ListForSite returns the site's crawled pages ordered by URL.
func (a *ContentAdapter) ListForSite(ctx context.Context, userID, siteURL string) ([]*entities.ContentItem, error) {
	query, args, err := a.db.From(contentTable).
		Select(contentColumns...).
		Where(goqu.Ex{"user_id": userID, "site_url": siteURL}).
		Order(goqu.I("page_url").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build content list query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewTransientFetchError("failed to list content", err)
	}
	defer rows.Close()

	items := make([]*entities.ContentItem, 0)
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, apperrors.NewTransientFetchError("failed to scan content", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientFetchError("failed to iterate content", err)
	}
	return items, nil
}

// UpdatePerformanceScore stores the latest computed performance score.
func (a *ContentAdapter) UpdatePerformanceScore(ctx context.Context, contentID string, score float64) error {
	query, args, err := a.db.Update(contentTable).
		Set(goqu.Record{"performance_score": score, "performance_updated_at": time.Now().UTC()}).
		Where(goqu.Ex{"id": contentID}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build performance update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewPersistenceError("failed to update performance score", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("content %s not found", contentID))
	}
	return nil
}
