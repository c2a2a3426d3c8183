package database

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

const keywordTable = "keyword_data"

// KeywordAdapter reads ingested keyword rows from Postgres.
type KeywordAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewKeywordAdapter creates a new keyword adapter
func NewKeywordAdapter(client *postgres.Client) repositories.KeywordRepository {
	return &KeywordAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// ListForSite returns all keyword rows of a site ordered by keyword and page.
func (a *KeywordAdapter) ListForSite(ctx context.Context, userID, siteURL string) ([]*entities.Keyword, error) {
	query, args, err := a.db.From(keywordTable).
		Select("user_id", "site_url", "keyword", "page", "clicks", "impressions", "ctr", "position").
		Where(goqu.Ex{"user_id": userID, "site_url": siteURL}).
		Order(goqu.I("keyword").Asc(), goqu.I("page").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build keyword query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewTransientFetchError("failed to list keywords", err)
	}
	defer rows.Close()

	keywords := make([]*entities.Keyword, 0)
	for rows.Next() {
		k := &entities.Keyword{}
		if err := rows.Scan(&k.UserID, &k.SiteURL, &k.Keyword, &k.Page, &k.Clicks, &k.Impressions, &k.CTR, &k.Position); err != nil {
			return nil, apperrors.NewTransientFetchError("failed to scan keyword", err)
		}
		keywords = append(keywords, k)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientFetchError("failed to iterate keywords", err)
	}

	return keywords, nil
}

// CountForSite counts the keyword rows of a site.
func (a *KeywordAdapter) CountForSite(ctx context.Context, userID, siteURL string) (int, error) {
	query, args, err := a.db.From(keywordTable).
		Select(goqu.COUNT("*")).
		Where(goqu.Ex{"user_id": userID, "site_url": siteURL}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build keyword count query", err)
	}

	var count int
	if err := a.client.DB().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, apperrors.NewTransientFetchError("failed to count keywords", err)
	}
	return count, nil
}

// ListForPage returns the distinct keywords a page ranked for.
func (a *KeywordAdapter) ListForPage(ctx context.Context, userID, siteURL, pageURL string) ([]string, error) {
	query, args, err := a.db.From(keywordTable).
		Select("keyword").
		Distinct().
		Where(goqu.Ex{"user_id": userID, "site_url": siteURL, "page": pageURL}).
		Order(goqu.I("keyword").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build page keyword query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewTransientFetchError("failed to list page keywords", err)
	}
	defer rows.Close()

	keywords := make([]string, 0)
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, apperrors.NewTransientFetchError("failed to scan page keyword", err)
		}
		keywords = append(keywords, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientFetchError("failed to iterate page keywords", err)
	}

	return keywords, nil
}
