package repositories

import (
	"context"

	"github.com/zatekoja/keywordclusters/internal/domain/entities"
)

// KeywordRepository reads ingested search analytics rows. It is read-only:
// the ingestion job owns the table.
type KeywordRepository interface {
	// ListForSite returns every keyword row for the site as a point-in-time snapshot.
	ListForSite(ctx context.Context, userID, siteURL string) ([]*entities.Keyword, error)

	// CountForSite returns the number of keyword rows for the site.
	CountForSite(ctx context.Context, userID, siteURL string) (int, error)

	// ListForPage returns the distinct keywords that ranked for a page.
	ListForPage(ctx context.Context, userID, siteURL, pageURL string) ([]string, error)
}
