package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/keywordclusters/internal/domain/entities"
)

// ContentRepository reads the crawled content inventory.
type ContentRepository interface {
	GetByID(ctx context.Context, contentID string) (*entities.ContentItem, error)
	ListForSite(ctx context.Context, userID, siteURL string) ([]*entities.ContentItem, error)
	UpdatePerformanceScore(ctx context.Context, contentID string, score float64) error
}

// ContentCoverageRepository stores derived content-to-cluster coverage rows.
type ContentCoverageRepository interface {
	// ReplaceForContent swaps all mappings of one content item in a single transaction.
	ReplaceForContent(ctx context.Context, contentID string, mappings []entities.ContentClusterMapping) error

	// ListByClusterIDs returns coverage rows keyed by cluster ID.
	ListByClusterIDs(ctx context.Context, clusterIDs []string) (map[string][]entities.ContentClusterMapping, error)
}

// AnalyticsRepository reads daily analytics snapshots for content items.
type AnalyticsRepository interface {
	ListSnapshots(ctx context.Context, contentID string, since time.Time) ([]*entities.ContentAnalyticsSnapshot, error)
}
