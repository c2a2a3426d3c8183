package providers

import (
	"context"

	"github.com/zatekoja/keywordclusters/internal/domain/entities"
)

// ClusterSearchHit is one cluster returned by a search.
type ClusterSearchHit struct {
	ClusterID string   `json:"cluster_id"`
	Name      string   `json:"name"`
	Keywords  []string `json:"keywords"`
	Score     float64  `json:"score"`
}

// ClusterSearchIndex makes cluster names and keywords searchable.
type ClusterSearchIndex interface {
	// IndexSite replaces every indexed cluster of the site with the given generation.
	IndexSite(ctx context.Context, userID, siteURL string, clusters []*entities.Cluster) error

	Search(ctx context.Context, userID, siteURL, query string, limit int) ([]ClusterSearchHit, error)
}
