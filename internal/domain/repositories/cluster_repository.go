package repositories

import (
	"context"

	"github.com/zatekoja/keywordclusters/internal/domain/entities"
)

// ClusterRepository persists cluster generations. The clustering run is the
// only writer for a given site.
type ClusterRepository interface {
	// ReplaceForSite atomically deletes the site's previous clusters (with their
	// memberships and content mappings) and inserts the new generation.
	ReplaceForSite(ctx context.Context, userID, siteURL string, clusters []*entities.Cluster) error

	// ListForSite returns the site's clusters without memberships.
	ListForSite(ctx context.Context, userID, siteURL string) ([]*entities.Cluster, error)

	// GetByID returns a cluster with its memberships.
	GetByID(ctx context.Context, clusterID string) (*entities.Cluster, error)

	// ListMemberships returns memberships for the given clusters keyed by cluster ID.
	ListMemberships(ctx context.Context, clusterIDs []string) (map[string][]entities.ClusterMembership, error)
}
