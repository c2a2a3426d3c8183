package entities

import "time"

// Cluster is a group of related keywords named after its seed keyword.
type Cluster struct {
	ID          string              `json:"id" db:"id"`
	UserID      string              `json:"user_id" db:"user_id"`
	SiteURL     string              `json:"site_url" db:"site_url"`
	Name        string              `json:"name" db:"name"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	Memberships []ClusterMembership `json:"memberships,omitempty" db:"-"`
}

// ClusterMembership places a keyword in a cluster. RelevanceScore is the
// keyword's similarity to the cluster seed, in [0,1].
type ClusterMembership struct {
	ClusterID      string  `json:"cluster_id" db:"cluster_id"`
	Keyword        string  `json:"keyword" db:"keyword"`
	RelevanceScore float64 `json:"relevance_score" db:"relevance_score"`
}

// ContentClusterMapping records how well a content page covers a cluster.
type ContentClusterMapping struct {
	ContentID     string    `json:"content_id" db:"content_id"`
	ClusterID     string    `json:"cluster_id" db:"cluster_id"`
	CoverageScore float64   `json:"coverage_score" db:"coverage_score"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// ClusterView is the read model served to reporting and export consumers.
type ClusterView struct {
	ID        string                  `json:"id"`
	UserID    string                  `json:"user_id"`
	SiteURL   string                  `json:"site_url"`
	Name      string                  `json:"name"`
	CreatedAt time.Time               `json:"created_at"`
	Members   []ClusterMembership     `json:"members"`
	Coverage  []ContentClusterMapping `json:"coverage"`
}
