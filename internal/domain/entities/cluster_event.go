package entities

import (
	"time"

	"github.com/google/uuid"
)

// ClusterEventType represents the type of cluster event
type ClusterEventType string

const (
	ClusterEventGenerationReplaced ClusterEventType = "cluster.generation_replaced"
	ClusterEventCoverageRecomputed ClusterEventType = "coverage.recomputed"
)

// ClusterEvent announces a change to a site's derived cluster data.
type ClusterEvent struct {
	ID           string           `json:"id"`
	EventType    ClusterEventType `json:"event_type"`
	UserID       string           `json:"user_id"`
	SiteURL      string           `json:"site_url"`
	JobID        string           `json:"job_id,omitempty"`
	ClusterCount int              `json:"cluster_count,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// NewClusterEvent creates a new cluster event
func NewClusterEvent(eventType ClusterEventType, userID, siteURL, jobID string) *ClusterEvent {
	return &ClusterEvent{
		ID:        uuid.New().String(),
		EventType: eventType,
		UserID:    userID,
		SiteURL:   siteURL,
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}
