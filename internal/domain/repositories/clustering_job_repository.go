package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/keywordclusters/internal/domain/entities"
)

// ClusteringJobRepository stores the pollable job records.
type ClusteringJobRepository interface {
	Create(ctx context.Context, job *entities.ClusteringJob) error
	Update(ctx context.Context, job *entities.ClusteringJob) error
	GetByID(ctx context.Context, id string) (*entities.ClusteringJob, error)

	// FindActive returns the newest pending or running job for the site, or nil.
	FindActive(ctx context.Context, userID, siteURL string) (*entities.ClusteringJob, error)

	// FailStale marks every pending or running job last touched before
	// olderThan as failed with the given message and returns how many changed.
	FailStale(ctx context.Context, olderThan time.Time, message string) (int, error)
}
