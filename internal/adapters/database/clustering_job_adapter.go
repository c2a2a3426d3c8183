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

const jobTable = "clustering_jobs"

var jobColumns = []interface{}{
	"id", "user_id", "site_url", "kind", "status", "min_similarity",
	"keyword_count", "cluster_count", "error_message", "created_at", "started_at", "finished_at",
}

// ClusteringJobAdapter persists background job records.
type ClusteringJobAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewClusteringJobAdapter creates a new clustering job adapter
func NewClusteringJobAdapter(client *postgres.Client) repositories.ClusteringJobRepository {
	return &ClusteringJobAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func scanJob(row rowScanner) (*entities.ClusteringJob, error) {
	job := &entities.ClusteringJob{}
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.UserID, &job.SiteURL, &job.Kind, &job.Status, &job.MinSimilarity,
		&job.KeywordCount, &job.ClusterCount, &job.ErrorMessage, &job.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return job, nil
}

// Create inserts a new job record
func (a *ClusteringJobAdapter) Create(ctx context.Context, job *entities.ClusteringJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	query, args, err := a.db.Insert(jobTable).Rows(goqu.Record{
		"id":             job.ID,
		"user_id":        job.UserID,
		"site_url":       job.SiteURL,
		"kind":           string(job.Kind),
		"status":         string(job.Status),
		"min_similarity": job.MinSimilarity,
		"keyword_count":  job.KeywordCount,
		"cluster_count":  job.ClusterCount,
		"error_message":  job.ErrorMessage,
		"created_at":     job.CreatedAt,
		"started_at":     nullableTime(job.StartedAt),
		"finished_at":    nullableTime(job.FinishedAt),
	}).Prepared(true).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build job insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewPersistenceError("failed to create job", err)
	}
	return nil
}

// Update writes the mutable fields of a job record
func (a *ClusteringJobAdapter) Update(ctx context.Context, job *entities.ClusteringJob) error {
	query, args, err := a.db.Update(jobTable).Set(goqu.Record{
		"status":        string(job.Status),
		"keyword_count": job.KeywordCount,
		"cluster_count": job.ClusterCount,
		"error_message": job.ErrorMessage,
		"started_at":    nullableTime(job.StartedAt),
		"finished_at":   nullableTime(job.FinishedAt),
	}).Where(goqu.Ex{"id": job.ID}).Prepared(true).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build job update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewPersistenceError("failed to update job", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("job %s not found", job.ID))
	}
	return nil
}

// GetByID retrieves a job by ID
func (a *ClusteringJobAdapter) GetByID(ctx context.Context, id string) (*entities.ClusteringJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("job %s not found", id))
	}

	query, args, err := a.db.From(jobTable).
		Select(jobColumns...).
		Where(goqu.Ex{"id": id}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build job query", err)
	}

	job, err := scanJob(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("job %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewTransientFetchError("failed to get job", err)
	}
	return job, nil
}

// FindActive returns the newest pending or running job for the site, or nil.
func (a *ClusteringJobAdapter) FindActive(ctx context.Context, userID, siteURL string) (*entities.ClusteringJob, error) {
	query, args, err := a.db.From(jobTable).
		Select(jobColumns...).
		Where(goqu.Ex{
			"user_id":  userID,
			"site_url": siteURL,
			"status":   []string{string(entities.JobStatusPending), string(entities.JobStatusRunning)},
		}).
		Order(goqu.I("created_at").Desc()).
		Limit(1).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build active job query", err)
	}

	job, err := scanJob(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewTransientFetchError("failed to find active job", err)
	}
	return job, nil
}

// FailStale marks abandoned jobs as failed. A job is abandoned when it is
// still pending or running and neither started nor was created after olderThan.
func (a *ClusteringJobAdapter) FailStale(ctx context.Context, olderThan time.Time, message string) (int, error) {
	query, args, err := a.db.Update(jobTable).Set(goqu.Record{
		"status":        string(entities.JobStatusFailed),
		"error_message": message,
		"finished_at":   time.Now().UTC(),
	}).Where(
		goqu.C("status").In(string(entities.JobStatusPending), string(entities.JobStatusRunning)),
		goqu.L("COALESCE(started_at, created_at)").Lt(olderThan),
	).Prepared(true).ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build stale job update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperrors.NewPersistenceError("failed to fail stale jobs", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.NewPersistenceError("failed to count stale jobs", err)
	}
	return int(n), nil
}
