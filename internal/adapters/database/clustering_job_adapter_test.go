package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

var jobColumnNames = []string{
	"id", "user_id", "site_url", "kind", "status", "min_similarity",
	"keyword_count", "cluster_count", "error_message", "created_at", "started_at", "finished_at",
}

func TestClusteringJobAdapter_CreateAssignsID(t *testing.T) {
	client, mock := setupMockClient(t)
	adapter := NewClusteringJobAdapter(client)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "clustering_jobs"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &entities.ClusteringJob{
		UserID:        "u1",
		SiteURL:       "https://example.com",
		Kind:          entities.JobKindClustering,
		Status:        entities.JobStatusPending,
		MinSimilarity: 0.3,
	}
	require.NoError(t, adapter.Create(context.Background(), job))
	_, err := uuid.Parse(job.ID)
	assert.NoError(t, err)
	assert.False(t, job.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClusteringJobAdapter_GetByID(t *testing.T) {
	client, mock := setupMockClient(t)
	adapter := NewClusteringJobAdapter(client)
	id := uuid.New().String()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	started := created.Add(time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "clustering_jobs"`)).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).
			AddRow(id, "u1", "https://example.com", "clustering", "running", 0.3, 120, 0, "", created, started, nil))

	job, err := adapter.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entities.JobStatusRunning, job.Status)
	assert.Equal(t, entities.JobKindClustering, job.Kind)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, started, *job.StartedAt)
	assert.Nil(t, job.FinishedAt)
}

func TestClusteringJobAdapter_GetByID_InvalidIDIsNotFound(t *testing.T) {
	client, mock := setupMockClient(t)
	adapter := NewClusteringJobAdapter(client)

	_, err := adapter.GetByID(context.Background(), "not-a-uuid")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClusteringJobAdapter_FindActive_None(t *testing.T) {
	client, mock := setupMockClient(t)
	adapter := NewClusteringJobAdapter(client)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "clustering_jobs"`)).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	job, err := adapter.FindActive(context.Background(), "u1", "https://example.com")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClusteringJobAdapter_UpdateMissingRow(t *testing.T) {
	client, mock := setupMockClient(t)
	adapter := NewClusteringJobAdapter(client)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "clustering_jobs"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := adapter.Update(context.Background(), &entities.ClusteringJob{ID: uuid.New().String(), Status: entities.JobStatusDone})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestClusteringJobAdapter_FailStale(t *testing.T) {
	client, mock := setupMockClient(t)
	adapter := NewClusteringJobAdapter(client)
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "clustering_jobs"`)).
		WithArgs("interrupted", sqlmock.AnyArg(), "failed", "pending", "running", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := adapter.FailStale(context.Background(), cutoff, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClusteringJobAdapter_FailStale_ExecError(t *testing.T) {
	client, mock := setupMockClient(t)
	adapter := NewClusteringJobAdapter(client)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "clustering_jobs"`)).
		WillReturnError(errors.New("connection refused"))

	_, err := adapter.FailStale(context.Background(), time.Now(), "interrupted")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypePersistence))
}
