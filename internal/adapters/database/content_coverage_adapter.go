package database

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

const coverageTable = "content_cluster_mappings"

// ContentCoverageAdapter stores content-to-cluster coverage rows.
type ContentCoverageAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewContentCoverageAdapter creates a new content coverage adapter
func NewContentCoverageAdapter(client *postgres.Client) repositories.ContentCoverageRepository {
	return &ContentCoverageAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// ReplaceForContent deletes and rewrites every mapping of one content item.
func (a *ContentCoverageAdapter) ReplaceForContent(ctx context.Context, contentID string, mappings []entities.ContentClusterMapping) (err error) {
	defer a.client.Observe(ctx, "coverage.replace", time.Now())

	tx, err := a.client.BeginTx(ctx)
	if err != nil {
		return apperrors.NewPersistenceError("failed to begin coverage transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query, args, err := a.db.Delete(coverageTable).
		Where(goqu.Ex{"content_id": contentID}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build coverage delete query", err)
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewPersistenceError("failed to delete previous coverage", err)
	}

	if len(mappings) > 0 {
		now := time.Now().UTC()
		records := make([]interface{}, 0, len(mappings))
		for i := range mappings {
			m := &mappings[i]
			m.ContentID = contentID
			if m.UpdatedAt.IsZero() {
				m.UpdatedAt = now
			}
			records = append(records, goqu.Record{
				"content_id":     m.ContentID,
				"cluster_id":     m.ClusterID,
				"coverage_score": m.CoverageScore,
				"updated_at":     m.UpdatedAt,
			})
		}

		for start := 0; start < len(records); start += insertChunkSize {
			end := min(start+insertChunkSize, len(records))
			query, args, err = a.db.Insert(coverageTable).Rows(records[start:end]...).Prepared(true).ToSQL()
			if err != nil {
				return apperrors.NewInternalError("failed to build coverage insert query", err)
			}
			if _, err = tx.ExecContext(ctx, query, args...); err != nil {
				return apperrors.NewPersistenceError("failed to insert coverage", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.NewPersistenceError("failed to commit coverage", err)
	}
	return nil
}

// ListByClusterIDs returns coverage rows keyed by cluster ID, best coverage first.
func (a *ContentCoverageAdapter) ListByClusterIDs(ctx context.Context, clusterIDs []string) (map[string][]entities.ContentClusterMapping, error) {
	result := make(map[string][]entities.ContentClusterMapping, len(clusterIDs))
	if len(clusterIDs) == 0 {
		return result, nil
	}

	query, args, err := a.db.From(coverageTable).
		Select("content_id", "cluster_id", "coverage_score", "updated_at").
		Where(goqu.L("? = ANY(?)", goqu.C("cluster_id"), pq.Array(clusterIDs))).
		Order(goqu.I("cluster_id").Asc(), goqu.I("coverage_score").Desc(), goqu.I("content_id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build coverage query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewTransientFetchError("failed to list coverage", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m entities.ContentClusterMapping
		if err := rows.Scan(&m.ContentID, &m.ClusterID, &m.CoverageScore, &m.UpdatedAt); err != nil {
			return nil, apperrors.NewTransientFetchError("failed to scan coverage", err)
		}
		result[m.ClusterID] = append(result[m.ClusterID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientFetchError("failed to iterate coverage", err)
	}
	return result, nil
}
