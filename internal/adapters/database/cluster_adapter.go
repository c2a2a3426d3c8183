package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

const (
	clusterTable    = "keyword_clusters"
	membershipTable = "keyword_cluster_mappings"

	// Postgres caps bind parameters at 65535 per statement.
	insertChunkSize = 1000
)

// ClusterAdapter persists cluster generations in Postgres.
type ClusterAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewClusterAdapter creates a new cluster adapter
func NewClusterAdapter(client *postgres.Client) repositories.ClusterRepository {
	return &ClusterAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// ReplaceForSite swaps the site's cluster generation inside one transaction.
// Memberships and content mappings of the old generation go with it through
// ON DELETE CASCADE.
func (a *ClusterAdapter) ReplaceForSite(ctx context.Context, userID, siteURL string, clusters []*entities.Cluster) (err error) {
	defer a.client.Observe(ctx, "clusters.replace", time.Now())

	tx, err := a.client.BeginTx(ctx)
	if err != nil {
		return apperrors.NewPersistenceError("failed to begin cluster transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// serializes writers of the same site even if the application lock is lost
	if _, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", userID+"|"+siteURL); err != nil {
		return apperrors.NewPersistenceError("failed to take site advisory lock", err)
	}

	query, args, err := a.db.Delete(clusterTable).
		Where(goqu.Ex{"user_id": userID, "site_url": siteURL}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build cluster delete query", err)
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewPersistenceError("failed to delete previous clusters", err)
	}

	if len(clusters) > 0 {
		if err = a.insertClusters(ctx, tx, userID, siteURL, clusters); err != nil {
			return err
		}
		if err = a.insertMemberships(ctx, tx, clusters); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.NewPersistenceError("failed to commit cluster generation", err)
	}
	return nil
}

func (a *ClusterAdapter) insertClusters(ctx context.Context, tx *sql.Tx, userID, siteURL string, clusters []*entities.Cluster) error {
	now := time.Now().UTC()
	records := make([]interface{}, 0, len(clusters))
	for _, c := range clusters {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UserID = userID
		c.SiteURL = siteURL
		records = append(records, goqu.Record{
			"id":         c.ID,
			"user_id":    c.UserID,
			"site_url":   c.SiteURL,
			"name":       c.Name,
			"created_at": c.CreatedAt,
		})
	}

	for start := 0; start < len(records); start += insertChunkSize {
		end := min(start+insertChunkSize, len(records))
		query, args, err := a.db.Insert(clusterTable).Rows(records[start:end]...).Prepared(true).ToSQL()
		if err != nil {
			return apperrors.NewInternalError("failed to build cluster insert query", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return apperrors.NewPersistenceError("failed to insert clusters", err)
		}
	}
	return nil
}

func (a *ClusterAdapter) insertMemberships(ctx context.Context, tx *sql.Tx, clusters []*entities.Cluster) error {
	records := make([]interface{}, 0)
	for _, c := range clusters {
		if len(c.Memberships) == 0 {
			return apperrors.NewPersistenceError(fmt.Sprintf("cluster %q has no memberships", c.Name), nil)
		}
		for i := range c.Memberships {
			m := &c.Memberships[i]
			m.ClusterID = c.ID
			records = append(records, goqu.Record{
				"cluster_id":      m.ClusterID,
				"keyword":         m.Keyword,
				"relevance_score": m.RelevanceScore,
			})
		}
	}

	for start := 0; start < len(records); start += insertChunkSize {
		end := min(start+insertChunkSize, len(records))
		query, args, err := a.db.Insert(membershipTable).Rows(records[start:end]...).Prepared(true).ToSQL()
		if err != nil {
			return apperrors.NewInternalError("failed to build membership insert query", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return apperrors.NewPersistenceError("failed to insert cluster memberships", err)
		}
	}
	return nil
}

// ListForSite returns the site's clusters ordered by name.
func (a *ClusterAdapter) ListForSite(ctx context.Context, userID, siteURL string) ([]*entities.Cluster, error) {
	query, args, err := a.db.From(clusterTable).
		Select("id", "user_id", "site_url", "name", "created_at").
		Where(goqu.Ex{"user_id": userID, "site_url": siteURL}).
		Order(goqu.I("name").Asc(), goqu.I("id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build cluster list query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewTransientFetchError("failed to list clusters", err)
	}
	defer rows.Close()

	clusters := make([]*entities.Cluster, 0)
	for rows.Next() {
		c := &entities.Cluster{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.SiteURL, &c.Name, &c.CreatedAt); err != nil {
			return nil, apperrors.NewTransientFetchError("failed to scan cluster", err)
		}
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientFetchError("failed to iterate clusters", err)
	}
	return clusters, nil
}

// GetByID returns one cluster with its memberships.
func (a *ClusterAdapter) GetByID(ctx context.Context, clusterID string) (*entities.Cluster, error) {
	if _, err := uuid.Parse(clusterID); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("cluster %s not found", clusterID))
	}

	query, args, err := a.db.From(clusterTable).
		Select("id", "user_id", "site_url", "name", "created_at").
		Where(goqu.Ex{"id": clusterID}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build cluster query", err)
	}

	c := &entities.Cluster{}
	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.UserID, &c.SiteURL, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("cluster %s not found", clusterID))
	}
	if err != nil {
		return nil, apperrors.NewTransientFetchError("failed to get cluster", err)
	}

	memberships, err := a.ListMemberships(ctx, []string{clusterID})
	if err != nil {
		return nil, err
	}
	c.Memberships = memberships[clusterID]
	return c, nil
}

// ListMemberships returns memberships grouped by cluster, highest relevance first.
func (a *ClusterAdapter) ListMemberships(ctx context.Context, clusterIDs []string) (map[string][]entities.ClusterMembership, error) {
	result := make(map[string][]entities.ClusterMembership, len(clusterIDs))
	if len(clusterIDs) == 0 {
		return result, nil
	}

	query, args, err := a.db.From(membershipTable).
		Select("cluster_id", "keyword", "relevance_score").
		Where(goqu.L("? = ANY(?)", goqu.C("cluster_id"), pq.Array(clusterIDs))).
		Order(goqu.I("cluster_id").Asc(), goqu.I("relevance_score").Desc(), goqu.I("keyword").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build membership query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewTransientFetchError("failed to list cluster memberships", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m entities.ClusterMembership
		if err := rows.Scan(&m.ClusterID, &m.Keyword, &m.RelevanceScore); err != nil {
			return nil, apperrors.NewTransientFetchError("failed to scan cluster membership", err)
		}
		result[m.ClusterID] = append(result[m.ClusterID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientFetchError("failed to iterate cluster memberships", err)
	}
	return result, nil
}
