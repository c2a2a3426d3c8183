package resolvers

import (
	"context"
	"net/http"
	"strings"

	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
	"github.com/zatekoja/keywordclusters/internal/query/loaders"
	querysvc "github.com/zatekoja/keywordclusters/internal/query/services"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

// ClusterReader is the read side the resolvers serve clusters from.
type ClusterReader interface {
	ListClusters(ctx context.Context, userID, siteURL string) ([]*entities.Cluster, error)
	GetCluster(ctx context.Context, userID, clusterID string) (*entities.Cluster, error)
	SearchClusters(ctx context.Context, userID, siteURL, q string, limit int) ([]providers.ClusterSearchHit, error)
}

// JobReader looks up background runs.
type JobReader interface {
	GetJob(ctx context.Context, userID, jobID string) (*entities.ClusteringJob, error)
}

// Resolver holds the dependencies of the GraphQL read surface.
type Resolver struct {
	clusters     ClusterReader
	jobs         JobReader
	clusterRepo  repositories.ClusterRepository
	coverageRepo repositories.ContentCoverageRepository
}

// NewResolver creates a new resolver with dependencies. The repositories back
// the per-request loaders for members and coverage.
func NewResolver(
	clusters ClusterReader,
	jobs JobReader,
	clusterRepo repositories.ClusterRepository,
	coverageRepo repositories.ContentCoverageRepository,
) *Resolver {
	return &Resolver{
		clusters:     clusters,
		jobs:         jobs,
		clusterRepo:  clusterRepo,
		coverageRepo: coverageRepo,
	}
}

type userKey struct{}

// WithUser scopes ctx to a tenant.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func userFrom(ctx context.Context) (string, error) {
	userID, _ := ctx.Value(userKey{}).(string)
	if userID == "" {
		return "", apperrors.NewValidationError("user is required")
	}
	return userID, nil
}

// RequireTenant rejects requests without the tenant header and scopes the
// rest to it.
func RequireTenant(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(header))
			if userID == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"errors":[{"message":"missing ` + header + ` header"}]}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

func (r *Resolver) withLoaders(ctx context.Context) context.Context {
	ctx, _ = loaders.Ensure(ctx, r.clusterRepo, r.coverageRepo)
	return ctx
}

// Clusters resolves Query.clusters.
func (r *Resolver) Clusters(ctx context.Context, siteURL string) ([]*entities.Cluster, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	return r.clusters.ListClusters(ctx, userID, siteURL)
}

// Cluster resolves Query.cluster. An unknown cluster resolves to null.
func (r *Resolver) Cluster(ctx context.Context, id string) (*entities.Cluster, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	cluster, err := r.clusters.GetCluster(ctx, userID, id)
	if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return nil, nil
	}
	return cluster, err
}

// SearchClusters resolves Query.searchClusters.
func (r *Resolver) SearchClusters(ctx context.Context, siteURL, query string, limit int) ([]providers.ClusterSearchHit, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	return r.clusters.SearchClusters(ctx, userID, siteURL, query, limit)
}

// ClusteringJob resolves Query.clusteringJob. An unknown job resolves to null.
func (r *Resolver) ClusteringJob(ctx context.Context, id string) (*entities.ClusteringJob, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	job, err := r.jobs.GetJob(ctx, userID, id)
	if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return nil, nil
	}
	return job, err
}

// Members resolves Cluster.members through the request's membership loader.
func (r *Resolver) Members(ctx context.Context, cluster *entities.Cluster) ([]entities.ClusterMembership, error) {
	l, ok := loaders.For(ctx)
	if !ok {
		l = loaders.NewLoaders(r.clusterRepo, r.coverageRepo)
	}
	members, err := l.MembershipLoader.Load(ctx, cluster.ID)()
	if err != nil {
		return nil, err
	}
	return querysvc.OrderMembers(members), nil
}

// Coverage resolves Cluster.coverage through the request's coverage loader.
func (r *Resolver) Coverage(ctx context.Context, cluster *entities.Cluster) ([]entities.ContentClusterMapping, error) {
	l, ok := loaders.For(ctx)
	if !ok {
		l = loaders.NewLoaders(r.clusterRepo, r.coverageRepo)
	}
	rows, err := l.CoverageLoader.Load(ctx, cluster.ID)()
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []entities.ContentClusterMapping{}
	}
	return rows, nil
}
