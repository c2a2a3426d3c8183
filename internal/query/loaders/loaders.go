package loaders

import (
	"context"
	"net/http"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
)

type ctxKey string

const loadersKey ctxKey = "dataloaders"

// Loaders batch the per-cluster reads of one request.
type Loaders struct {
	MembershipLoader *dataloader.Loader[string, []entities.ClusterMembership]
	CoverageLoader   *dataloader.Loader[string, []entities.ContentClusterMapping]
}

// NewLoaders creates request-scoped loaders. A cluster with no rows resolves
// to an empty slice rather than an error.
func NewLoaders(clusterRepo repositories.ClusterRepository, coverageRepo repositories.ContentCoverageRepository) *Loaders {
	return &Loaders{
		MembershipLoader: dataloader.NewBatchedLoader(func(ctx context.Context, keys []string) []*dataloader.Result[[]entities.ClusterMembership] {
			results := make([]*dataloader.Result[[]entities.ClusterMembership], len(keys))
			byCluster, err := clusterRepo.ListMemberships(ctx, keys)
			for i, key := range keys {
				if err != nil {
					results[i] = &dataloader.Result[[]entities.ClusterMembership]{Error: err}
					continue
				}
				members := byCluster[key]
				if members == nil {
					members = []entities.ClusterMembership{}
				}
				results[i] = &dataloader.Result[[]entities.ClusterMembership]{Data: members}
			}
			return results
		}),
		CoverageLoader: dataloader.NewBatchedLoader(func(ctx context.Context, keys []string) []*dataloader.Result[[]entities.ContentClusterMapping] {
			results := make([]*dataloader.Result[[]entities.ContentClusterMapping], len(keys))
			byCluster, err := coverageRepo.ListByClusterIDs(ctx, keys)
			for i, key := range keys {
				if err != nil {
					results[i] = &dataloader.Result[[]entities.ContentClusterMapping]{Error: err}
					continue
				}
				rows := byCluster[key]
				if rows == nil {
					rows = []entities.ContentClusterMapping{}
				}
				results[i] = &dataloader.Result[[]entities.ContentClusterMapping]{Data: rows}
			}
			return results
		}),
	}
}

// For returns the loaders attached to ctx, if any.
func For(ctx context.Context) (*Loaders, bool) {
	l, ok := ctx.Value(loadersKey).(*Loaders)
	return l, ok
}

// WithLoaders returns a new context with the loaders attached
func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

// Middleware installs fresh loaders on every request, so batches and their
// caches never outlive the request that filled them.
func Middleware(clusterRepo repositories.ClusterRepository, coverageRepo repositories.ContentCoverageRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithLoaders(r.Context(), NewLoaders(clusterRepo, coverageRepo))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Ensure returns ctx with loaders attached, reusing any already present.
func Ensure(ctx context.Context, clusterRepo repositories.ClusterRepository, coverageRepo repositories.ContentCoverageRepository) (context.Context, *Loaders) {
	if l, ok := For(ctx); ok {
		return ctx, l
	}
	l := NewLoaders(clusterRepo, coverageRepo)
	return WithLoaders(ctx, l), l
}
