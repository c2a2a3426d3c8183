package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
	"github.com/zatekoja/keywordclusters/internal/query/adapters"
	"github.com/zatekoja/keywordclusters/internal/query/services"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

const (
	user = "user-1"
	site = "https://shop.example.com"
)

type stubClusterRepo struct {
	mu              sync.Mutex
	clusters        []*entities.Cluster
	memberships     map[string][]entities.ClusterMembership
	listCalls       int
	membershipCalls [][]string
}

func (r *stubClusterRepo) ReplaceForSite(ctx context.Context, userID, siteURL string, clusters []*entities.Cluster) error {
	return nil
}

func (r *stubClusterRepo) ListForSite(ctx context.Context, userID, siteURL string) ([]*entities.Cluster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	return r.clusters, nil
}

func (r *stubClusterRepo) GetByID(ctx context.Context, clusterID string) (*entities.Cluster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clusters {
		if c.ID == clusterID {
			return c, nil
		}
	}
	return nil, apperrors.NewNotFoundError("not found")
}

func (r *stubClusterRepo) ListMemberships(ctx context.Context, clusterIDs []string) (map[string][]entities.ClusterMembership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.membershipCalls = append(r.membershipCalls, clusterIDs)
	out := make(map[string][]entities.ClusterMembership)
	for _, id := range clusterIDs {
		if m, ok := r.memberships[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

type stubCoverageRepo struct {
	rows map[string][]entities.ContentClusterMapping
	err  error
}

func (r *stubCoverageRepo) ReplaceForContent(ctx context.Context, contentID string, mappings []entities.ContentClusterMapping) error {
	return nil
}

func (r *stubCoverageRepo) ListByClusterIDs(ctx context.Context, clusterIDs []string) (map[string][]entities.ContentClusterMapping, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string][]entities.ContentClusterMapping)
	for _, id := range clusterIDs {
		if rows, ok := r.rows[id]; ok {
			out[id] = rows
		}
	}
	return out, nil
}

// memoryCache is a byte cache behind the query cache adapter.
type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]byte{}}
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.data[key]; ok {
		return v, nil
	}
	return nil, providers.ErrCacheMiss
}

func (c *memoryCache) Set(ctx context.Context, key string, value []byte, expirationSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memoryCache) DeletePattern(ctx context.Context, pattern string) error {
	return nil
}

func (c *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

type MockClusterSearchIndex struct {
	mock.Mock
}

func (m *MockClusterSearchIndex) IndexSite(ctx context.Context, userID, siteURL string, clusters []*entities.Cluster) error {
	return m.Called(ctx, userID, siteURL, clusters).Error(0)
}

func (m *MockClusterSearchIndex) Search(ctx context.Context, userID, siteURL, query string, limit int) ([]providers.ClusterSearchHit, error) {
	args := m.Called(ctx, userID, siteURL, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]providers.ClusterSearchHit), args.Error(1)
}

func fixtureRepos() (*stubClusterRepo, *stubCoverageRepo) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clusters := &stubClusterRepo{
		clusters: []*entities.Cluster{
			{ID: "c-pizza", UserID: user, SiteURL: site, Name: "Pizza Delivery", CreatedAt: created},
			{ID: "c-shoes", UserID: user, SiteURL: site, Name: "Running Shoes", CreatedAt: created},
		},
		memberships: map[string][]entities.ClusterMembership{
			"c-shoes": {
				{ClusterID: "c-shoes", Keyword: "trail running shoes", RelevanceScore: 0.8333},
				{ClusterID: "c-shoes", Keyword: "running shoes", RelevanceScore: 1},
				{ClusterID: "c-shoes", Keyword: "best running shoes", RelevanceScore: 0.8333},
			},
			"c-pizza": {{ClusterID: "c-pizza", Keyword: "pizza delivery", RelevanceScore: 1}},
		},
	}
	coverage := &stubCoverageRepo{rows: map[string][]entities.ContentClusterMapping{
		"c-shoes": {{ContentID: "page-1", ClusterID: "c-shoes", CoverageScore: 0.6875}},
	}}
	return clusters, coverage
}

func TestClusterQueryService_GetClusters(t *testing.T) {
	clusters, coverage := fixtureRepos()
	svc := services.NewClusterQueryService(clusters, coverage, nil, nil)

	views, err := svc.GetClusters(context.Background(), user, site)
	require.NoError(t, err)
	require.Len(t, views, 2)

	shoes := views[1]
	assert.Equal(t, "Running Shoes", shoes.Name)
	require.Len(t, shoes.Members, 3)
	assert.Equal(t, "running shoes", shoes.Members[0].Keyword)
	assert.Equal(t, "best running shoes", shoes.Members[1].Keyword)
	assert.Equal(t, "trail running shoes", shoes.Members[2].Keyword)
	require.Len(t, shoes.Coverage, 1)
	assert.Equal(t, 0.6875, shoes.Coverage[0].CoverageScore)

	assert.NotNil(t, views[0].Coverage)
	assert.Empty(t, views[0].Coverage)

	// memberships for every cluster are fetched in one batch
	require.Len(t, clusters.membershipCalls, 1)
	assert.ElementsMatch(t, []string{"c-pizza", "c-shoes"}, clusters.membershipCalls[0])
}

func TestClusterQueryService_GetClustersUsesCache(t *testing.T) {
	clusters, coverage := fixtureRepos()
	cache := newMemoryCache()
	svc := services.NewClusterQueryService(clusters, coverage, adapters.NewQueryCacheAdapter(cache), nil)

	first, err := svc.GetClusters(context.Background(), user, site)
	require.NoError(t, err)
	second, err := svc.GetClusters(context.Background(), user, site)
	require.NoError(t, err)

	assert.Equal(t, 1, clusters.listCalls)
	require.Len(t, second, len(first))
	assert.Equal(t, first[1].Members, second[1].Members)
	assert.True(t, first[1].CreatedAt.Equal(second[1].CreatedAt))

	ok, _ := cache.Exists(context.Background(), providers.ClusterCacheKey(user, site, "views"))
	assert.True(t, ok)
}

func TestClusterQueryService_WarmClusterViewsFillsCache(t *testing.T) {
	clusters, coverage := fixtureRepos()
	cache := newMemoryCache()
	svc := services.NewClusterQueryService(clusters, coverage, adapters.NewQueryCacheAdapter(cache), nil)

	count, err := svc.WarmClusterViews(context.Background(), user, site)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ok, _ := cache.Exists(context.Background(), providers.ClusterCacheKey(user, site, "views"))
	assert.True(t, ok)

	_, err = svc.GetClusters(context.Background(), user, site)
	require.NoError(t, err)
	assert.Equal(t, 1, clusters.listCalls)
}

func TestClusterQueryService_GetClustersEmptySite(t *testing.T) {
	svc := services.NewClusterQueryService(&stubClusterRepo{}, &stubCoverageRepo{}, nil, nil)

	views, err := svc.GetClusters(context.Background(), user, site)
	require.NoError(t, err)
	assert.NotNil(t, views)
	assert.Empty(t, views)
}

func TestClusterQueryService_GetClustersPropagatesLoadError(t *testing.T) {
	clusters, coverage := fixtureRepos()
	coverage.err = apperrors.NewTransientFetchError("coverage unavailable", errors.New("timeout"))
	svc := services.NewClusterQueryService(clusters, coverage, nil, nil)

	_, err := svc.GetClusters(context.Background(), user, site)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTransientFetch))
}

func TestClusterQueryService_SearchUsesIndex(t *testing.T) {
	clusters, coverage := fixtureRepos()
	index := new(MockClusterSearchIndex)
	expected := []providers.ClusterSearchHit{{ClusterID: "c-shoes", Name: "Running Shoes", Score: 1}}
	index.On("Search", mock.Anything, user, site, "running shoes", 20).Return(expected, nil).Once()
	svc := services.NewClusterQueryService(clusters, coverage, nil, index)

	hits, err := svc.SearchClusters(context.Background(), user, site, " running shoes ", 0)
	require.NoError(t, err)
	assert.Equal(t, expected, hits)
	assert.Zero(t, clusters.listCalls)
	index.AssertExpectations(t)
}

func TestClusterQueryService_SearchFallsBackWhenIndexFails(t *testing.T) {
	clusters, coverage := fixtureRepos()
	index := new(MockClusterSearchIndex)
	index.On("Search", mock.Anything, user, site, "trail shoes", 5).Return(nil, errors.New("connection refused"))
	svc := services.NewClusterQueryService(clusters, coverage, nil, index)

	hits, err := svc.SearchClusters(context.Background(), user, site, "trail shoes", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c-shoes", hits[0].ClusterID)
	assert.Greater(t, hits[0].Score, 0.0)
	assert.Len(t, hits[0].Keywords, 3)
}

func TestClusterQueryService_SearchWithoutIndex(t *testing.T) {
	clusters, coverage := fixtureRepos()
	svc := services.NewClusterQueryService(clusters, coverage, nil, nil)

	hits, err := svc.SearchClusters(context.Background(), user, site, "pizza", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Pizza Delivery", hits[0].Name)

	none, err := svc.SearchClusters(context.Background(), user, site, "garden hose", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.SearchClusters(context.Background(), user, site, "  ", 10)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestClusterQueryService_ListClusters(t *testing.T) {
	clusters, coverage := fixtureRepos()
	svc := services.NewClusterQueryService(clusters, coverage, nil, nil)

	list, err := svc.ListClusters(context.Background(), user, site)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Empty(t, clusters.membershipCalls)

	_, err = svc.ListClusters(context.Background(), user, " ")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestClusterQueryService_GetClusterChecksOwner(t *testing.T) {
	clusters, coverage := fixtureRepos()
	svc := services.NewClusterQueryService(clusters, coverage, nil, nil)

	cluster, err := svc.GetCluster(context.Background(), user, "c-shoes")
	require.NoError(t, err)
	assert.Equal(t, "Running Shoes", cluster.Name)

	_, err = svc.GetCluster(context.Background(), "user-2", "c-shoes")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	_, err = svc.GetCluster(context.Background(), user, "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestOrderMembers(t *testing.T) {
	assert.NotNil(t, services.OrderMembers(nil))

	in := []entities.ClusterMembership{
		{Keyword: "b", RelevanceScore: 0.5},
		{Keyword: "a", RelevanceScore: 0.5},
		{Keyword: "seed", RelevanceScore: 1},
	}
	out := services.OrderMembers(in)
	assert.Equal(t, []string{"seed", "a", "b"}, []string{out[0].Keyword, out[1].Keyword, out[2].Keyword})
	assert.Equal(t, "b", in[0].Keyword, "input is not reordered")
}
