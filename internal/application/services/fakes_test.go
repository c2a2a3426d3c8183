package services_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/zatekoja/keywordclusters/internal/application/services"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

const (
	testUser = "user-1"
	testSite = "https://shop.example.com"
)

func kw(keyword, page string, clicks, impressions int) *entities.Keyword {
	return &entities.Keyword{
		UserID:      testUser,
		SiteURL:     testSite,
		Keyword:     keyword,
		Page:        page,
		Clicks:      clicks,
		Impressions: impressions,
	}
}

// fakeKeywordRepo serves keyword rows from memory. failPages makes
// ListForPage fail with a transient error the given number of times.
type fakeKeywordRepo struct {
	mu        sync.Mutex
	rows      []*entities.Keyword
	failPages map[string]int
	calls     map[string]int
	listErr   error
}

func newFakeKeywordRepo(rows ...*entities.Keyword) *fakeKeywordRepo {
	return &fakeKeywordRepo{rows: rows, failPages: map[string]int{}, calls: map[string]int{}}
}

func (f *fakeKeywordRepo) ListForSite(ctx context.Context, userID, siteURL string) ([]*entities.Keyword, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*entities.Keyword, 0)
	for _, r := range f.rows {
		if r.UserID == userID && r.SiteURL == siteURL {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeKeywordRepo) CountForSite(ctx context.Context, userID, siteURL string) (int, error) {
	rows, err := f.ListForSite(ctx, userID, siteURL)
	return len(rows), err
}

func (f *fakeKeywordRepo) ListForPage(ctx context.Context, userID, siteURL, pageURL string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[pageURL]++
	if f.failPages[pageURL] > 0 {
		f.failPages[pageURL]--
		return nil, apperrors.NewTransientFetchError("keyword store unavailable", errors.New("timeout"))
	}
	seen := map[string]bool{}
	out := make([]string, 0)
	for _, r := range f.rows {
		if r.UserID == userID && r.SiteURL == siteURL && r.Page == pageURL && !seen[r.Keyword] {
			seen[r.Keyword] = true
			out = append(out, r.Keyword)
		}
	}
	sort.Strings(out)
	return out, nil
}

// fakeClusterRepo keeps one generation per site, like the real store.
type fakeClusterRepo struct {
	mu         sync.Mutex
	bySite     map[string][]*entities.Cluster
	replaceErr error
	replaces   int
}

func newFakeClusterRepo() *fakeClusterRepo {
	return &fakeClusterRepo{bySite: map[string][]*entities.Cluster{}}
}

func (f *fakeClusterRepo) ReplaceForSite(ctx context.Context, userID, siteURL string, clusters []*entities.Cluster) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaces++
	for _, c := range clusters {
		c.ID = uuid.New().String()
		c.UserID = userID
		c.SiteURL = siteURL
		c.CreatedAt = time.Now().UTC()
		for i := range c.Memberships {
			c.Memberships[i].ClusterID = c.ID
		}
	}
	f.bySite[userID+"|"+siteURL] = clusters
	return nil
}

func (f *fakeClusterRepo) ListForSite(ctx context.Context, userID, siteURL string) ([]*entities.Cluster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entities.Cluster, 0)
	for _, c := range f.bySite[userID+"|"+siteURL] {
		out = append(out, &entities.Cluster{ID: c.ID, UserID: c.UserID, SiteURL: c.SiteURL, Name: c.Name, CreatedAt: c.CreatedAt})
	}
	return out, nil
}

func (f *fakeClusterRepo) GetByID(ctx context.Context, clusterID string) (*entities.Cluster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, clusters := range f.bySite {
		for _, c := range clusters {
			if c.ID == clusterID {
				return c, nil
			}
		}
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("cluster %s not found", clusterID))
}

func (f *fakeClusterRepo) ListMemberships(ctx context.Context, clusterIDs []string) (map[string][]entities.ClusterMembership, error) {
	out := make(map[string][]entities.ClusterMembership)
	for _, id := range clusterIDs {
		c, err := f.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out[id] = append([]entities.ClusterMembership(nil), c.Memberships...)
	}
	return out, nil
}

func (f *fakeClusterRepo) clusterByName(userID, siteURL, name string) *entities.Cluster {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.bySite[userID+"|"+siteURL] {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type fakeContentRepo struct {
	mu     sync.Mutex
	items  []*entities.ContentItem
	scores map[string]float64
}

func newFakeContentRepo(items ...*entities.ContentItem) *fakeContentRepo {
	return &fakeContentRepo{items: items, scores: map[string]float64{}}
}

func (f *fakeContentRepo) GetByID(ctx context.Context, contentID string) (*entities.ContentItem, error) {
	for _, it := range f.items {
		if it.ID == contentID {
			return it, nil
		}
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("content %s not found", contentID))
}

func (f *fakeContentRepo) ListForSite(ctx context.Context, userID, siteURL string) ([]*entities.ContentItem, error) {
	out := make([]*entities.ContentItem, 0)
	for _, it := range f.items {
		if it.UserID == userID && it.SiteURL == siteURL {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeContentRepo) UpdatePerformanceScore(ctx context.Context, contentID string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[contentID] = score
	return nil
}

type fakeCoverageRepo struct {
	mu         sync.Mutex
	byContent  map[string][]entities.ContentClusterMapping
	replaceErr error
}

func newFakeCoverageRepo() *fakeCoverageRepo {
	return &fakeCoverageRepo{byContent: map[string][]entities.ContentClusterMapping{}}
}

func (f *fakeCoverageRepo) ReplaceForContent(ctx context.Context, contentID string, mappings []entities.ContentClusterMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.byContent[contentID] = append([]entities.ContentClusterMapping(nil), mappings...)
	return nil
}

func (f *fakeCoverageRepo) ListByClusterIDs(ctx context.Context, clusterIDs []string) (map[string][]entities.ContentClusterMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[string]bool{}
	for _, id := range clusterIDs {
		want[id] = true
	}
	out := make(map[string][]entities.ContentClusterMapping)
	for _, ms := range f.byContent {
		for _, m := range ms {
			if want[m.ClusterID] {
				out[m.ClusterID] = append(out[m.ClusterID], m)
			}
		}
	}
	return out, nil
}

func (f *fakeCoverageRepo) get(contentID string) []entities.ContentClusterMapping {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byContent[contentID]
}

// fakeAnalyticsRepo fails the first `failures` reads with a transient error.
type fakeAnalyticsRepo struct {
	snapshots map[string][]*entities.ContentAnalyticsSnapshot
	err       error
	failures  int
	calls     int
	since     time.Time
}

func (f *fakeAnalyticsRepo) ListSnapshots(ctx context.Context, contentID string, since time.Time) ([]*entities.ContentAnalyticsSnapshot, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, apperrors.NewTransientFetchError("analytics unavailable", errors.New("connection reset"))
	}
	if f.err != nil {
		return nil, f.err
	}
	f.since = since
	out := make([]*entities.ContentAnalyticsSnapshot, 0)
	for _, s := range f.snapshots[contentID] {
		if !s.Date.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

// fakeJobRepo stores job copies so tests observe only persisted state.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]entities.ClusteringJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]entities.ClusteringJob{}}
}

func (f *fakeJobRepo) Create(ctx context.Context, job *entities.ClusteringJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeJobRepo) Update(ctx context.Context, job *entities.ClusteringJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[job.ID]; !ok {
		return apperrors.NewNotFoundError("job not found")
	}
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, id string) (*entities.ClusteringJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("job not found")
	}
	return &job, nil
}

func (f *fakeJobRepo) FindActive(ctx context.Context, userID, siteURL string) (*entities.ClusteringJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.UserID == userID && job.SiteURL == siteURL && job.IsActive() {
			j := job
			return &j, nil
		}
	}
	return nil, nil
}

func (f *fakeJobRepo) FailStale(ctx context.Context, olderThan time.Time, message string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, job := range f.jobs {
		touched := job.CreatedAt
		if job.StartedAt != nil {
			touched = *job.StartedAt
		}
		if job.IsActive() && touched.Before(olderThan) {
			now := time.Now().UTC()
			job.Status = entities.JobStatusFailed
			job.ErrorMessage = message
			job.FinishedAt = &now
			f.jobs[id] = job
			n++
		}
	}
	return n, nil
}

// MockClusterBuilder lets job tests control the clustering step.
type MockClusterBuilder struct {
	mock.Mock
}

func (m *MockClusterBuilder) CreateClusters(ctx context.Context, userID, siteURL string, minSimilarity float64) ([]*entities.Cluster, error) {
	args := m.Called(ctx, userID, siteURL, minSimilarity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Cluster), args.Error(1)
}

// MockCoverageRecomputer lets job tests control the coverage step.
type MockCoverageRecomputer struct {
	mock.Mock
}

func (m *MockCoverageRecomputer) RecomputeSite(ctx context.Context, userID, siteURL string) (*services.CoverageSummary, error) {
	args := m.Called(ctx, userID, siteURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CoverageSummary), args.Error(1)
}
