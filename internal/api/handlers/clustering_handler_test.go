package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/keywordclusters/internal/api/handlers"
	"github.com/zatekoja/keywordclusters/internal/application/services"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) StartClustering(ctx context.Context, userID, siteURL string, minSimilarity float64) (*services.StartResult, error) {
	args := m.Called(ctx, userID, siteURL, minSimilarity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StartResult), args.Error(1)
}

func (m *MockJobService) StartCoverage(ctx context.Context, userID, siteURL string) (*services.StartResult, error) {
	args := m.Called(ctx, userID, siteURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StartResult), args.Error(1)
}

func (m *MockJobService) GetJob(ctx context.Context, userID, jobID string) (*entities.ClusteringJob, error) {
	args := m.Called(ctx, userID, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ClusteringJob), args.Error(1)
}

type stubClusterQueries struct {
	views    []*entities.ClusterView
	hits     []providers.ClusterSearchHit
	err      error
	gotLimit int
	gotQuery string
}

func (s *stubClusterQueries) GetClusters(ctx context.Context, userID, siteURL string) ([]*entities.ClusterView, error) {
	return s.views, s.err
}

func (s *stubClusterQueries) SearchClusters(ctx context.Context, userID, siteURL, q string, limit int) ([]providers.ClusterSearchHit, error) {
	s.gotQuery = q
	s.gotLimit = limit
	return s.hits, s.err
}

const site = "https://shop.example.com"

func newRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(handlers.UserIDHeader, "user-1")
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestClusteringHandler_StartClusteringAccepted(t *testing.T) {
	jobs := new(MockJobService)
	job := &entities.ClusteringJob{ID: "job-1", UserID: "user-1", SiteURL: site, Status: entities.JobStatusPending}
	jobs.On("StartClustering", mock.Anything, "user-1", site, 0.4).
		Return(&services.StartResult{Accepted: true, Job: job}, nil)
	handler := handlers.NewClusteringHandler(jobs, &stubClusterQueries{})

	w := httptest.NewRecorder()
	handler.StartClustering(w, newRequest("POST", "/api/clusters/jobs", `{"site_url":"`+site+`","min_similarity":0.4}`))

	assert.Equal(t, http.StatusAccepted, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, "job-1", body["job"].(map[string]interface{})["id"])
	jobs.AssertExpectations(t)
}

func TestClusteringHandler_StartClusteringInFlight(t *testing.T) {
	jobs := new(MockJobService)
	job := &entities.ClusteringJob{ID: "job-0", Status: entities.JobStatusRunning}
	jobs.On("StartClustering", mock.Anything, "user-1", site, 0.0).
		Return(&services.StartResult{Accepted: false, Job: job}, nil)
	handler := handlers.NewClusteringHandler(jobs, &stubClusterQueries{})

	w := httptest.NewRecorder()
	handler.StartClustering(w, newRequest("POST", "/api/clusters/jobs", `{"site_url":"`+site+`"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["accepted"])
}

func TestClusteringHandler_StartClusteringInsufficientData(t *testing.T) {
	jobs := new(MockJobService)
	jobs.On("StartClustering", mock.Anything, "user-1", site, 0.0).
		Return(nil, apperrors.NewInsufficientDataError("no keyword data for site"))
	handler := handlers.NewClusteringHandler(jobs, &stubClusterQueries{})

	w := httptest.NewRecorder()
	handler.StartClustering(w, newRequest("POST", "/api/clusters/jobs", `{"site_url":"`+site+`"}`))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "no keyword data for site", decodeBody(t, w)["error"])
}

func TestClusteringHandler_StartClusteringBadRequests(t *testing.T) {
	handler := handlers.NewClusteringHandler(new(MockJobService), &stubClusterQueries{})

	w := httptest.NewRecorder()
	handler.StartClustering(w, newRequest("POST", "/api/clusters/jobs", `{not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	handler.StartClustering(w, newRequest("POST", "/api/clusters/jobs", `{"min_similarity":0.5}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := newRequest("POST", "/api/clusters/jobs", `{"site_url":"`+site+`"}`)
	req.Header.Del(handlers.UserIDHeader)
	w = httptest.NewRecorder()
	handler.StartClustering(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClusteringHandler_StartCoverage(t *testing.T) {
	jobs := new(MockJobService)
	jobs.On("StartCoverage", mock.Anything, "user-1", site).
		Return(&services.StartResult{Accepted: true, Job: &entities.ClusteringJob{ID: "job-2", Kind: entities.JobKindCoverage}}, nil)
	handler := handlers.NewClusteringHandler(jobs, &stubClusterQueries{})

	w := httptest.NewRecorder()
	handler.StartCoverage(w, newRequest("POST", "/api/coverage/jobs", `{"site_url":"`+site+`"}`))

	assert.Equal(t, http.StatusAccepted, w.Code)
	jobs.AssertExpectations(t)
}

func TestClusteringHandler_GetJob(t *testing.T) {
	jobs := new(MockJobService)
	jobs.On("GetJob", mock.Anything, "user-1", "job-1").
		Return(&entities.ClusteringJob{ID: "job-1", Status: entities.JobStatusFailed, ErrorMessage: "boom"}, nil)
	jobs.On("GetJob", mock.Anything, "user-1", "missing").
		Return(nil, apperrors.NewNotFoundError("job missing not found"))
	handler := handlers.NewClusteringHandler(jobs, &stubClusterQueries{})

	req := newRequest("GET", "/api/jobs/job-1", "")
	req.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()
	handler.GetJob(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "boom", body["error"])

	req = newRequest("GET", "/api/jobs/missing", "")
	req.SetPathValue("id", "missing")
	w = httptest.NewRecorder()
	handler.GetJob(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClusteringHandler_GetClusters(t *testing.T) {
	queries := &stubClusterQueries{views: []*entities.ClusterView{
		{ID: "c1", Name: "Running Shoes", Members: []entities.ClusterMembership{{Keyword: "running shoes", RelevanceScore: 1}}},
	}}
	handler := handlers.NewClusteringHandler(new(MockJobService), queries)

	w := httptest.NewRecorder()
	handler.GetClusters(w, newRequest("GET", "/api/clusters?site_url="+site, ""))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, site, body["site_url"])
}

func TestClusteringHandler_GetClustersHidesInternalErrors(t *testing.T) {
	queries := &stubClusterQueries{err: apperrors.NewInternalError("failed to build query", assert.AnError)}
	handler := handlers.NewClusteringHandler(new(MockJobService), queries)

	w := httptest.NewRecorder()
	handler.GetClusters(w, newRequest("GET", "/api/clusters?site_url="+site, ""))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal Server Error", decodeBody(t, w)["error"])
}

func TestClusteringHandler_SearchClusters(t *testing.T) {
	queries := &stubClusterQueries{hits: []providers.ClusterSearchHit{{ClusterID: "c1", Name: "Running Shoes", Score: 1}}}
	handler := handlers.NewClusteringHandler(new(MockJobService), queries)

	w := httptest.NewRecorder()
	handler.SearchClusters(w, newRequest("GET", "/api/clusters/search?site_url="+site+"&q=shoes&limit=5", ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shoes", queries.gotQuery)
	assert.Equal(t, 5, queries.gotLimit)

	w = httptest.NewRecorder()
	handler.SearchClusters(w, newRequest("GET", "/api/clusters/search?site_url="+site+"&q=shoes&limit=abc", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
