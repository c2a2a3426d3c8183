package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/zatekoja/keywordclusters/internal/application/services"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
)

// JobService triggers and reports background runs.
type JobService interface {
	StartClustering(ctx context.Context, userID, siteURL string, minSimilarity float64) (*services.StartResult, error)
	StartCoverage(ctx context.Context, userID, siteURL string) (*services.StartResult, error)
	GetJob(ctx context.Context, userID, jobID string) (*entities.ClusteringJob, error)
}

// ClusterQueries serves stored clusters.
type ClusterQueries interface {
	GetClusters(ctx context.Context, userID, siteURL string) ([]*entities.ClusterView, error)
	SearchClusters(ctx context.Context, userID, siteURL, q string, limit int) ([]providers.ClusterSearchHit, error)
}

// ClusteringHandler handles cluster and job requests.
type ClusteringHandler struct {
	jobs    JobService
	queries ClusterQueries
}

// NewClusteringHandler creates a new clustering handler
func NewClusteringHandler(jobs JobService, queries ClusterQueries) *ClusteringHandler {
	return &ClusteringHandler{jobs: jobs, queries: queries}
}

type startJobRequest struct {
	SiteURL       string  `json:"site_url"`
	MinSimilarity float64 `json:"min_similarity"`
}

func decodeStartRequest(w http.ResponseWriter, r *http.Request) (*startJobRequest, bool) {
	var req startJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return nil, false
	}
	if req.SiteURL == "" {
		respondWithError(w, http.StatusBadRequest, "site_url is required")
		return nil, false
	}
	return &req, true
}

func respondWithStart(w http.ResponseWriter, result *services.StartResult) {
	status := http.StatusAccepted
	if !result.Accepted {
		status = http.StatusOK
	}
	respondWithJSON(w, status, result)
}

// StartClustering handles POST /api/clusters/jobs
func (h *ClusteringHandler) StartClustering(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	req, ok := decodeStartRequest(w, r)
	if !ok {
		return
	}

	result, err := h.jobs.StartClustering(r.Context(), userID, req.SiteURL, req.MinSimilarity)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithStart(w, result)
}

// StartCoverage handles POST /api/coverage/jobs
func (h *ClusteringHandler) StartCoverage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	req, ok := decodeStartRequest(w, r)
	if !ok {
		return
	}

	result, err := h.jobs.StartCoverage(r.Context(), userID, req.SiteURL)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithStart(w, result)
}

// GetJob handles GET /api/jobs/{id}
func (h *ClusteringHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.GetJob(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, job)
}

// GetClusters handles GET /api/clusters
func (h *ClusteringHandler) GetClusters(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	siteURL := r.URL.Query().Get("site_url")

	views, err := h.queries.GetClusters(r.Context(), userID, siteURL)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"site_url": siteURL,
		"clusters": views,
		"count":    len(views),
	})
}

// SearchClusters handles GET /api/clusters/search
func (h *ClusteringHandler) SearchClusters(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	hits, err := h.queries.SearchClusters(r.Context(), userID, query.Get("site_url"), query.Get("q"), limit)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"results": hits,
		"count":   len(hits),
	})
}
