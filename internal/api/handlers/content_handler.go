package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

// ContentLookup resolves content items for ownership checks.
type ContentLookup interface {
	GetByID(ctx context.Context, contentID string) (*entities.ContentItem, error)
}

// CoverageCalculator scores content against a cluster.
type CoverageCalculator interface {
	ComputeCoverage(ctx context.Context, contentID, clusterID string) (float64, error)
}

// PerformanceCalculator scores content from its analytics.
type PerformanceCalculator interface {
	CalculatePerformanceScore(ctx context.Context, contentID string, windowDays int) (float64, error)
	EffectiveWindow(windowDays int) int
}

// ContentHandler handles content scoring requests.
type ContentHandler struct {
	content     ContentLookup
	coverage    CoverageCalculator
	performance PerformanceCalculator
}

// NewContentHandler creates a new content handler
func NewContentHandler(content ContentLookup, coverage CoverageCalculator, performance PerformanceCalculator) *ContentHandler {
	return &ContentHandler{content: content, coverage: coverage, performance: performance}
}

// ownedContent loads the path's content item and hides other tenants' items.
func (h *ContentHandler) ownedContent(w http.ResponseWriter, r *http.Request) (*entities.ContentItem, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	contentID := r.PathValue("id")
	item, err := h.content.GetByID(r.Context(), contentID)
	if err != nil {
		respondWithAppError(w, r, err)
		return nil, false
	}
	if item.UserID != userID {
		respondWithAppError(w, r, apperrors.NewNotFoundError("content "+contentID+" not found"))
		return nil, false
	}
	return item, true
}

// GetCoverage handles GET /api/content/{id}/coverage
func (h *ContentHandler) GetCoverage(w http.ResponseWriter, r *http.Request) {
	item, ok := h.ownedContent(w, r)
	if !ok {
		return
	}
	clusterID := r.URL.Query().Get("cluster_id")
	if clusterID == "" {
		respondWithError(w, http.StatusBadRequest, "cluster_id is required")
		return
	}

	score, err := h.coverage.ComputeCoverage(r.Context(), item.ID, clusterID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"content_id":     item.ID,
		"cluster_id":     clusterID,
		"coverage_score": score,
	})
}

// GetPerformance handles GET /api/content/{id}/performance
func (h *ContentHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	item, ok := h.ownedContent(w, r)
	if !ok {
		return
	}

	windowDays := 0
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "window_days must be a positive integer")
			return
		}
		windowDays = n
	}

	windowDays = h.performance.EffectiveWindow(windowDays)
	score, err := h.performance.CalculatePerformanceScore(r.Context(), item.ID, windowDays)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"content_id":        item.ID,
		"window_days":       windowDays,
		"performance_score": score,
	})
}
