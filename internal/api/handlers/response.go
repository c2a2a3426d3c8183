package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

// UserIDHeader carries the tenant of every API request.
const UserIDHeader = "X-User-ID"

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// respondWithAppError maps an application error to its status. Internal
// details are logged, not returned.
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	var appErr *apperrors.AppError
	if status >= http.StatusInternalServerError || !errors.As(err, &appErr) {
		observability.LoggerFromContext(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
		respondWithError(w, status, http.StatusText(status))
		return
	}
	respondWithError(w, status, appErr.Message)
}

// requireUser reads the tenant header and writes a 401 when it is missing.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if userID == "" {
		respondWithError(w, http.StatusUnauthorized, "missing "+UserIDHeader+" header")
		return "", false
	}
	return userID, true
}
