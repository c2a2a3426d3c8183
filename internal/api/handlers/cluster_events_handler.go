package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/observability"
)

const defaultHeartbeatInterval = 30 * time.Second

// ClusterEventsHandler streams a site's cluster events over Server-Sent Events.
type ClusterEventsHandler struct {
	eventBus  providers.EventBus
	heartbeat time.Duration
}

// NewClusterEventsHandler creates a new cluster events handler
func NewClusterEventsHandler(eventBus providers.EventBus) *ClusterEventsHandler {
	return &ClusterEventsHandler{eventBus: eventBus, heartbeat: defaultHeartbeatInterval}
}

// SetHeartbeat changes how often idle streams get a heartbeat event.
func (h *ClusterEventsHandler) SetHeartbeat(d time.Duration) {
	if d > 0 {
		h.heartbeat = d
	}
}

// StreamEvents handles GET /api/clusters/events?site_url=...
func (h *ClusterEventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	siteURL := strings.TrimSpace(r.URL.Query().Get("site_url"))
	if siteURL == "" {
		respondWithError(w, http.StatusBadRequest, "site_url is required")
		return
	}

	ctx := r.Context()
	logger := observability.LoggerFromContext(ctx)

	eventChan, err := h.eventBus.Subscribe(ctx, providers.SiteEventChannel(userID, siteURL))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to subscribe to cluster updates")
		respondWithError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	rc := http.NewResponseController(w)
	// streams outlive the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.sendEvent(w, "connected", map[string]interface{}{
		"site_url":  siteURL,
		"timestamp": time.Now().UTC(),
	})
	if err := rc.Flush(); err != nil {
		logger.Warn().Err(err).Msg("Streaming not supported by response writer")
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Str("site_url", siteURL).Msg("Client disconnected from cluster stream")
			return
		case <-ticker.C:
			h.sendEvent(w, "heartbeat", map[string]interface{}{
				"timestamp": time.Now().UTC(),
			})
			_ = rc.Flush()
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if !belongsTo(event, userID, siteURL) {
				continue
			}
			h.sendEvent(w, string(event.EventType), event)
			_ = rc.Flush()
		}
	}
}

func belongsTo(event *entities.ClusterEvent, userID, siteURL string) bool {
	return event != nil && event.UserID == userID && event.SiteURL == siteURL
}

func (h *ClusterEventsHandler) sendEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}
