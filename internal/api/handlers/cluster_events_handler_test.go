package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/keywordclusters/internal/adapters/events"
	"github.com/zatekoja/keywordclusters/internal/api/handlers"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
)

func streamRequest(ctx context.Context, siteURL string) *http.Request {
	req := newRequest(http.MethodGet, "/api/clusters/events?site_url="+url.QueryEscape(siteURL), "")
	return req.WithContext(ctx)
}

func runStream(t *testing.T, handler *handlers.ClusterEventsHandler, req *http.Request) (*httptest.ResponseRecorder, chan struct{}) {
	t.Helper()
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler.StreamEvents(w, req)
		close(done)
	}()
	return w, done
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after cancel")
	}
}

func TestClusterEventsHandler_StreamsOwnSiteEvents(t *testing.T) {
	bus := events.NewMemoryEventBus()
	defer bus.Close()
	handler := handlers.NewClusterEventsHandler(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, done := runStream(t, handler, streamRequest(ctx, site))

	time.Sleep(100 * time.Millisecond)

	own := entities.NewClusterEvent(entities.ClusterEventGenerationReplaced, "user-1", site, "job-1")
	own.ClusterCount = 4
	otherSite := entities.NewClusterEvent(entities.ClusterEventGenerationReplaced, "user-1", "https://other.example.com", "job-2")
	otherUser := entities.NewClusterEvent(entities.ClusterEventCoverageRecomputed, "user-2", site, "job-3")
	for _, e := range []*entities.ClusterEvent{otherSite, otherUser, own} {
		require.NoError(t, bus.Publish(context.Background(), providers.EventChannelClusterUpdates, e))
		require.NoError(t, bus.Publish(context.Background(), providers.SiteEventChannel(e.UserID, e.SiteURL), e))
	}

	time.Sleep(100 * time.Millisecond)
	cancel()
	waitDone(t, done)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: connected\n"))
	assert.Contains(t, body, "event: cluster.generation_replaced\n")
	assert.Contains(t, body, own.ID)
	assert.NotContains(t, body, otherSite.ID)
	assert.NotContains(t, body, otherUser.ID)
}

func TestClusterEventsHandler_SendsHeartbeat(t *testing.T) {
	bus := events.NewMemoryEventBus()
	defer bus.Close()
	handler := handlers.NewClusterEventsHandler(bus)
	handler.SetHeartbeat(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	w, done := runStream(t, handler, streamRequest(ctx, site))

	time.Sleep(100 * time.Millisecond)
	cancel()
	waitDone(t, done)

	assert.Contains(t, w.Body.String(), "event: heartbeat\n")
}

func TestClusterEventsHandler_RequiresSite(t *testing.T) {
	handler := handlers.NewClusterEventsHandler(events.NewMemoryEventBus())

	w := httptest.NewRecorder()
	handler.StreamEvents(w, newRequest(http.MethodGet, "/api/clusters/events", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/clusters/events?site_url=x", nil)
	w = httptest.NewRecorder()
	handler.StreamEvents(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClusterEventsHandler_IgnoresBroadcastChannel(t *testing.T) {
	bus := events.NewMemoryEventBus()
	defer bus.Close()
	handler := handlers.NewClusterEventsHandler(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, done := runStream(t, handler, streamRequest(ctx, site))

	time.Sleep(100 * time.Millisecond)
	broadcastOnly := entities.NewClusterEvent(entities.ClusterEventGenerationReplaced, "user-1", site, "job-9")
	require.NoError(t, bus.Publish(context.Background(), providers.EventChannelClusterUpdates, broadcastOnly))

	time.Sleep(100 * time.Millisecond)
	cancel()
	waitDone(t, done)

	assert.NotContains(t, w.Body.String(), broadcastOnly.ID)
}
