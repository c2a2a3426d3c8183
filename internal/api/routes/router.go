package routes

import (
	"net/http"

	"github.com/zatekoja/keywordclusters/internal/api/handlers"
	"github.com/zatekoja/keywordclusters/internal/api/middleware"
	"github.com/zatekoja/keywordclusters/internal/graphql/resolvers"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	clusteringHandler *handlers.ClusteringHandler
	contentHandler    *handlers.ContentHandler
	eventsHandler     *handlers.ClusterEventsHandler
	graphqlHandler    http.Handler

	metrics        *observability.Metrics
	allowedOrigins []string
}

// NewRouter creates a new router
func NewRouter(
	clusteringHandler *handlers.ClusteringHandler,
	contentHandler *handlers.ContentHandler,
	eventsHandler *handlers.ClusterEventsHandler,
	graphqlHandler http.Handler,
	metrics *observability.Metrics,
	allowedOrigins []string,
) *Router {
	return &Router{
		mux:               http.NewServeMux(),
		clusteringHandler: clusteringHandler,
		contentHandler:    contentHandler,
		eventsHandler:     eventsHandler,
		graphqlHandler:    graphqlHandler,
		metrics:           metrics,
		allowedOrigins:    allowedOrigins,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Jobs
	r.mux.HandleFunc("POST /api/clusters/jobs", r.clusteringHandler.StartClustering)
	r.mux.HandleFunc("POST /api/coverage/jobs", r.clusteringHandler.StartCoverage)
	r.mux.HandleFunc("GET /api/jobs/{id}", r.clusteringHandler.GetJob)

	// Clusters
	r.mux.HandleFunc("GET /api/clusters", r.clusteringHandler.GetClusters)
	r.mux.HandleFunc("GET /api/clusters/search", r.clusteringHandler.SearchClusters)
	r.mux.HandleFunc("GET /api/clusters/events", r.eventsHandler.StreamEvents)

	// Content scores
	r.mux.HandleFunc("GET /api/content/{id}/coverage", r.contentHandler.GetCoverage)
	r.mux.HandleFunc("GET /api/content/{id}/performance", r.contentHandler.GetPerformance)

	// GraphQL read surface; nil leaves it unmounted
	if r.graphqlHandler != nil {
		gql := resolvers.RequireTenant(handlers.UserIDHeader)(r.graphqlHandler)
		r.mux.Handle("POST /graphql", gql)
		r.mux.Handle("GET /graphql", gql)
	}

	// last wrapper runs first; CORS stays outermost so preflights skip tracing
	var handler http.Handler = middleware.RouteTagger(r.mux)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
