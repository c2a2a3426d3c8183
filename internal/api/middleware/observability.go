package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/zatekoja/keywordclusters/internal/infrastructure/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// UnmatchedRoute labels requests no route matched, keeping the route
// attribute bounded.
const UnmatchedRoute = "unmatched"

type requestTagsKey struct{}

// requestTags carries what the router learns about a request back out to the
// middleware that started it.
type requestTags struct {
	route string
}

func tagsFrom(ctx context.Context) *requestTags {
	tags, _ := ctx.Value(requestTagsKey{}).(*requestTags)
	return tags
}

// RouteOf returns the route pattern recorded for the request, or
// UnmatchedRoute.
func RouteOf(ctx context.Context) string {
	if tags := tagsFrom(ctx); tags != nil && tags.route != "" {
		return tags.route
	}
	return UnmatchedRoute
}

// RouteTagger records the pattern mux will dispatch to before serving, so
// spans and metrics are labelled by route rather than raw path.
func RouteTagger(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tags := tagsFrom(r.Context()); tags != nil {
			_, tags.route = mux.Handler(r)
		}
		mux.ServeHTTP(w, r)
	})
}

// ObservabilityMiddleware traces each request and records request metrics.
// The span is named once the route is known, after the handler returns.
func ObservabilityMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if tagsFrom(ctx) == nil {
				ctx = context.WithValue(ctx, requestTagsKey{}, &requestTags{})
			}
			ctx, span := observability.StartSpan(ctx, r.Method)
			defer span.End()

			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r.WithContext(ctx))

			route := RouteOf(ctx)
			span.SetName(route)
			attrs := []attribute.KeyValue{
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", sw.statusCode),
				attribute.Int64("http.response_size", sw.written),
			}
			if site := r.URL.Query().Get("site_url"); site != "" {
				attrs = append(attrs, attribute.String("app.site_url", site))
			}
			observability.SetSpanAttributes(span, attrs...)
			if sw.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(sw.statusCode))
			}

			observability.RecordRequestMetric(ctx, metrics, r.Method, route, sw.statusCode, time.Since(start))
		})
	}
}
