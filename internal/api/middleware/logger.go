package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rohits-web03/enrollr/internal/metrics"
)

// UnmatchedRoute is the metrics label of requests that reached no named route.
const UnmatchedRoute = "unmatched"

type routeKey struct{}

// routeLabel is filled in by Route further down the chain.
type routeLabel struct {
	name string
}

// Route names the route a request was dispatched to. Only these names become
// the path label of the HTTP metrics, which keeps its cardinality bounded by
// the routing table instead of by what clients send.
func Route(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if label, ok := r.Context().Value(routeKey{}).(*routeLabel); ok {
			label.name = name
		}
		next.ServeHTTP(w, r)
	})
}

// methodLabel folds non-standard methods into one label value.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodOptions, http.MethodConnect, http.MethodTrace:
		return method
	default:
		return "OTHER"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Logger logs every request and feeds the HTTP metrics.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				status:         http.StatusOK,
			}
			label := &routeLabel{name: UnmatchedRoute}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), routeKey{}, label)))

			elapsed := time.Since(start)
			method := methodLabel(r.Method)
			metrics.RequestsTotal.WithLabelValues(method, label.name, strconv.Itoa(rec.status)).Inc()
			metrics.RequestDuration.WithLabelValues(method, label.name).Observe(elapsed.Seconds())

			event := log.Info()
			if rec.status >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", label.name).
				Int("status", rec.status).
				Dur("duration", elapsed).
				Msg("request")
		})
	}
}
