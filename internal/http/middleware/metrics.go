package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/quillhq/quill-auth/internal/metrics"
)

// Metrics records request counts and latency for Prometheus.
// The /metrics endpoint itself is not counted.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sr, r)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sr.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
