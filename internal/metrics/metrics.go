// Package metrics defines the Prometheus instrumentation for the auth
// flows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of password login attempts.",
		},
		[]string{"result"},
	)

	ChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_mfa_challenges_total",
			Help: "Total number of MFA challenge submissions.",
		},
		[]string{"kind", "result"},
	)

	EnrollmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_mfa_enrollments_total",
			Help: "Total number of factor enrollment changes.",
		},
		[]string{"kind", "action"},
	)

	SessionsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_sessions_issued_total",
			Help: "Total number of sessions issued.",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests handled.",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// MustRegister registers all collectors with the default registry.
func MustRegister() {
	prometheus.MustRegister(
		LoginsTotal,
		ChallengesTotal,
		EnrollmentsTotal,
		SessionsIssuedTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
