package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttemptsTotal tracks authentication attempts by method
	// (password, apikey) and outcome (ok, denied).
	AuthAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authoor_auth_attempts_total",
		Help: "Total number of authentication attempts",
	}, []string{"method", "outcome"})

	// DirectoryUnavailableTotal counts failures to reach the directory
	// service, kept separate from ordinary credential denials.
	DirectoryUnavailableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authoor_directory_unavailable_total",
		Help: "Total number of directory connectivity failures",
	})

	// HTTPRequestsTotal tracks handled HTTP requests by method and
	// status class.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authoor_http_requests_total",
		Help: "Total number of HTTP requests handled",
	}, []string{"method", "status"})

	// SessionsActive tracks the number of unexpired login sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "authoor_sessions_active",
		Help: "Number of unexpired login sessions",
	})
)
