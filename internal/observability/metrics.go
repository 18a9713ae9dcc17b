package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fulfillment", Name: "booking_transitions_total", Help: "Booking status transitions applied"},
		[]string{"to"},
	)
	InvalidTransitionsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fulfillment", Name: "booking_invalid_transitions_total", Help: "Transitions rejected for invalid source state"})

	OTPIssuedTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fulfillment", Name: "otp_issued_total", Help: "Arrival OTPs issued"})
	OTPIssueFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fulfillment", Name: "otp_issue_failures_total", Help: "OTP issuance attempts that failed and released the claim"})
	OTPVerifyTotal   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fulfillment", Name: "otp_verify_total", Help: "OTP verification attempts"},
		[]string{"result"},
	)

	RouteResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fulfillment", Name: "route_resolutions_total", Help: "Route resolutions by confidence"},
		[]string{"confidence"},
	)
	RouteProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fulfillment", Name: "route_provider_errors_total", Help: "Routing provider failures"},
		[]string{"provider"},
	)

	LocationWritesTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fulfillment", Name: "location_writes_total", Help: "Live location samples written"})
	LocationStaleDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fulfillment", Name: "location_stale_dropped_total", Help: "Out-of-order location samples discarded"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fulfillment", Name: "tracking_sessions_active", Help: "Tracking sessions currently open"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fulfillment", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fulfillment",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
