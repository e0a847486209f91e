package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "rideshare", Name: "search_latency_seconds", Help: "Ride search latency seconds"})
	SearchResults = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "rideshare", Name: "search_results", Help: "Matched rides returned per search", Buckets: []float64{0, 1, 2, 5, 10, 20, 50}})

	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rideshare", Name: "bookings_created_total", Help: "Bookings created"})
	SeatConflicts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rideshare", Name: "seat_reservation_conflicts_total", Help: "Seat reservations rejected for lack of capacity"})
	RidesCompleted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rideshare", Name: "rides_completed_total", Help: "Rides closed as completed"})

	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rideshare", Name: "booking_transitions_total", Help: "Booking status transitions by target status"},
		[]string{"to"},
	)
	VerificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rideshare", Name: "verification_attempts_total", Help: "Verification code attempts"},
		[]string{"checkpoint", "result"},
	)
	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rideshare", Name: "notification_failures_total", Help: "Notification deliveries that failed"},
		[]string{"channel"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rideshare", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rideshare",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
