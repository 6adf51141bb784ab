package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, path, and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// FareQuotes counts fare computations by method (zone_fixed / distance_fallback).
	FareQuotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fare_quotes_total", Help: "Fare quotes by pricing method."},
		[]string{"method"},
	)
	// SessionTransitions counts ride session transitions by target status and outcome.
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ride_session_transitions_total", Help: "Ride session transitions by target status and outcome."},
		[]string{"to", "outcome"},
	)
	// DriversNotified tracks how many drivers each discovery wave reached.
	DriversNotified = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "discovery_drivers_notified", Help: "Drivers notified per discovery wave.", Buckets: []float64{0, 1, 2, 5, 10, 20, 50}},
		[]string{"wave"},
	)
	// OffersSubmitted counts offers by type and derived price label.
	OffersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ride_offers_submitted_total", Help: "Offers submitted by type and price label."},
		[]string{"type", "label"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(FareQuotes)
		Registry.MustRegister(SessionTransitions)
		Registry.MustRegister(DriversNotified)
		Registry.MustRegister(OffersSubmitted)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
