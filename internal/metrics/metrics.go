package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the sync pipeline metrics.
type Registry struct {
	SyncPassesTotal   *prometheus.CounterVec
	SyncPassDuration  prometheus.Histogram
	TripCreatesTotal  *prometheus.CounterVec
	PhotoUploadsTotal *prometheus.CounterVec
	TripsSyncedTotal  prometheus.Counter
	PendingTrips      prometheus.Gauge
	TripsQueuedTotal  *prometheus.CounterVec

	ControlRequestsTotal   *prometheus.CounterVec
	ControlRequestDuration *prometheus.HistogramVec
}

// NewRegistry registers every metric with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		SyncPassesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripsync_sync_passes_total",
				Help: "Sync passes by outcome (completed, offline, busy, empty, error)",
			},
			[]string{"outcome"},
		),
		SyncPassDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tripsync_sync_pass_duration_seconds",
				Help:    "Duration of completed sync passes in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		TripCreatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripsync_trip_creates_total",
				Help: "Remote trip creation attempts by result",
			},
			[]string{"result"},
		),
		PhotoUploadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripsync_photo_uploads_total",
				Help: "Photo upload attempts by result",
			},
			[]string{"result"},
		),
		TripsSyncedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tripsync_trips_synced_total",
				Help: "Queued trips fully synced and removed from the queue",
			},
		),
		PendingTrips: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tripsync_pending_trips",
				Help: "Trips in the local queue after the last pass",
			},
		),
		TripsQueuedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripsync_trips_queued_total",
				Help: "Trips written to the local queue by reason (offline, upload_failed)",
			},
			[]string{"reason"},
		),
		ControlRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripsync_control_requests_total",
				Help: "Daemon control requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		ControlRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tripsync_control_request_duration_seconds",
				Help:    "Daemon control request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}
