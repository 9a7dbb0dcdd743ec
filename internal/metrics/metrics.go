// Package metrics exposes fieldsync counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Adriangar333/Traceops-sub000/internal/queue"
)

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fieldsync_queue_depth",
			Help: "Sync queue items waiting for delivery, parked items included.",
		},
		[]string{"kind"},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_uploads_total",
			Help: "Queue item delivery attempts by outcome.",
		},
		[]string{"kind", "action", "outcome"}, // outcome: ok, transport, rejected
	)

	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_cycles_total",
			Help: "Reconciliation cycles by result.",
		},
		[]string{"kind", "result"}, // result: ok, download_failed, error, skipped
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldsync_cycle_duration_seconds",
			Help:    "Reconciliation cycle wall time.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	GeofenceRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_geofence_rejections_total",
			Help: "Captures refused because the device was outside the tolerance.",
		},
		[]string{"kind"},
	)

	Online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsync_online",
			Help: "1 when the connectivity monitor reports the remote reachable.",
		},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(QueueDepth, UploadsTotal, CyclesTotal, CycleDuration, GeofenceRejectionsTotal, Online)
}

// Handler serves the metrics gathered by reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func RecordUpload(kind, action, outcome string) {
	UploadsTotal.WithLabelValues(kind, action, outcome).Inc()
}

func RecordCycle(kind, result string, d time.Duration) {
	CyclesTotal.WithLabelValues(kind, result).Inc()
	if d > 0 {
		CycleDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func RecordGeofenceRejection(kind string) {
	GeofenceRejectionsTotal.WithLabelValues(kind).Inc()
}

func SetOnline(online bool) {
	if online {
		Online.Set(1)
		return
	}
	Online.Set(0)
}

// ObserveQueue keeps QueueDepth current from q's events. It returns the
// unsubscribe function.
func ObserveQueue(q *queue.Queue) func() {
	kind := string(q.Kind())
	return q.Subscribe(func(ev queue.Event) {
		if ev.Pending >= 0 {
			QueueDepth.WithLabelValues(kind).Set(float64(ev.Pending))
		}
	})
}
