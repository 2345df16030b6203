package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics counts booking outcomes and queue transitions. A nil
// *SchedulingMetrics records nothing.
type SchedulingMetrics struct {
	bookings   *prometheus.CounterVec
	advances   *prometheus.CounterVec
	renumbered prometheus.Counter
	lockWait   prometheus.Histogram
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by kind (booking, walk_in) and outcome",
		}, []string{"kind", "outcome"}),
		advances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "queue_advances_total",
			Help:      "Queue advance calls by result (called, empty)",
		}, []string{"result"}),
		renumbered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "renumbered_total",
			Help:      "Appointments whose queue number shifted after a cancellation",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a doctor-day or patient-day lock",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.advances, m.renumbered, m.lockWait)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(kind, outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(kind, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveQueueAdvance(result string) {
	if m == nil {
		return
	}
	m.advances.WithLabelValues(result).Inc()
}

func (m *SchedulingMetrics) ObserveRenumber(changed int) {
	if m == nil || changed <= 0 {
		return
	}
	m.renumbered.Add(float64(changed))
}

func (m *SchedulingMetrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}
