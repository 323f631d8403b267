package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report pipeline activity.
type Metrics struct {
	items        *prometheus.CounterVec
	attempts     prometheus.Counter
	retries      *prometheus.CounterVec
	waitDuration *prometheus.HistogramVec
	runActive    prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once so
// several controllers in one process share them.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors already registered under the same names are reused; any other
// registration error panics, mirroring the promauto helpers.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flow_automator",
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Queue items processed, by outcome.",
		}, []string{"result"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow_automator",
			Subsystem: "pipeline",
			Name:      "attempts_total",
			Help:      "Generation attempts started.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flow_automator",
			Subsystem: "pipeline",
			Name:      "retries_total",
			Help:      "Failed attempts that counted against an item's retry budget, by reason.",
		}, []string{"reason"}),
		waitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flow_automator",
			Subsystem: "pipeline",
			Name:      "completion_wait_seconds",
			Help:      "Time spent waiting for a generation to finish, by result.",
			Buckets:   []float64{5, 15, 30, 60, 120, 180, 300, 600},
		}, []string{"status"}),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flow_automator",
			Subsystem: "pipeline",
			Name:      "run_active",
			Help:      "1 while a pipeline run is in progress.",
		}),
	}

	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}
	m.items = register(m.items).(*prometheus.CounterVec)
	m.attempts = register(m.attempts).(prometheus.Counter)
	m.retries = register(m.retries).(*prometheus.CounterVec)
	m.waitDuration = register(m.waitDuration).(*prometheus.HistogramVec)
	m.runActive = register(m.runActive).(prometheus.Gauge)
	return m
}

// IncItem counts an item that finished with result.
func (m *Metrics) IncItem(result string) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(result).Inc()
}

// IncAttempt counts a started attempt.
func (m *Metrics) IncAttempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

// IncRetry counts a failed attempt.
func (m *Metrics) IncRetry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

// ObserveWait records a completion wait.
func (m *Metrics) ObserveWait(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.waitDuration.WithLabelValues(status).Observe(d.Seconds())
}

// SetRunActive flips the run gauge.
func (m *Metrics) SetRunActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.runActive.Set(1)
		return
	}
	m.runActive.Set(0)
}
