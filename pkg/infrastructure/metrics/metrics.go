// Package metrics exposes Prometheus instrumentation for the allocation engine.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

var (
	allocationOnce sync.Once
	allocationReg  *AllocationMetrics
)

// AllocationMetrics captures metrics for allocation, queueing and notification flows.
type AllocationMetrics struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	allocated     *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	notifications *prometheus.CounterVec
	invariants    *prometheus.CounterVec
}

// Allocation returns the lazily-initialised metrics registered on the default registry.
func Allocation() *AllocationMetrics {
	allocationOnce.Do(func() {
		allocationReg = NewAllocationMetrics(prometheus.DefaultRegisterer)
	})
	return allocationReg
}

// NewAllocationMetrics builds a metrics set and registers it on reg.
func NewAllocationMetrics(reg prometheus.Registerer) *AllocationMetrics {
	m := &AllocationMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fxalloc",
			Subsystem: "allocation",
			Name:      "requests_total",
			Help:      "Count of allocation engine operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fxalloc",
			Subsystem: "allocation",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for allocation engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fxalloc",
			Subsystem: "allocation",
			Name:      "errors_total",
			Help:      "Count of allocation engine failures segmented by operation and reason.",
		}, []string{"operation", "reason"}),
		allocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fxalloc",
			Name:      "allocated_quantity_total",
			Help:      "Total currency quantity allocated against lots.",
		}, []string{"currency"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fxalloc",
			Name:      "queue_depth",
			Help:      "Open demand queue entries per currency and purpose.",
		}, []string{"currency", "purpose"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fxalloc",
			Name:      "notifications_total",
			Help:      "Threshold notifications segmented by delivery outcome.",
		}, []string{"outcome"}),
		invariants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fxalloc",
			Name:      "invariant_violations_total",
			Help:      "Internal consistency failures segmented by operation.",
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.latency, m.errors, m.allocated, m.queueDepth, m.notifications, m.invariants)
	}
	return m
}

// Observe records the execution metrics for an operation.
func (m *AllocationMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op, entities.Classify(err)).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// AddAllocated adds qty to the allocated total of a currency; reversals pass negative
// quantities and are ignored because counters only grow.
func (m *AllocationMetrics) AddAllocated(currency entities.CurrencyCode, qty decimal.Decimal) {
	if m == nil || !qty.IsPositive() {
		return
	}
	m.allocated.WithLabelValues(string(currency)).Add(qty.InexactFloat64())
}

// SetQueueDepth records the number of open queue entries on a line.
func (m *AllocationMetrics) SetQueueDepth(key entities.QueueKey, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(string(key.Currency), key.Purpose.String()).Set(float64(depth))
}

// Notification records a notification delivery outcome.
func (m *AllocationMetrics) Notification(err error) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// InvariantViolation counts an internal consistency failure.
func (m *AllocationMetrics) InvariantViolation(operation string) {
	if m == nil {
		return
	}
	m.invariants.WithLabelValues(operation).Inc()
}
