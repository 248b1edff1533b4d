// Package metrics exposes Prometheus collectors for the monitoring service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the monitoring service metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	measurementsIngested *prometheus.CounterVec
	alertsCreated        *prometheus.CounterVec
	alertsSuppressed     prometheus.Counter
	alertsAcknowledged   prometheus.Counter
	notifications        *prometheus.CounterVec
	dispatchQueueDepth   prometheus.Gauge
	sessionsActive       prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates the collectors and registers them with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		measurementsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "monitoring",
			Name:      "measurements_ingested_total",
			Help:      "Measurement points ingested, by data type and criticality",
		}, []string{"data_type", "critical"}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "monitoring",
			Name:      "alerts_created_total",
			Help:      "Alerts created, by severity",
		}, []string{"severity"}),
		alertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "monitoring",
			Name:      "alerts_suppressed_total",
			Help:      "Threshold alerts suppressed by the deduplication window",
		}),
		alertsAcknowledged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "monitoring",
			Name:      "alerts_acknowledged_total",
			Help:      "Alert acknowledgements",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "monitoring",
			Name:      "notifications_total",
			Help:      "Notification dispatch outcomes",
		}, []string{"result"}),
		dispatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "monitoring",
			Name:      "dispatch_queue_depth",
			Help:      "Alerts waiting for notification dispatch",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "monitoring",
			Name:      "sessions_started_minus_ended",
			Help:      "Sessions started minus sessions ended since process start",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route and status",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.measurementsIngested,
		c.alertsCreated,
		c.alertsSuppressed,
		c.alertsAcknowledged,
		c.notifications,
		c.dispatchQueueDepth,
		c.sessionsActive,
		c.httpRequestsTotal,
		c.httpRequestDuration,
	)
	return c
}

// MeasurementIngested counts a stored measurement
func (c *Collector) MeasurementIngested(dataType string, critical bool) {
	if c == nil {
		return
	}
	c.measurementsIngested.WithLabelValues(dataType, strconv.FormatBool(critical)).Inc()
}

// AlertCreated counts a created alert
func (c *Collector) AlertCreated(severity string) {
	if c == nil {
		return
	}
	c.alertsCreated.WithLabelValues(severity).Inc()
}

// AlertSuppressed counts a deduplicated alert
func (c *Collector) AlertSuppressed() {
	if c == nil {
		return
	}
	c.alertsSuppressed.Inc()
}

// AlertAcknowledged counts an acknowledgement
func (c *Collector) AlertAcknowledged() {
	if c == nil {
		return
	}
	c.alertsAcknowledged.Inc()
}

// Notification counts a dispatch outcome: delivered, undelivered, failed, dropped or throttled
func (c *Collector) Notification(result string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(result).Inc()
}

// DispatchQueueDepth sets the current dispatch backlog
func (c *Collector) DispatchQueueDepth(n int) {
	if c == nil {
		return
	}
	c.dispatchQueueDepth.Set(float64(n))
}

// SessionStarted tracks a session becoming active
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

// SessionEnded tracks a session leaving the active state
func (c *Collector) SessionEnded() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

// ObserveHTTP records one HTTP request
func (c *Collector) ObserveHTTP(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
