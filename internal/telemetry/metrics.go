package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ReportsSubmitted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_requests_submitted_total", Help: "Report requests published by the producer"})
	DuplicatesRejected   = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_requests_duplicate_total", Help: "Report requests rejected by the dedupe guard"})
	ReportsDelivered     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "report_delivered_total", Help: "Reports rendered and emailed"}, []string{"format"})
	ReportRetries        = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_retries_total", Help: "Report requests republished for another attempt"})
	RetryPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_retry_publish_failures_total", Help: "Retry republishes that failed and fell back to the broker"})
	ReportsDeadLettered  = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_failed_terminal_total", Help: "Report requests that exhausted their retries"})
	ReportsNotFound      = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_not_found_total", Help: "Report requests for an unknown property or an empty year"})
	ReportsMalformed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_malformed_total", Help: "Undecodable report messages rejected to the dead-letter exchange"})
	NotificationFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_notification_failures_total", Help: "Best-effort error emails that could not be sent"})
	DeadLettersObserved  = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_dead_letters_observed_total", Help: "Messages seen on the dead-letter queue"})
	InFlight             = prometheus.NewGauge(prometheus.GaugeOpts{Name: "report_inflight", Help: "Deliveries currently being handled"})
)

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ReportsSubmitted,
			DuplicatesRejected,
			ReportsDelivered,
			ReportRetries,
			RetryPublishFailures,
			ReportsDeadLettered,
			ReportsNotFound,
			ReportsMalformed,
			NotificationFailures,
			DeadLettersObserved,
			InFlight,
		)
	})
}

// Handler exposes /metrics with the collectors registered.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
