package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsClassified = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchtower_requests_classified_total",
		Help: "Total number of requests run through the classifier",
	})
	requestsBlocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchtower_requests_blocked_total",
		Help: "Total number of classified requests that were blocked",
	})
	classificationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchtower_classification_failures_total",
		Help: "Total number of classifications that failed safe to defaults",
	})
	ingestDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchtower_ingest_dropped_total",
		Help: "Total number of malformed telemetry payloads dropped at ingest",
	})
	alertsRaised = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchtower_alerts_raised_total",
		Help: "Total number of security alerts raised by the evaluator",
	})
	rulesDisabled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchtower_detection_rules_disabled_total",
		Help: "Total number of malformed detection rules isolated and disabled",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		requestsClassified,
		requestsBlocked,
		classificationFailures,
		ingestDropped,
		alertsRaised,
		rulesDisabled,
	)
}

// IncClassified increments the classified requests counter.
func IncClassified() { requestsClassified.Inc() }

// IncBlocked increments the blocked requests counter.
func IncBlocked() { requestsBlocked.Inc() }

// IncClassificationFailure increments the fail-safe classification counter.
func IncClassificationFailure() { classificationFailures.Inc() }

// IncIngestDropped increments the dropped telemetry counter.
func IncIngestDropped() { ingestDropped.Inc() }

// IncAlertRaised increments the raised alerts counter.
func IncAlertRaised() { alertsRaised.Inc() }

// IncRuleDisabled increments the disabled rules counter.
func IncRuleDisabled() { rulesDisabled.Inc() }
