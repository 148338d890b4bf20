package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsInspectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "argus_requests_inspected_total",
		Help: "Total number of requests run through the security pipeline",
	})
	stageDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_stage_decisions_total",
		Help: "Pipeline stage verdicts by stage and action",
	}, []string{"stage", "action"})
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_security_events_total",
		Help: "Security events logged by type and outcome",
	}, []string{"type", "outcome"})
	scansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_file_scans_total",
		Help: "Upload scans by disposition",
	}, []string{"action"})
	scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "argus_file_scan_duration_seconds",
		Help:    "Time spent scanning one upload",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
	alertsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "argus_alerts_dropped_total",
		Help: "Alerts suppressed by the alert rate limit or a full queue",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(
		requestsInspectedTotal,
		stageDecisionsTotal,
		eventsTotal,
		scansTotal,
		scanDuration,
		alertsDroppedTotal,
	)
}

// IncInspected counts one request entering the pipeline.
func IncInspected() { requestsInspectedTotal.Inc() }

// IncStageDecision counts a non-continue verdict from stage.
func IncStageDecision(stage, action string) {
	stageDecisionsTotal.WithLabelValues(stage, action).Inc()
}

// IncEvent counts a logged security event.
func IncEvent(typ, outcome string) {
	eventsTotal.WithLabelValues(typ, outcome).Inc()
}

// ObserveScan records one scan's disposition and duration.
func ObserveScan(action string, took time.Duration) {
	scansTotal.WithLabelValues(action).Inc()
	scanDuration.Observe(took.Seconds())
}

// IncAlertDropped counts an alert that was not delivered.
func IncAlertDropped() { alertsDroppedTotal.Inc() }
