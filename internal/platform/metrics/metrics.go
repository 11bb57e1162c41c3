// Package metrics holds the Prometheus collectors for the triage service.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ertriage/ertriage/internal/platform/events"
)

var (
	// Triage metrics
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ertriage_classifications_total",
			Help: "Total number of triage classifications by level and policy",
		},
		[]string{"level", "policy"},
	)

	TriageScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ertriage_triage_score",
			Help:    "Distribution of acuity scores at admission",
			Buckets: []float64{0, 2, 4, 6, 8, 10, 15, 20, 30, 45},
		},
		[]string{"level"},
	)

	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ertriage_status_transitions_total",
			Help: "Total number of patient status changes by from/to status",
		},
		[]string{"from", "to"},
	)

	LevelChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ertriage_level_changes_total",
			Help: "Total number of triage level changes caused by status updates",
		},
		[]string{"from", "to"},
	)

	// Event pipeline metrics
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ertriage_events_dropped_total",
			Help: "Total number of events dropped because the dispatcher buffer was full",
		},
	)

	EventSinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ertriage_event_sink_errors_total",
			Help: "Total number of event deliveries that failed by sink",
		},
		[]string{"sink"},
	)

	EventsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ertriage_events_delivered_total",
			Help: "Total number of events delivered by sink",
		},
		[]string{"sink"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ertriage_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ertriage_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Cache metrics
	ListCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ertriage_list_cache_total",
			Help: "Dashboard list cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)
)

// RecordClassification records an admission classification.
func RecordClassification(level, policy string, score float64) {
	ClassificationsTotal.WithLabelValues(level, policy).Inc()
	TriageScore.WithLabelValues(level).Observe(score)
}

// RecordStatusTransition records a status change.
func RecordStatusTransition(from, to string) {
	StatusTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordLevelChange records a level change.
func RecordLevelChange(from, to string) {
	LevelChangesTotal.WithLabelValues(from, to).Inc()
}

// RecordEventDropped records a dropped event.
func RecordEventDropped() {
	EventsDroppedTotal.Inc()
}

// RecordSinkResult records the outcome of one sink delivery.
func RecordSinkResult(sink string, ok bool) {
	if ok {
		EventsDeliveredTotal.WithLabelValues(sink).Inc()
		return
	}
	EventSinkErrorsTotal.WithLabelValues(sink).Inc()
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, code int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordListCache records a dashboard list cache lookup.
func RecordListCache(hit bool) {
	if hit {
		ListCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	ListCacheTotal.WithLabelValues("miss").Inc()
}

// DispatcherHooks wires dispatcher outcomes into the collectors.
func DispatcherHooks() events.Hooks {
	return events.Hooks{
		OnDrop:      func(events.Event) { RecordEventDropped() },
		OnSinkError: func(sink string, _ events.Event, _ error) { RecordSinkResult(sink, false) },
		OnDelivered: func(sink string, _ events.Event) { RecordSinkResult(sink, true) },
	}
}

// Sink turns triage events into metric updates.
type Sink struct{}

func (Sink) Name() string { return "metrics" }

func (Sink) Handle(_ context.Context, e events.Event) error {
	switch e.Kind {
	case events.KindTriageClassified:
		RecordClassification(e.Level, e.Policy, e.Score)
	case events.KindStatusChanged:
		RecordStatusTransition(e.PreviousStatus, e.Status)
	case events.KindLevelChanged:
		RecordLevelChange(e.PreviousLevel, e.Level)
	}
	return nil
}
