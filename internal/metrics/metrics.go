// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activitiesSynced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traincal",
		Subsystem: "sync",
		Name:      "activities_total",
		Help:      "Activities ingested, by source and outcome.",
	}, []string{"source", "result"})

	matchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traincal",
		Subsystem: "match",
		Name:      "outcomes_total",
		Help:      "Matcher results by rule; unmatched activities use rule=\"none\".",
	}, []string{"rule"})

	regenerations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traincal",
		Subsystem: "calendar",
		Name:      "regenerations_total",
		Help:      "Calendar regenerations by result.",
	}, []string{"result"})

	regenerationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "traincal",
		Subsystem: "calendar",
		Name:      "regeneration_duration_seconds",
		Help:      "Time spent synthesizing and writing the calendar.",
		Buckets:   prometheus.DefBuckets,
	})

	calendarEvents = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "traincal",
		Subsystem: "calendar",
		Name:      "events",
		Help:      "Events in the last generated calendar, by kind.",
	}, []string{"kind"})

	lastRegeneration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "traincal",
		Subsystem: "calendar",
		Name:      "last_regeneration_timestamp_seconds",
		Help:      "Unix time of the last successful regeneration.",
	})

	webhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traincal",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Webhook deliveries by object type, aspect and outcome.",
	}, []string{"object_type", "aspect_type", "result"})

	exports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traincal",
		Subsystem: "export",
		Name:      "records_total",
		Help:      "Activity records sent to the external record store, by outcome.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(activitiesSynced, matchOutcomes, regenerations, regenerationSeconds,
		calendarEvents, lastRegeneration, webhookEvents, exports)
}

func RecordSync(source, result string) {
	if source == "" {
		source = "unknown"
	}
	activitiesSynced.WithLabelValues(source, result).Inc()
}

func RecordMatch(rule string) {
	if rule == "" {
		rule = "none"
	}
	matchOutcomes.WithLabelValues(rule).Inc()
}

// RecordRegeneration observes one regeneration. counts is only applied on
// success.
func RecordRegeneration(started time.Time, err error, counts map[string]int) {
	regenerationSeconds.Observe(time.Since(started).Seconds())
	if err != nil {
		regenerations.WithLabelValues("error").Inc()
		return
	}
	regenerations.WithLabelValues("ok").Inc()
	lastRegeneration.SetToCurrentTime()
	for kind, n := range counts {
		calendarEvents.WithLabelValues(kind).Set(float64(n))
	}
}

func RecordWebhook(objectType, aspectType, result string) {
	webhookEvents.WithLabelValues(objectType, aspectType, result).Inc()
}

func RecordExport(result string) {
	exports.WithLabelValues(result).Inc()
}
