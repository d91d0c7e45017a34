// Package metrics exposes Prometheus instruments for the rule engine and its surfaces.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RuleMatchCount counts matching outcomes by how the rule was chosen.
	RuleMatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_rule_match_total",
			Help: "Total number of rule matching outcomes",
		},
		[]string{"outcome"}, // outcome: static, group, category, preset, ai, none
	)

	// DecisionCount counts persisted decision records.
	DecisionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_decisions_total",
			Help: "Total number of decision records written",
		},
		[]string{"status", "result"}, // result: created, existing
	)

	// LLMRequestDuration tracks structured completion latency.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailflow_llm_request_duration_seconds",
			Help:    "Structured completion request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"provider", "status"},
	)

	// MessageProcessedCount counts processed messages per surface.
	MessageProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_messages_processed_total",
			Help: "Total number of messages run through the rule engine",
		},
		[]string{"source", "status"}, // source: http, queue, cli
	)

	// MQConsumeLatency is the time from delivery to ack in milliseconds.
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailflow_mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)

	// HTTPRequestDuration tracks API latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)
)

// RecordMatch counts one matching outcome.
func RecordMatch(outcome string) {
	RuleMatchCount.WithLabelValues(outcome).Inc()
}

// RecordDecision counts one decision write.
func RecordDecision(status string, created bool) {
	result := "existing"
	if created {
		result = "created"
	}
	DecisionCount.WithLabelValues(status, result).Inc()
}

// RecordLLMRequest observes one model call.
func RecordLLMRequest(provider, status string, duration time.Duration) {
	LLMRequestDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
}

// RecordMessageProcessed counts one message handled by a surface.
func RecordMessageProcessed(source, status string) {
	MessageProcessedCount.WithLabelValues(source, status).Inc()
}

// RecordMQConsumeLatency observes one queue delivery.
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration observes one HTTP request.
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
