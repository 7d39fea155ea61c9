// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookEventsTotal tracks processed webhook events by outcome.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook events by processing outcome",
		},
		[]string{"kind", "outcome"},
	)

	// MessagesTotal tracks persisted messages by direction and type.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"direction", "type"},
	)

	// LLMRequestDuration tracks language model call latency.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Language model request duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"provider", "operation", "status"},
	)

	// CampaignSendsTotal tracks campaign message sends by result.
	CampaignSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_sends_total",
			Help: "Campaign sends by result",
		},
		[]string{"status"},
	)

	// ConversationsEscalatedTotal tracks conversations handed to a human.
	ConversationsEscalatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_escalated_total",
			Help: "Conversations escalated to a human operator",
		},
	)

	// ConversationsClosedTotal tracks conversations closed by the reaper.
	ConversationsClosedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_closed_total",
			Help: "Conversations closed for inactivity",
		},
	)

	// QueueDepth tracks pending tasks in the internal task queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "task_queue_depth",
			Help: "Pending tasks in the internal queue",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMRequest records latency for a language model call.
func RecordLLMRequest(provider, operation, status string, seconds float64) {
	LLMRequestDuration.WithLabelValues(provider, operation, status).Observe(seconds)
}
