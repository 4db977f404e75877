package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries every instrument the pipeline and background loops
// record into. Instruments live on a private registry so multiple
// instances (tests, mainly) never collide.
type Metrics struct {
	registry *prometheus.Registry

	WebhooksReceived     *prometheus.CounterVec
	WebhooksDropped      *prometheus.CounterVec
	MessagesProcessed    *prometheus.CounterVec
	RepliesSent          *prometheus.CounterVec
	SendFailures         prometheus.Counter
	QueueDepth           *prometheus.GaugeVec
	IdentityResolutions  *prometheus.CounterVec
	FunnelTransitions    *prometheus.CounterVec
	ProcessingDuration   prometheus.Histogram
	ReengagementMessages prometheus.Counter
	HealthProbeFailures  prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "Webhook events accepted for processing",
		}, []string{"event"}),
		WebhooksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhooks_dropped_total",
			Help: "Webhook events dropped before processing",
		}, []string{"reason"}),
		MessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_processed_total",
			Help: "Inbound messages run through the pipeline",
		}, []string{"source"}),
		RepliesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replies_sent_total",
			Help: "Outbound replies delivered to the gateway",
		}, []string{"kind"}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "send_failures_total",
			Help: "Outbound sends that failed and were queued",
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "delivery_queue_depth",
			Help: "Pending delivery-queue entries by class",
		}, []string{"class"}),
		IdentityResolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_resolutions_total",
			Help: "Opaque id resolution attempts by outcome",
		}, []string{"outcome"}),
		FunnelTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "funnel_transitions_total",
			Help: "Funnel node transitions",
		}, []string{"from", "to"}),
		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "message_processing_duration_seconds",
			Help:    "Time from webhook pickup to reply dispatched",
			Buckets: prometheus.DefBuckets,
		}),
		ReengagementMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "reengagement_messages_total",
			Help: "Re-engagement nudges sent to stale conversations",
		}),
		HealthProbeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "health_probe_failures_total",
			Help: "Gateway health probes that found a disconnected instance",
		}),
	}
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
