package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts gateway notification outcomes.
type WebhookMetrics struct {
	received *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook counters on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_webhooks_total",
		Help: "Gateway payment notifications by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(received)
	return &WebhookMetrics{received: received}
}

// Inc records one notification with the given outcome.
func (w *WebhookMetrics) Inc(outcome string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(outcome)).Inc()
}
