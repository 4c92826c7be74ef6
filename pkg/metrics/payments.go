package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks payment outcomes per provider.
type PaymentMetrics struct {
	outcomes        *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	fraudBlocks     prometheus.Counter
	retryDepth      prometheus.Gauge
}

// NewPaymentMetrics registers payment pipeline metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_outcomes_total",
		Help: "Payment transactions by provider and final status.",
	}, []string{"provider", "status"})
	providerLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_request_duration_seconds",
		Help:    "Latency of provider initiate and refund calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})
	fraudBlocks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fraud_blocks_total",
		Help: "Payments rejected by the fraud gate.",
	})
	retryDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "retry_queue_depth",
		Help: "Transactions currently waiting in the retry queue.",
	})
	reg.MustRegister(outcomes, providerLatency, fraudBlocks, retryDepth)
	return &PaymentMetrics{
		outcomes:        outcomes,
		providerLatency: providerLatency,
		fraudBlocks:     fraudBlocks,
		retryDepth:      retryDepth,
	}
}

// IncOutcome counts a transaction reaching the given status.
func (p *PaymentMetrics) IncOutcome(provider, status string) {
	if p == nil || p.outcomes == nil {
		return
	}
	p.outcomes.WithLabelValues(normalizeLabel(provider), normalizeLabel(status)).Inc()
}

// ObserveProviderLatency records one provider round trip.
func (p *PaymentMetrics) ObserveProviderLatency(provider, operation string, duration time.Duration) {
	if p == nil || p.providerLatency == nil {
		return
	}
	p.providerLatency.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncFraudBlock counts a payment stopped by the fraud gate.
func (p *PaymentMetrics) IncFraudBlock() {
	if p == nil || p.fraudBlocks == nil {
		return
	}
	p.fraudBlocks.Inc()
}

// SetRetryDepth reports the current retry queue depth.
func (p *PaymentMetrics) SetRetryDepth(n int) {
	if p == nil || p.retryDepth == nil {
		return
	}
	p.retryDepth.Set(float64(n))
}
