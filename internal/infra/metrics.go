package infra

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the bidding and payment core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	bids           *prometheus.CounterVec
	bidDuration    *prometheus.HistogramVec
	purchases      *prometheus.CounterVec
	refunds        *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	txRetries      *prometheus.CounterVec
	auditMismatch  prometheus.Counter
	creditsApplied *prometheus.CounterVec
	httpRequests   *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biddersweet_bids_total",
			Help: "Bid placement attempts by outcome.",
		}, []string{"outcome"}),
		bidDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "biddersweet_bid_placement_duration_seconds",
			Help:    "Time spent placing a bid including lock retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biddersweet_purchase_applications_total",
			Help: "Bid pack purchase applications by entry point and outcome.",
		}, []string{"source", "outcome"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biddersweet_refund_reconciliations_total",
			Help: "Refund reconciliations by entry point and outcome.",
		}, []string{"source", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biddersweet_stripe_webhook_events_total",
			Help: "Stripe webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		txRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biddersweet_transaction_retries_total",
			Help: "Transactions retried after lock contention.",
		}, []string{"operation"}),
		auditMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biddersweet_balance_audit_mismatch_total",
			Help: "Balance audits where the cached balance differed from the ledger sum.",
		}),
		creditsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biddersweet_credits_applied_total",
			Help: "Absolute bid credits moved through the ledger by reason.",
		}, []string{"reason"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "biddersweet_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.bids, m.bidDuration, m.purchases, m.refunds, m.webhookEvents,
		m.txRetries, m.auditMismatch, m.creditsApplied, m.httpRequests)
	return m
}

// ObserveBid records one bid placement attempt.
func (m *Metrics) ObserveBid(outcome string, d time.Duration) {
	if m == nil || m.bids == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.bids.WithLabelValues(outcome).Inc()
	m.bidDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) IncPurchase(source, outcome string) {
	if m == nil || m.purchases == nil {
		return
	}
	m.purchases.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncRefund(source, outcome string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncRetry(operation string) {
	if m == nil || m.txRetries == nil {
		return
	}
	m.txRetries.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *Metrics) IncAuditMismatch() {
	if m == nil || m.auditMismatch == nil {
		return
	}
	m.auditMismatch.Inc()
}

// AddCredits records the magnitude of a ledger movement.
func (m *Metrics) AddCredits(reason string, amount int64) {
	if m == nil || m.creditsApplied == nil {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.creditsApplied.WithLabelValues(normalizeLabel(reason)).Add(float64(amount))
}

// ObserveHTTP records one served request. route is the router pattern, not
// the raw path, so ids do not explode the label set.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, normalizeLabel(route), statusClass(status)).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
