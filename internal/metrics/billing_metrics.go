package metrics

import (
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	IncCheckout(gatewayID, kind, outcome string)
	IncWebhookEvent(gatewayID, eventType, outcome string)
	IncRenewal(gatewayID, outcome string)
	IncReconciliationCandidate(gatewayID string)
	ObserveTransactionAmount(amount float64, gatewayID, txType string)
	SetSubscriptionsByStatus(status string, count float64)
}

type billingMetrics struct {
	log                      *logger.Logger
	checkouts                *prometheus.CounterVec
	webhookEvents            *prometheus.CounterVec
	renewals                 *prometheus.CounterVec
	reconciliationCandidates *prometheus.CounterVec
	transactionAmount        *prometheus.HistogramVec
	subscriptionsByStatus    *prometheus.GaugeVec
}

// NewBillingMetrics создает новые метрики биллинга
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	checkouts := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_checkouts_total",
			Help: "The total number of checkout attempts by outcome",
		},
		[]string{"gateway", "kind", "outcome"},
	)

	webhookEvents := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "The total number of processed provider webhook events",
		},
		[]string{"gateway", "type", "outcome"},
	)

	renewals := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_renewals_total",
			Help: "The total number of subscription renewal attempts",
		},
		[]string{"gateway", "outcome"},
	)

	reconciliationCandidates := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_reconciliation_candidates_total",
			Help: "Charges confirmed by the provider that failed to record locally",
		},
		[]string{"gateway"},
	)

	transactionAmount := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_transaction_amount",
			Help:    "Transaction amounts distribution",
			Buckets: prometheus.ExponentialBuckets(1, 10, 6), // 1, 10, 100, 1000, 10000, 100000
		},
		[]string{"gateway", "type"},
	)

	subscriptionsByStatus := promauto.With(registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "billing_subscriptions",
			Help: "Current number of subscriptions by status",
		},
		[]string{"status"},
	)

	return &billingMetrics{
		log:                      log,
		checkouts:                checkouts,
		webhookEvents:            webhookEvents,
		renewals:                 renewals,
		reconciliationCandidates: reconciliationCandidates,
		transactionAmount:        transactionAmount,
		subscriptionsByStatus:    subscriptionsByStatus,
	}
}

// IncCheckout увеличивает счетчик чекаутов
func (m *billingMetrics) IncCheckout(gatewayID, kind, outcome string) {
	m.checkouts.WithLabelValues(gatewayID, kind, outcome).Inc()
}

// IncWebhookEvent увеличивает счетчик вебхук-событий
func (m *billingMetrics) IncWebhookEvent(gatewayID, eventType, outcome string) {
	m.webhookEvents.WithLabelValues(gatewayID, eventType, outcome).Inc()
}

// IncRenewal увеличивает счетчик продлений
func (m *billingMetrics) IncRenewal(gatewayID, outcome string) {
	m.renewals.WithLabelValues(gatewayID, outcome).Inc()
}

// IncReconciliationCandidate увеличивает счетчик расхождений с провайдером
func (m *billingMetrics) IncReconciliationCandidate(gatewayID string) {
	m.reconciliationCandidates.WithLabelValues(gatewayID).Inc()
}

// ObserveTransactionAmount записывает сумму транзакции
func (m *billingMetrics) ObserveTransactionAmount(amount float64, gatewayID, txType string) {
	m.transactionAmount.WithLabelValues(gatewayID, txType).Observe(amount)
}

// SetSubscriptionsByStatus выставляет число подписок в статусе
func (m *billingMetrics) SetSubscriptionsByStatus(status string, count float64) {
	m.subscriptionsByStatus.WithLabelValues(status).Set(count)
}

// NopMetrics метрики-заглушка для тестов
type NopMetrics struct{}

// NewNopMetrics создает метрики-заглушку
func NewNopMetrics() BillingMetrics { return NopMetrics{} }

func (NopMetrics) IncCheckout(string, string, string)            {}
func (NopMetrics) IncWebhookEvent(string, string, string)        {}
func (NopMetrics) IncRenewal(string, string)                     {}
func (NopMetrics) IncReconciliationCandidate(string)             {}
func (NopMetrics) ObserveTransactionAmount(float64, string, string) {}
func (NopMetrics) SetSubscriptionsByStatus(string, float64)      {}
