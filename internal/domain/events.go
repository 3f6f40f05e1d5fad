package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionEventKind вид события жизненного цикла подписки
type SubscriptionEventKind string

const (
	EventSubscriptionCreated     SubscriptionEventKind = "subscription.created"
	EventSubscriptionActivated   SubscriptionEventKind = "subscription.activated"
	EventSubscriptionRenewed     SubscriptionEventKind = "subscription.renewed"
	EventSubscriptionCancelled   SubscriptionEventKind = "subscription.cancelled"
	EventSubscriptionExpired     SubscriptionEventKind = "subscription.expired"
	EventSubscriptionSuspended   SubscriptionEventKind = "subscription.suspended"
	EventSubscriptionReactivated SubscriptionEventKind = "subscription.reactivated"
	EventRenewalNeeded           SubscriptionEventKind = "subscription.renewal_needed"
)

// SubscriptionEvent событие жизненного цикла, рассылаемое подписчикам
// реестра событий синхронно при смене статуса
type SubscriptionEvent struct {
	Kind           SubscriptionEventKind `json:"kind"`
	SubscriptionID uuid.UUID             `json:"subscription_id"`
	UserID         uuid.UUID             `json:"user_id"`
	ProductID      string                `json:"product_id"`
	GatewayID      string                `json:"gateway_id"`
	From           SubscriptionStatus    `json:"from,omitempty"`
	To             SubscriptionStatus    `json:"to,omitempty"`
	OccurredAt     time.Time             `json:"occurred_at"`
}

// ProviderEventType тип события от платежного провайдера после
// нормализации шлюзом
type ProviderEventType string

const (
	ProviderEventInvoicePaid         ProviderEventType = "invoice_paid"
	ProviderEventInvoiceFailed       ProviderEventType = "invoice_failed"
	ProviderEventSubscriptionDeleted ProviderEventType = "subscription_deleted"
	ProviderEventSubscriptionUpdated ProviderEventType = "subscription_updated"
	ProviderEventChargeRefunded      ProviderEventType = "charge_refunded"
	ProviderEventPaymentSucceeded    ProviderEventType = "payment_succeeded"
	ProviderEventPaymentFailed       ProviderEventType = "payment_failed"
	ProviderEventUnknown             ProviderEventType = "unknown"
)

// ProviderEvent нормализованное вебхук-событие провайдера.
// TransNum служит ключом идемпотентности; подписка ищется по паре
// (ExternalSubscriptionID, GatewayID), провайдер не знает локальных ID.
type ProviderEvent struct {
	ID                     string            `json:"id"`
	GatewayID              string            `json:"gateway_id"`
	Type                   ProviderEventType `json:"type"`
	RawType                string            `json:"raw_type"` // исходный тип события провайдера
	TransNum               string            `json:"trans_num,omitempty"`
	ExternalSubscriptionID string            `json:"external_subscription_id,omitempty"`
	ProviderStatus         string            `json:"provider_status,omitempty"`
	Amount                 float64           `json:"amount,omitempty"`
	Message                string            `json:"message,omitempty"`
	OccurredAt             time.Time         `json:"occurred_at"`
}
