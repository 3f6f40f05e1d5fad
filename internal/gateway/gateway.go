package gateway

import (
	"context"

	"github.com/Dhoini/Billing-engine/internal/domain"
)

// Capability возможность платежного шлюза
type Capability string

const (
	CapabilityPayments      Capability = "payments"      // разовые платежи
	CapabilitySubscriptions Capability = "subscriptions" // рекуррентные подписки
	CapabilityRefunds       Capability = "refunds"
	CapabilityCancellation  Capability = "cancellation"
	CapabilityWebhooks      Capability = "webhooks"
)

// Capabilities набор возможностей шлюза
type Capabilities []Capability

// Has проверяет наличие возможности в наборе
func (c Capabilities) Has(cap Capability) bool {
	for _, have := range c {
		if have == cap {
			return true
		}
	}
	return false
}

// FieldType тип поля настроек шлюза
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeSecret FieldType = "secret"
	FieldTypeBool   FieldType = "bool"
)

// SettingsField описание одного поля настроек шлюза
type SettingsField struct {
	Key      string    `json:"key"`
	Title    string    `json:"title"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Default  string    `json:"default,omitempty"`
}

// SettingsSchema декларативная схема настроек шлюза.
// Настройки хранятся как плоский key/value и валидируются по схеме
// перед сохранением и перед конфигурированием шлюза.
type SettingsSchema struct {
	Fields []SettingsField `json:"fields"`
}

// Validate проверяет настройки по схеме: обязательные поля заполнены,
// неизвестные ключи отвергаются
func (s SettingsSchema) Validate(settings map[string]string) error {
	errs := &domain.ValidationErrors{}

	known := make(map[string]SettingsField, len(s.Fields))
	for _, f := range s.Fields {
		known[f.Key] = f
		if f.Required {
			if v, ok := settings[f.Key]; !ok || v == "" {
				errs.Add(f.Key, "required setting is missing")
			}
		}
	}

	for key := range settings {
		if _, ok := known[key]; !ok {
			errs.Add(key, "unknown setting")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// WithDefaults возвращает настройки, дополненные значениями по умолчанию
func (s SettingsSchema) WithDefaults(settings map[string]string) map[string]string {
	out := make(map[string]string, len(settings)+len(s.Fields))
	for _, f := range s.Fields {
		if f.Default != "" {
			out[f.Key] = f.Default
		}
	}
	for k, v := range settings {
		out[k] = v
	}
	return out
}

// Gateway абстракция платежного шлюза. Реализации не трогают леджеры
// напрямую: шлюз общается только с провайдером, запись в леджеры делают
// сервисы по результату.
type Gateway interface {
	// ID возвращает стабильный идентификатор шлюза ("manual", "stripe")
	ID() string

	// Name возвращает человекочитаемое название шлюза
	Name() string

	// Capabilities возвращает набор возможностей шлюза
	Capabilities() Capabilities

	// SettingsSchema возвращает схему настроек шлюза
	SettingsSchema() SettingsSchema

	// Configure применяет настройки. Настройки валидируются по схеме,
	// ошибка валидации возвращается как domain.ValidationErrors.
	Configure(settings map[string]string) error

	// ValidatePaymentFields проверяет входные данные платежа до похода
	// к провайдеру. Ошибка валидации возвращается как domain.ValidationErrors.
	ValidatePaymentFields(data domain.PaymentData) error

	// ProcessPayment проводит разовый платеж у провайдера
	ProcessPayment(ctx context.Context, data domain.PaymentData) (domain.PaymentResult, error)

	// ProcessSubscription создает рекуррентную подписку у провайдера
	ProcessSubscription(ctx context.Context, sub domain.Subscription, data domain.PaymentData) (domain.SubscriptionResult, error)

	// CancelSubscription отменяет подписку у провайдера
	CancelSubscription(ctx context.Context, sub domain.Subscription) error

	// ProcessRefund проводит возврат по завершенной транзакции
	ProcessRefund(ctx context.Context, tx domain.Transaction, req domain.RefundRequest) (domain.PaymentResult, error)
}

// WebhookParser реализуется шлюзами с возможностью CapabilityWebhooks:
// проверяет подпись и нормализует сырое событие провайдера
type WebhookParser interface {
	// SignatureHeader имя HTTP-заголовка с подписью у этого провайдера
	SignatureHeader() string

	ParseWebhook(payload []byte, sigHeader string) (domain.ProviderEvent, error)
}

// capabilityErr сокращение для типовой ошибки возможностей
func capabilityErr(gatewayID string, cap Capability) error {
	return &domain.CapabilityError{
		GatewayID:  gatewayID,
		Capability: string(cap),
	}
}
