package domain

import (
	"github.com/google/uuid"
)

// PaymentData данные чекаута, передаваемые шлюзу
type PaymentData struct {
	UserID          uuid.UUID         `json:"user_id"`
	ProductID       string            `json:"product_id"`
	GatewayID       string            `json:"gateway_id"`
	Email           string            `json:"email"`
	Amount          float64           `json:"amount"`
	TaxRate         float64           `json:"tax_rate"`
	TaxAmount       float64           `json:"tax_amount"`
	Total           float64           `json:"total"`
	Currency        string            `json:"currency"`
	Period          BillingPeriod     `json:"period"`
	TrialDays       int               `json:"trial_days,omitempty"`
	PaymentMethodID string            `json:"payment_method_id,omitempty"` // токен платежного метода у провайдера
	Description     string            `json:"description,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// PaymentResult результат разового платежа.
// Ошибки провайдера не пробрасываются наружу как исключения: шлюз
// конвертирует их в Success=false с сообщением для пользователя.
type PaymentResult struct {
	Success       bool      `json:"success"`
	TransactionID uuid.UUID `json:"transaction_id,omitempty"`
	TransNum      string    `json:"trans_num,omitempty"` // идентификатор транзакции, выданный шлюзом
	Message       string    `json:"message,omitempty"`
	RedirectURL   string    `json:"redirect_url,omitempty"`
}

// SubscriptionResult результат создания подписки
type SubscriptionResult struct {
	Success        bool      `json:"success"`
	SubscriptionID uuid.UUID `json:"subscription_id,omitempty"`
	TransactionID  uuid.UUID `json:"transaction_id,omitempty"`
	TransNum       string    `json:"trans_num,omitempty"`
	ExternalID     string    `json:"external_id,omitempty"` // ID подписки на стороне провайдера
	Message        string    `json:"message,omitempty"`
	RequiresAction bool      `json:"requires_action,omitempty"` // требуется подтверждение плательщика (3DS)
	ClientSecret   string    `json:"client_secret,omitempty"`
	RedirectURL    string    `json:"redirect_url,omitempty"`
}

// RefundRequest запрос на возврат средств
type RefundRequest struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        float64   `json:"amount,omitempty"` // 0 означает полный возврат
	Reason        string    `json:"reason,omitempty"`
}
