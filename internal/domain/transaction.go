package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionStatus статус транзакции
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusComplete TransactionStatus = "complete"
	TransactionStatusFailed   TransactionStatus = "failed"
	TransactionStatusRefunded TransactionStatus = "refunded"
)

// TransactionType тип транзакции
type TransactionType string

const (
	TransactionTypePayment TransactionType = "payment"
	TransactionTypeRefund  TransactionType = "refund"
	TransactionTypeRenewal TransactionType = "renewal"
)

// Transaction представляет собой запись финансового журнала.
// TransNum глобально уникальный идентификатор у провайдера (или локально
// сгенерированный токен для ручного шлюза); служит ключом идемпотентности
// при сверке вебхуков.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	TransNum       string            `json:"trans_num"`
	UserID         uuid.UUID         `json:"user_id"`
	ProductID      string            `json:"product_id"`
	SubscriptionID uuid.UUID         `json:"subscription_id,omitempty"` // uuid.Nil для разовых покупок
	Amount         float64           `json:"amount"`
	TaxAmount      float64           `json:"tax_amount"`
	Total          float64           `json:"total"`
	Status         TransactionStatus `json:"status"`
	Type           TransactionType   `json:"type"`
	GatewayID      string            `json:"gateway_id"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// transactionStatusTransitions переходы статуса транзакции: только вперед.
// Завершенная транзакция остается неизменяемой финансовой историей, кроме
// терминального перехода в refunded.
var transactionStatusTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:  {TransactionStatusComplete, TransactionStatusFailed},
	TransactionStatusComplete: {TransactionStatusRefunded},
	TransactionStatusFailed:   {},
	TransactionStatusRefunded: {},
}

// CanTransitionStatus проверяет допустимость смены статуса транзакции
func CanTransitionStatus(from, to TransactionStatus) bool {
	if from == to {
		return true // повторная доставка того же статуса, no-op
	}
	for _, allowed := range transactionStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NewTransNum генерирует локальный уникальный номер транзакции
// для шлюзов без внешнего идентификатора платежа
func NewTransNum(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
