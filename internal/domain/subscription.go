package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusFailed    SubscriptionStatus = "failed"
)

// PeriodUnit единица измерения биллингового периода
type PeriodUnit string

const (
	PeriodUnitDay   PeriodUnit = "day"
	PeriodUnitWeek  PeriodUnit = "week"
	PeriodUnitMonth PeriodUnit = "month"
	PeriodUnitYear  PeriodUnit = "year"
)

// BillingPeriod биллинговый период подписки: целое число единиц
type BillingPeriod struct {
	Count int        `json:"count"`
	Unit  PeriodUnit `json:"unit"`
}

// Subscription представляет собой модель подписки
type Subscription struct {
	ID            uuid.UUID          `json:"id"`
	UserID        uuid.UUID          `json:"user_id"`
	ProductID     string             `json:"product_id"`
	GatewayID     string             `json:"gateway_id"`
	Status        SubscriptionStatus `json:"status"`
	ExternalID    string             `json:"external_id,omitempty"` // ID подписки у провайдера (Stripe и т.п.)
	Period        BillingPeriod      `json:"period"`
	Price         float64            `json:"price"`
	TaxRate       float64            `json:"tax_rate"`
	TaxAmount     float64            `json:"tax_amount"`
	Total         float64            `json:"total"`
	Trial         bool               `json:"trial"`
	TrialDays     int                `json:"trial_days,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	ExpiresAt     *time.Time         `json:"expires_at,omitempty"` // nil только для пожизненных подписок
	NextPaymentAt *time.Time         `json:"next_payment_at,omitempty"`
	LastPaymentAt *time.Time         `json:"last_payment_at,omitempty"`
	CancelledAt   *time.Time         `json:"cancelled_at,omitempty"`
	RenewalCount  int                `json:"renewal_count"`
	FailureCount  int                `json:"failure_count"` // подряд идущие неудачные продления
	UpdatedAt     time.Time          `json:"updated_at"`
}

// IsLifetime пожизненная подписка: не продлевается и не истекает
func (s *Subscription) IsLifetime() bool {
	return s.ExpiresAt == nil
}

// allowedTransitions таблица разрешенных переходов машины состояний.
// Все прочие переходы отклоняются.
var allowedTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusPending: {
		SubscriptionStatusActive,
		SubscriptionStatusCancelled,
		SubscriptionStatusFailed, // failed достижим только из первичного чекаута
	},
	SubscriptionStatusActive: {
		SubscriptionStatusActive, // продление
		SubscriptionStatusCancelled,
		SubscriptionStatusExpired,
		SubscriptionStatusSuspended,
	},
	SubscriptionStatusSuspended: {
		SubscriptionStatusActive, // платеж восстановился
		SubscriptionStatusCancelled,
		SubscriptionStatusExpired,
	},
	SubscriptionStatusCancelled: {
		SubscriptionStatusActive, // реактивация администратором
	},
	SubscriptionStatusExpired: {
		SubscriptionStatusActive, // реактивация администратором
	},
	SubscriptionStatusFailed: {},
}

// CanTransition проверяет, разрешен ли переход from -> to
func CanTransition(from, to SubscriptionStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NextAnchor вычисляет следующую якорную дату: к текущему якорю прибавляется
// целый биллинговый период. Месяцы и годы считаются календарно, день месяца
// прижимается к последнему дню короткого месяца (31 января + 1 месяц =
// 29 февраля в високосный год, 28 февраля в обычный).
func NextAnchor(anchor time.Time, period BillingPeriod) time.Time {
	count := period.Count
	if count <= 0 {
		count = 1
	}

	switch period.Unit {
	case PeriodUnitDay:
		return anchor.AddDate(0, 0, count)
	case PeriodUnitWeek:
		return anchor.AddDate(0, 0, 7*count)
	case PeriodUnitMonth:
		return addMonthsClamped(anchor, count)
	case PeriodUnitYear:
		return addMonthsClamped(anchor, 12*count)
	default:
		return addMonthsClamped(anchor, count)
	}
}

// addMonthsClamped прибавляет месяцы без переката в следующий месяц
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	// Нормализуем целевой месяц через нулевой день
	target := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := daysInMonth(target.Year(), target.Month())
	if day > lastDay {
		day = lastDay
	}

	return time.Date(target.Year(), target.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}

// daysInMonth возвращает число дней в месяце
func daysInMonth(year int, month time.Month) int {
	// Нулевой день следующего месяца дает последний день текущего
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
