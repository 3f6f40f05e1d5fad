package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind вид уведомления пользователю
type NotificationKind string

const (
	NotificationPaymentReceived       NotificationKind = "payment_received"
	NotificationSubscriptionActivated NotificationKind = "subscription_activated"
	NotificationSubscriptionRenewed   NotificationKind = "subscription_renewed"
	NotificationSubscriptionCancelled NotificationKind = "subscription_cancelled"
	NotificationSubscriptionExpired   NotificationKind = "subscription_expired"
	NotificationSubscriptionSuspended NotificationKind = "subscription_suspended"
	NotificationRenewalFailed         NotificationKind = "renewal_failed"
	NotificationRenewalUpcoming       NotificationKind = "renewal_upcoming"
)

// Notification уведомление пользователю. Доставка асинхронная и
// необязательная: сбой доставки не влияет на смену статусов.
type Notification struct {
	Kind           NotificationKind `json:"kind"`
	UserID         uuid.UUID        `json:"user_id"`
	SubscriptionID uuid.UUID        `json:"subscription_id,omitempty"`
	ProductID      string           `json:"product_id,omitempty"`
	Message        string           `json:"message,omitempty"`
	DueAt          *time.Time       `json:"due_at,omitempty"` // для напоминаний о продлении
	CreatedAt      time.Time        `json:"created_at"`
}
