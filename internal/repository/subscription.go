package repository

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/google/uuid"
)

// SubscriptionFilter параметры выборки подписок
type SubscriptionFilter struct {
	UserID    *uuid.UUID
	ProductID string
	Status    domain.SubscriptionStatus
	GatewayID string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// SubscriptionRepository интерфейс хранилища подписок
type SubscriptionRepository interface {
	// Create создает новую подписку
	Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)

	// GetByID возвращает подписку по ID
	GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error)

	// GetByExternalID возвращает подписку по паре (внешний ID, шлюз).
	// Провайдер знает только собственный идентификатор подписки.
	GetByExternalID(ctx context.Context, externalID, gatewayID string) (domain.Subscription, error)

	// List возвращает подписки по фильтру с пагинацией
	List(ctx context.Context, filter SubscriptionFilter) ([]domain.Subscription, error)

	// ListActiveByUser возвращает активные подписки пользователя
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error)

	// Update обновляет подписку целиком
	Update(ctx context.Context, sub domain.Subscription) error

	// UpdateStatusIf атомарно меняет статус только если текущий статус
	// совпадает с ожидаемым. Возвращает false без ошибки, если условие
	// не выполнилось (кто-то успел раньше).
	UpdateStatusIf(ctx context.Context, id uuid.UUID, expected, next domain.SubscriptionStatus, at time.Time) (bool, error)

	// MarkRenewed атомарно продлевает подписку: сдвигает якорные даты,
	// инкрементирует счетчик продлений и сбрасывает счетчик неудач, но
	// только если подписка активна и якорь не изменился с момента выборки
	// (защита от двойного продления при перекрытии запусков планировщика).
	MarkRenewed(ctx context.Context, id uuid.UUID, expectedNext, next, paidAt time.Time) (domain.Subscription, error)

	// IncrementFailureCount увеличивает счетчик подряд идущих неудачных
	// продлений и возвращает новое значение
	IncrementFailureCount(ctx context.Context, id uuid.UUID) (int, error)

	// FindDueForRenewal возвращает активные подписки шлюза, срок очередного
	// платежа которых наступил
	FindDueForRenewal(ctx context.Context, gatewayID string, now time.Time) ([]domain.Subscription, error)

	// FindExpired возвращает активные подписки с истекшим expires_at
	FindExpired(ctx context.Context, now time.Time) ([]domain.Subscription, error)

	// FindDueOn возвращает активные подписки, у которых очередной платеж
	// приходится ровно на указанную календарную дату
	FindDueOn(ctx context.Context, date time.Time) ([]domain.Subscription, error)

	// CountByStatus возвращает количество подписок в разрезе статусов
	CountByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error)
}

// TransactionFilter параметры выборки транзакций
type TransactionFilter struct {
	UserID         *uuid.UUID
	ProductID      string
	SubscriptionID *uuid.UUID
	Status         domain.TransactionStatus
	Type           domain.TransactionType
	GatewayID      string
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// TransactionRepository интерфейс хранилища транзакций.
// Журнал почти только на добавление: после complete запись меняет
// только терминальный переход в refunded.
type TransactionRepository interface {
	// Create создает транзакцию. Нарушение уникальности trans_num
	// возвращается как ErrDuplicate: вызывающий обязан трактовать это
	// как "уже существует", а не как фатальную ошибку.
	Create(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)

	// GetByID возвращает транзакцию по ID
	GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error)

	// GetByTransNum возвращает транзакцию по ключу идемпотентности
	GetByTransNum(ctx context.Context, transNum string) (domain.Transaction, error)

	// List возвращает транзакции по фильтру с пагинацией
	List(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)

	// UpdateStatus меняет статус транзакции
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus) (domain.Transaction, error)
}

// ReminderRepository маркеры отправленных напоминаний о продлении.
// Маркер ключуется тройкой (подписка, срок в днях, дата платежа) и
// защищает от повторной отправки между запусками планировщика.
type ReminderRepository interface {
	// Exists проверяет, отправлялось ли уже это напоминание
	Exists(ctx context.Context, subscriptionID uuid.UUID, leadDays int, dueDate time.Time) (bool, error)

	// Record фиксирует отправку напоминания; ErrDuplicate если маркер
	// уже существует
	Record(ctx context.Context, subscriptionID uuid.UUID, leadDays int, dueDate time.Time) error
}

// GatewaySettingsRepository хранилище настроек шлюзов: мешок ключ/значение
// на каждый шлюз, схема объявляется самим шлюзом и проверяется при сохранении
type GatewaySettingsRepository interface {
	// Load загружает настройки шлюза
	Load(ctx context.Context, gatewayID string) (map[string]string, error)

	// Save сохраняет настройки шлюза
	Save(ctx context.Context, gatewayID string, values map[string]string) error
}
