package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
)

// InMemorySubscriptionRepository реализация репозитория подписок в памяти
type InMemorySubscriptionRepository struct {
	subscriptions map[uuid.UUID]domain.Subscription
	mutex         sync.RWMutex
	log           *logger.Logger
}

// NewInMemorySubscriptionRepository создает новый репозиторий подписок в памяти
func NewInMemorySubscriptionRepository(log *logger.Logger) *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		subscriptions: make(map[uuid.UUID]domain.Subscription),
		log:           log,
	}
}

// Create создает новую подписку
func (r *InMemorySubscriptionRepository) Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if sub.ExternalID != "" {
		for _, existing := range r.subscriptions {
			if existing.ExternalID == sub.ExternalID && existing.GatewayID == sub.GatewayID {
				return domain.Subscription{}, ErrDuplicate
			}
		}
	}

	sub.CreatedAt = time.Now()
	sub.UpdatedAt = time.Now()

	r.subscriptions[sub.ID] = sub

	return sub, nil
}

// GetByID возвращает подписку по ID
func (r *InMemorySubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sub, exists := r.subscriptions[id]
	if !exists {
		return domain.Subscription{}, ErrNotFound
	}

	return sub, nil
}

// GetByExternalID возвращает подписку по внешнему ID и шлюзу
func (r *InMemorySubscriptionRepository) GetByExternalID(ctx context.Context, externalID, gatewayID string) (domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, sub := range r.subscriptions {
		if sub.ExternalID == externalID && sub.GatewayID == gatewayID {
			return sub, nil
		}
	}

	return domain.Subscription{}, ErrNotFound
}

// matchesFilter проверяет подписку на соответствие фильтру
func matchesFilter(sub domain.Subscription, filter SubscriptionFilter) bool {
	if filter.UserID != nil && sub.UserID != *filter.UserID {
		return false
	}
	if filter.ProductID != "" && sub.ProductID != filter.ProductID {
		return false
	}
	if filter.Status != "" && sub.Status != filter.Status {
		return false
	}
	if filter.GatewayID != "" && sub.GatewayID != filter.GatewayID {
		return false
	}
	if filter.From != nil && sub.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && sub.CreatedAt.After(*filter.To) {
		return false
	}
	return true
}

// List возвращает подписки по фильтру с пагинацией
func (r *InMemorySubscriptionRepository) List(ctx context.Context, filter SubscriptionFilter) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var subs []domain.Subscription
	for _, sub := range r.subscriptions {
		if matchesFilter(sub, filter) {
			subs = append(subs, sub)
		}
	}

	// Сортируем по времени создания (новые в начале)
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})

	// Применяем пагинацию
	if filter.Offset >= len(subs) {
		return []domain.Subscription{}, nil
	}

	end := len(subs)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}

	return subs[filter.Offset:end], nil
}

// ListActiveByUser возвращает активные подписки пользователя
func (r *InMemorySubscriptionRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var subs []domain.Subscription
	for _, sub := range r.subscriptions {
		if sub.UserID == userID && sub.Status == domain.SubscriptionStatusActive {
			subs = append(subs, sub)
		}
	}

	return subs, nil
}

// Update обновляет подписку целиком
func (r *InMemorySubscriptionRepository) Update(ctx context.Context, sub domain.Subscription) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.subscriptions[sub.ID]; !exists {
		return ErrNotFound
	}

	sub.UpdatedAt = time.Now()
	r.subscriptions[sub.ID] = sub

	return nil
}

// UpdateStatusIf атомарно меняет статус при совпадении ожидаемого
func (r *InMemorySubscriptionRepository) UpdateStatusIf(ctx context.Context, id uuid.UUID, expected, next domain.SubscriptionStatus, at time.Time) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sub, exists := r.subscriptions[id]
	if !exists {
		return false, ErrNotFound
	}

	if sub.Status != expected {
		return false, nil
	}

	sub.Status = next
	if next == domain.SubscriptionStatusCancelled {
		cancelledAt := at
		sub.CancelledAt = &cancelledAt
	}
	sub.UpdatedAt = at
	r.subscriptions[id] = sub

	return true, nil
}

// MarkRenewed атомарно продлевает подписку (compare-and-set по якорю)
func (r *InMemorySubscriptionRepository) MarkRenewed(ctx context.Context, id uuid.UUID, expectedNext, next, paidAt time.Time) (domain.Subscription, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sub, exists := r.subscriptions[id]
	if !exists {
		return domain.Subscription{}, ErrNotFound
	}

	if sub.Status != domain.SubscriptionStatusActive ||
		sub.NextPaymentAt == nil ||
		!sub.NextPaymentAt.Equal(expectedNext) {
		return domain.Subscription{}, ErrStaleUpdate
	}

	nextCopy := next
	paidCopy := paidAt
	sub.NextPaymentAt = &nextCopy
	sub.ExpiresAt = &nextCopy
	sub.LastPaymentAt = &paidCopy
	sub.RenewalCount++
	sub.FailureCount = 0
	sub.UpdatedAt = paidAt
	r.subscriptions[id] = sub

	return sub, nil
}

// IncrementFailureCount увеличивает счетчик неудачных продлений
func (r *InMemorySubscriptionRepository) IncrementFailureCount(ctx context.Context, id uuid.UUID) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sub, exists := r.subscriptions[id]
	if !exists {
		return 0, ErrNotFound
	}

	sub.FailureCount++
	sub.UpdatedAt = time.Now()
	r.subscriptions[id] = sub

	return sub.FailureCount, nil
}

// FindDueForRenewal возвращает активные подписки шлюза с наступившим сроком платежа
func (r *InMemorySubscriptionRepository) FindDueForRenewal(ctx context.Context, gatewayID string, now time.Time) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var subs []domain.Subscription
	for _, sub := range r.subscriptions {
		if sub.GatewayID == gatewayID &&
			sub.Status == domain.SubscriptionStatusActive &&
			sub.NextPaymentAt != nil &&
			!sub.NextPaymentAt.After(now) {
			subs = append(subs, sub)
		}
	}

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].NextPaymentAt.Before(*subs[j].NextPaymentAt)
	})

	return subs, nil
}

// FindExpired возвращает активные подписки с истекшим expires_at
func (r *InMemorySubscriptionRepository) FindExpired(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var subs []domain.Subscription
	for _, sub := range r.subscriptions {
		if sub.Status == domain.SubscriptionStatusActive &&
			sub.ExpiresAt != nil &&
			!sub.ExpiresAt.After(now) {
			subs = append(subs, sub)
		}
	}

	return subs, nil
}

// FindDueOn возвращает активные подписки с платежом ровно в указанную дату
func (r *InMemorySubscriptionRepository) FindDueOn(ctx context.Context, date time.Time) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	y, m, d := date.Date()

	var subs []domain.Subscription
	for _, sub := range r.subscriptions {
		if sub.Status != domain.SubscriptionStatusActive || sub.NextPaymentAt == nil {
			continue
		}
		ny, nm, nd := sub.NextPaymentAt.Date()
		if ny == y && nm == m && nd == d {
			subs = append(subs, sub)
		}
	}

	return subs, nil
}

// CountByStatus возвращает количество подписок в разрезе статусов
func (r *InMemorySubscriptionRepository) CountByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	counts := make(map[domain.SubscriptionStatus]int)
	for _, sub := range r.subscriptions {
		counts[sub.Status]++
	}
	return counts, nil
}

// InMemoryTransactionRepository реализация журнала транзакций в памяти
type InMemoryTransactionRepository struct {
	transactions map[uuid.UUID]domain.Transaction
	byTransNum   map[string]uuid.UUID
	mutex        sync.RWMutex
	log          *logger.Logger
}

// NewInMemoryTransactionRepository создает новый репозиторий транзакций в памяти
func NewInMemoryTransactionRepository(log *logger.Logger) *InMemoryTransactionRepository {
	return &InMemoryTransactionRepository{
		transactions: make(map[uuid.UUID]domain.Transaction),
		byTransNum:   make(map[string]uuid.UUID),
		log:          log,
	}
}

// Create создает транзакцию; дубликат trans_num возвращает ErrDuplicate
func (r *InMemoryTransactionRepository) Create(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.byTransNum[tx.TransNum]; exists {
		return domain.Transaction{}, ErrDuplicate
	}

	tx.CreatedAt = time.Now()
	tx.UpdatedAt = time.Now()

	r.transactions[tx.ID] = tx
	r.byTransNum[tx.TransNum] = tx.ID

	return tx, nil
}

// GetByID возвращает транзакцию по ID
func (r *InMemoryTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tx, exists := r.transactions[id]
	if !exists {
		return domain.Transaction{}, ErrNotFound
	}

	return tx, nil
}

// GetByTransNum возвращает транзакцию по ключу идемпотентности
func (r *InMemoryTransactionRepository) GetByTransNum(ctx context.Context, transNum string) (domain.Transaction, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	id, exists := r.byTransNum[transNum]
	if !exists {
		return domain.Transaction{}, ErrNotFound
	}

	return r.transactions[id], nil
}

// List возвращает транзакции по фильтру с пагинацией
func (r *InMemoryTransactionRepository) List(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var txs []domain.Transaction
	for _, tx := range r.transactions {
		if filter.UserID != nil && tx.UserID != *filter.UserID {
			continue
		}
		if filter.ProductID != "" && tx.ProductID != filter.ProductID {
			continue
		}
		if filter.SubscriptionID != nil && tx.SubscriptionID != *filter.SubscriptionID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.GatewayID != "" && tx.GatewayID != filter.GatewayID {
			continue
		}
		if filter.From != nil && tx.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && tx.CreatedAt.After(*filter.To) {
			continue
		}
		txs = append(txs, tx)
	}

	sort.Slice(txs, func(i, j int) bool {
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})

	if filter.Offset >= len(txs) {
		return []domain.Transaction{}, nil
	}

	end := len(txs)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}

	return txs[filter.Offset:end], nil
}

// UpdateStatus меняет статус транзакции
func (r *InMemoryTransactionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus) (domain.Transaction, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tx, exists := r.transactions[id]
	if !exists {
		return domain.Transaction{}, ErrNotFound
	}

	tx.Status = status
	tx.UpdatedAt = time.Now()
	r.transactions[id] = tx

	return tx, nil
}

// InMemoryReminderRepository маркеры напоминаний в памяти
type InMemoryReminderRepository struct {
	markers map[string]struct{}
	mutex   sync.Mutex
}

// NewInMemoryReminderRepository создает новый репозиторий маркеров в памяти
func NewInMemoryReminderRepository() *InMemoryReminderRepository {
	return &InMemoryReminderRepository{
		markers: make(map[string]struct{}),
	}
}

// reminderKey ключ маркера: подписка + срок + календарная дата платежа
func reminderKey(subscriptionID uuid.UUID, leadDays int, dueDate time.Time) string {
	return fmt.Sprintf("%s:%d:%s", subscriptionID, leadDays, dueDate.Format("2006-01-02"))
}

// Exists проверяет наличие маркера
func (r *InMemoryReminderRepository) Exists(ctx context.Context, subscriptionID uuid.UUID, leadDays int, dueDate time.Time) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	_, exists := r.markers[reminderKey(subscriptionID, leadDays, dueDate)]
	return exists, nil
}

// Record фиксирует отправку напоминания
func (r *InMemoryReminderRepository) Record(ctx context.Context, subscriptionID uuid.UUID, leadDays int, dueDate time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := reminderKey(subscriptionID, leadDays, dueDate)
	if _, exists := r.markers[key]; exists {
		return ErrDuplicate
	}

	r.markers[key] = struct{}{}
	return nil
}
