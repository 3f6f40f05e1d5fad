package repository

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
)

// CachedSubscriptionRepository декоратор над репозиторием подписок:
// читает GetByID и ListActiveByUser через Redis, инвалидирует кеш при
// любой записи. Ошибки кеша не влияют на результат: источником истины
// остается нижележащий репозиторий.
type CachedSubscriptionRepository struct {
	base  SubscriptionRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedSubscriptionRepository создает кеширующий репозиторий подписок
func NewCachedSubscriptionRepository(base SubscriptionRepository, cache *RedisCacheRepository, log *logger.Logger) *CachedSubscriptionRepository {
	return &CachedSubscriptionRepository{
		base:  base,
		cache: cache,
		log:   log,
	}
}

// Create создает подписку и прогревает кеш
func (r *CachedSubscriptionRepository) Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	created, err := r.base.Create(ctx, sub)
	if err != nil {
		return domain.Subscription{}, err
	}

	// Список подписок пользователя устарел, подписка прогреется при чтении
	if err := r.cache.InvalidateSubscription(ctx, created); err != nil {
		r.log.Warnw("Failed to invalidate subscription cache", "error", err, "subscriptionID", created.ID)
	}

	return created, nil
}

// GetByID возвращает подписку, сперва пробуя кеш
func (r *CachedSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	cached, err := r.cache.GetCachedSubscription(ctx, id.String())
	if err == nil && cached != nil {
		return *cached, nil
	}

	sub, err := r.base.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}

	if err := r.cache.CacheSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to cache subscription", "error", err, "subscriptionID", sub.ID)
	}

	return sub, nil
}

// GetByExternalID идет мимо кеша: выборка по внешнему ID редкая
// (только вебхуки) и обязана видеть актуальное состояние
func (r *CachedSubscriptionRepository) GetByExternalID(ctx context.Context, externalID, gatewayID string) (domain.Subscription, error) {
	return r.base.GetByExternalID(ctx, externalID, gatewayID)
}

// List идет мимо кеша
func (r *CachedSubscriptionRepository) List(ctx context.Context, filter SubscriptionFilter) ([]domain.Subscription, error) {
	return r.base.List(ctx, filter)
}

// ListActiveByUser возвращает активные подписки пользователя через кеш
func (r *CachedSubscriptionRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error) {
	cached, err := r.cache.GetCachedUserSubscriptions(ctx, userID.String())
	if err == nil && cached != nil {
		return cached, nil
	}

	subs, err := r.base.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.CacheUserSubscriptions(ctx, userID.String(), subs); err != nil {
		r.log.Warnw("Failed to cache user subscriptions", "error", err, "userID", userID)
	}

	return subs, nil
}

// Update обновляет подписку и инвалидирует кеш
func (r *CachedSubscriptionRepository) Update(ctx context.Context, sub domain.Subscription) error {
	if err := r.base.Update(ctx, sub); err != nil {
		return err
	}

	if err := r.cache.InvalidateSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to invalidate subscription cache", "error", err, "subscriptionID", sub.ID)
	}

	return nil
}

// UpdateStatusIf атомарно меняет статус и инвалидирует кеш
func (r *CachedSubscriptionRepository) UpdateStatusIf(ctx context.Context, id uuid.UUID, expected, next domain.SubscriptionStatus, at time.Time) (bool, error) {
	swapped, err := r.base.UpdateStatusIf(ctx, id, expected, next, at)
	if err != nil {
		return false, err
	}

	if swapped {
		r.invalidateByID(ctx, id)
	}

	return swapped, nil
}

// MarkRenewed продлевает подписку и инвалидирует кеш
func (r *CachedSubscriptionRepository) MarkRenewed(ctx context.Context, id uuid.UUID, expectedNext, next, paidAt time.Time) (domain.Subscription, error) {
	sub, err := r.base.MarkRenewed(ctx, id, expectedNext, next, paidAt)
	if err != nil {
		return domain.Subscription{}, err
	}

	if err := r.cache.InvalidateSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to invalidate subscription cache after renewal", "error", err, "subscriptionID", sub.ID)
	}

	return sub, nil
}

// IncrementFailureCount увеличивает счетчик неудач и инвалидирует кеш
func (r *CachedSubscriptionRepository) IncrementFailureCount(ctx context.Context, id uuid.UUID) (int, error) {
	count, err := r.base.IncrementFailureCount(ctx, id)
	if err != nil {
		return 0, err
	}

	r.invalidateByID(ctx, id)

	return count, nil
}

// FindDueForRenewal идет мимо кеша: выборки планировщика должны видеть
// актуальное состояние
func (r *CachedSubscriptionRepository) FindDueForRenewal(ctx context.Context, gatewayID string, now time.Time) ([]domain.Subscription, error) {
	return r.base.FindDueForRenewal(ctx, gatewayID, now)
}

// FindExpired идет мимо кеша
func (r *CachedSubscriptionRepository) FindExpired(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	return r.base.FindExpired(ctx, now)
}

// FindDueOn идет мимо кеша
func (r *CachedSubscriptionRepository) FindDueOn(ctx context.Context, date time.Time) ([]domain.Subscription, error) {
	return r.base.FindDueOn(ctx, date)
}

// CountByStatus идет мимо кеша
func (r *CachedSubscriptionRepository) CountByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error) {
	return r.base.CountByStatus(ctx)
}

// invalidateByID инвалидирует кеш по ID, перечитывая запись ради userID
func (r *CachedSubscriptionRepository) invalidateByID(ctx context.Context, id uuid.UUID) {
	sub, err := r.base.GetByID(ctx, id)
	if err != nil {
		r.log.Warnw("Failed to reread subscription for cache invalidation", "error", err, "subscriptionID", id)
		return
	}

	if err := r.cache.InvalidateSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to invalidate subscription cache", "error", err, "subscriptionID", id)
	}
}
