package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/pkg/logger"
)

const (
	// Префиксы ключей для различных типов данных
	subscriptionKeyPrefix      = "subscription:"
	userSubscriptionsKeyPrefix = "user_subscriptions:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository реализует кеширование подписок через Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CacheSubscription кеширует подписку в Redis
func (r *RedisCacheRepository) CacheSubscription(ctx context.Context, sub domain.Subscription) error {
	key := subscriptionKeyPrefix + sub.ID.String()

	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache subscription in Redis", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("failed to cache subscription: %w", err)
	}

	return nil
}

// GetCachedSubscription получает подписку из кеша.
// Промах кеша возвращается как (nil, nil), не как ошибка.
func (r *RedisCacheRepository) GetCachedSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	key := subscriptionKeyPrefix + id

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		r.log.Errorw("Error getting subscription from Redis", "error", err, "subscriptionID", id)
		return nil, fmt.Errorf("failed to get subscription from cache: %w", err)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached subscription: %w", err)
	}

	return &sub, nil
}

// InvalidateSubscription удаляет подписку из кеша вместе со списком
// подписок её владельца
func (r *RedisCacheRepository) InvalidateSubscription(ctx context.Context, sub domain.Subscription) error {
	keys := []string{
		subscriptionKeyPrefix + sub.ID.String(),
		userSubscriptionsKeyPrefix + sub.UserID.String(),
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.log.Errorw("Failed to invalidate subscription cache", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("failed to invalidate subscription cache: %w", err)
	}

	return nil
}

// CacheUserSubscriptions кеширует список активных подписок пользователя
func (r *RedisCacheRepository) CacheUserSubscriptions(ctx context.Context, userID string, subs []domain.Subscription) error {
	key := userSubscriptionsKeyPrefix + userID

	data, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("failed to marshal user subscriptions: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache user subscriptions in Redis", "error", err, "userID", userID)
		return fmt.Errorf("failed to cache user subscriptions: %w", err)
	}

	return nil
}

// GetCachedUserSubscriptions получает список активных подписок пользователя из кеша
func (r *RedisCacheRepository) GetCachedUserSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	key := userSubscriptionsKeyPrefix + userID

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		r.log.Errorw("Error getting user subscriptions from Redis", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get user subscriptions from cache: %w", err)
	}

	var subs []domain.Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached user subscriptions: %w", err)
	}

	return subs, nil
}
