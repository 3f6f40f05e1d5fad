package service

import (
	"context"
	"sync"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
)

// RoleManager управляет ролями доступа пользователей. Реализация живет
// вне биллинга (сервис аккаунтов), здесь только контракт и реализация
// в памяти для разработки и тестов.
type RoleManager interface {
	Grant(ctx context.Context, userID uuid.UUID, roles []string) error
	Revoke(ctx context.Context, userID uuid.UUID, roles []string) error
	Roles(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Notifier доставляет уведомления пользователям. Сбой доставки
// логируется и никогда не блокирует смену статуса подписки.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// InMemoryRoleManager хранит роли в памяти
type InMemoryRoleManager struct {
	mu    sync.RWMutex
	roles map[uuid.UUID]map[string]struct{}
}

// NewInMemoryRoleManager создает менеджер ролей в памяти
func NewInMemoryRoleManager() *InMemoryRoleManager {
	return &InMemoryRoleManager{
		roles: make(map[uuid.UUID]map[string]struct{}),
	}
}

// Grant выдает пользователю роли
func (m *InMemoryRoleManager) Grant(ctx context.Context, userID uuid.UUID, roles []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.roles[userID]
	if !ok {
		set = make(map[string]struct{})
		m.roles[userID] = set
	}
	for _, role := range roles {
		set[role] = struct{}{}
	}
	return nil
}

// Revoke отбирает у пользователя роли
func (m *InMemoryRoleManager) Revoke(ctx context.Context, userID uuid.UUID, roles []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.roles[userID]
	if !ok {
		return nil
	}
	for _, role := range roles {
		delete(set, role)
	}
	return nil
}

// Roles возвращает текущие роли пользователя
func (m *InMemoryRoleManager) Roles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.roles[userID]
	out := make([]string, 0, len(set))
	for role := range set {
		out = append(out, role)
	}
	return out, nil
}

// HasRole проверяет наличие роли (для тестов)
func (m *InMemoryRoleManager) HasRole(userID uuid.UUID, role string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.roles[userID][role]
	return ok
}

// LogNotifier пишет уведомления в лог вместо реальной доставки
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier создает логирующий нотификатор
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify логирует уведомление
func (n *LogNotifier) Notify(ctx context.Context, notification domain.Notification) error {
	n.log.Infow("Notification",
		"kind", string(notification.Kind),
		"userID", notification.UserID,
		"subscriptionID", notification.SubscriptionID,
		"message", notification.Message,
	)
	return nil
}
