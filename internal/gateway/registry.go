package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/pkg/logger"
)

// SettingsStore источник сохраненных настроек шлюзов.
// Интерфейс объявлен на стороне потребителя, реализуется репозиторием.
type SettingsStore interface {
	Load(ctx context.Context, gatewayID string) (map[string]string, error)
	Save(ctx context.Context, gatewayID string, settings map[string]string) error
}

// GatewayInfo сводка по зарегистрированному шлюзу для админского API
type GatewayInfo struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Enabled      bool           `json:"enabled"`
	Capabilities Capabilities   `json:"capabilities"`
	Schema       SettingsSchema `json:"schema"`
}

// Registry реестр платежных шлюзов. Единственная точка, где
// проверяются включенность шлюза и его возможности: сервисы зовут
// делегирующие методы реестра, а не шлюзы напрямую.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	enabled  map[string]bool
	log      *logger.Logger
}

// NewRegistry создает пустой реестр шлюзов
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		gateways: make(map[string]Gateway),
		enabled:  make(map[string]bool),
		log:      log,
	}
}

// Register регистрирует шлюз. Повторная регистрация того же ID - ошибка.
// Шлюз регистрируется выключенным, включается отдельно после
// конфигурирования.
func (r *Registry) Register(gw Gateway) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := gw.ID()
	if _, exists := r.gateways[id]; exists {
		return fmt.Errorf("gateway %q: %w", id, domain.ErrDuplicate)
	}

	r.gateways[id] = gw
	r.enabled[id] = false
	r.log.Infow("Gateway registered", "gatewayID", id, "capabilities", gw.Capabilities())
	return nil
}

// Enable включает шлюз
func (r *Registry) Enable(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.gateways[id]; !exists {
		return fmt.Errorf("gateway %q: %w", id, domain.ErrGatewayNotFound)
	}
	r.enabled[id] = true
	r.log.Infow("Gateway enabled", "gatewayID", id)
	return nil
}

// Disable выключает шлюз. Существующие подписки шлюза продолжают жить,
// выключение блокирует только новые операции.
func (r *Registry) Disable(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.gateways[id]; !exists {
		return fmt.Errorf("gateway %q: %w", id, domain.ErrGatewayNotFound)
	}
	r.enabled[id] = false
	r.log.Infow("Gateway disabled", "gatewayID", id)
	return nil
}

// Get возвращает шлюз без проверки включенности (для чтения схемы и т.п.)
func (r *Registry) Get(id string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, exists := r.gateways[id]
	if !exists {
		return nil, fmt.Errorf("gateway %q: %w", id, domain.ErrGatewayNotFound)
	}
	return gw, nil
}

// List возвращает сводку по всем шлюзам, отсортированную по ID
func (r *Registry) List() []GatewayInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]GatewayInfo, 0, len(r.gateways))
	for id, gw := range r.gateways {
		infos = append(infos, GatewayInfo{
			ID:           id,
			Name:         gw.Name(),
			Enabled:      r.enabled[id],
			Capabilities: gw.Capabilities(),
			Schema:       gw.SettingsSchema(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Configure валидирует настройки по схеме шлюза, сохраняет их и
// применяет к шлюзу
func (r *Registry) Configure(ctx context.Context, id string, settings map[string]string, store SettingsStore) error {
	gw, err := r.Get(id)
	if err != nil {
		return err
	}

	schema := gw.SettingsSchema()
	merged := schema.WithDefaults(settings)
	if err := schema.Validate(merged); err != nil {
		return err
	}

	if store != nil {
		if err := store.Save(ctx, id, merged); err != nil {
			return fmt.Errorf("save gateway settings: %w", err)
		}
	}

	return gw.Configure(merged)
}

// LoadSettings конфигурирует и включает шлюзы по сохраненным настройкам.
// Шлюз без сохраненных настроек остается выключенным.
func (r *Registry) LoadSettings(ctx context.Context, store SettingsStore) error {
	for _, info := range r.List() {
		settings, err := store.Load(ctx, info.ID)
		if err != nil {
			return fmt.Errorf("load settings for gateway %q: %w", info.ID, err)
		}
		if len(settings) == 0 {
			r.log.Debugw("No stored settings for gateway, leaving disabled", "gatewayID", info.ID)
			continue
		}

		gw, err := r.Get(info.ID)
		if err != nil {
			return err
		}

		merged := gw.SettingsSchema().WithDefaults(settings)
		if err := gw.SettingsSchema().Validate(merged); err != nil {
			r.log.Warnw("Stored gateway settings failed validation, leaving disabled", "gatewayID", info.ID, "error", err)
			continue
		}
		if err := gw.Configure(merged); err != nil {
			r.log.Warnw("Failed to configure gateway from stored settings", "gatewayID", info.ID, "error", err)
			continue
		}
		if err := r.Enable(info.ID); err != nil {
			return err
		}
	}
	return nil
}

// resolve возвращает включенный шлюз с нужной возможностью
func (r *Registry) resolve(id string, cap Capability) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, exists := r.gateways[id]
	if !exists {
		return nil, fmt.Errorf("gateway %q: %w", id, domain.ErrGatewayNotFound)
	}
	if !r.enabled[id] {
		return nil, fmt.Errorf("gateway %q: %w", id, domain.ErrGatewayDisabled)
	}
	if !gw.Capabilities().Has(cap) {
		return nil, capabilityErr(id, cap)
	}
	return gw, nil
}

// Check проверяет, что шлюз существует, включен и поддерживает
// возможность. Позволяет вызывающему отсечь операцию до записей в журналы.
func (r *Registry) Check(gatewayID string, cap Capability) error {
	_, err := r.resolve(gatewayID, cap)
	return err
}

// ProcessPayment делегирует разовый платеж шлюзу
func (r *Registry) ProcessPayment(ctx context.Context, gatewayID string, data domain.PaymentData) (domain.PaymentResult, error) {
	gw, err := r.resolve(gatewayID, CapabilityPayments)
	if err != nil {
		return domain.PaymentResult{}, err
	}
	if err := gw.ValidatePaymentFields(data); err != nil {
		return domain.PaymentResult{}, err
	}
	return gw.ProcessPayment(ctx, data)
}

// ProcessSubscription делегирует создание подписки шлюзу
func (r *Registry) ProcessSubscription(ctx context.Context, gatewayID string, sub domain.Subscription, data domain.PaymentData) (domain.SubscriptionResult, error) {
	gw, err := r.resolve(gatewayID, CapabilitySubscriptions)
	if err != nil {
		return domain.SubscriptionResult{}, err
	}
	if err := gw.ValidatePaymentFields(data); err != nil {
		return domain.SubscriptionResult{}, err
	}
	return gw.ProcessSubscription(ctx, sub, data)
}

// CancelSubscription делегирует отмену подписки шлюзу
func (r *Registry) CancelSubscription(ctx context.Context, gatewayID string, sub domain.Subscription) error {
	gw, err := r.resolve(gatewayID, CapabilityCancellation)
	if err != nil {
		return err
	}
	return gw.CancelSubscription(ctx, sub)
}

// ProcessRefund делегирует возврат шлюзу
func (r *Registry) ProcessRefund(ctx context.Context, gatewayID string, tx domain.Transaction, req domain.RefundRequest) (domain.PaymentResult, error) {
	gw, err := r.resolve(gatewayID, CapabilityRefunds)
	if err != nil {
		return domain.PaymentResult{}, err
	}
	return gw.ProcessRefund(ctx, tx, req)
}

// ParseWebhook делегирует разбор вебхука шлюзу с возможностью webhooks
func (r *Registry) ParseWebhook(gatewayID string, payload []byte, sigHeader string) (domain.ProviderEvent, error) {
	gw, err := r.resolve(gatewayID, CapabilityWebhooks)
	if err != nil {
		return domain.ProviderEvent{}, err
	}

	parser, ok := gw.(WebhookParser)
	if !ok {
		return domain.ProviderEvent{}, capabilityErr(gatewayID, CapabilityWebhooks)
	}
	return parser.ParseWebhook(payload, sigHeader)
}

// WebhookSignatureHeader возвращает имя заголовка подписи для шлюза.
// Для неизвестного шлюза или шлюза без вебхуков возвращается пустая
// строка: дальше Handle сам отдаст корректный HTTP-статус.
func (r *Registry) WebhookSignatureHeader(gatewayID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, exists := r.gateways[gatewayID]
	if !exists {
		return ""
	}
	parser, ok := gw.(WebhookParser)
	if !ok {
		return ""
	}
	return parser.SignatureHeader()
}
