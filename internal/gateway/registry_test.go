package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySettingsStore хранит настройки шлюзов в памяти
type memorySettingsStore struct {
	settings map[string]map[string]string
}

func newMemorySettingsStore() *memorySettingsStore {
	return &memorySettingsStore{settings: make(map[string]map[string]string)}
}

func (s *memorySettingsStore) Load(ctx context.Context, gatewayID string) (map[string]string, error) {
	return s.settings[gatewayID], nil
}

func (s *memorySettingsStore) Save(ctx context.Context, gatewayID string, settings map[string]string) error {
	s.settings[gatewayID] = settings
	return nil
}

func validPaymentData() domain.PaymentData {
	return domain.PaymentData{
		UserID:   uuid.New(),
		Total:    11.99,
		Currency: "usd",
	}
}

func newTestRegistry(t *testing.T) (*Registry, *ManualGateway) {
	t.Helper()
	log := logger.New(logger.ERROR)
	registry := NewRegistry(log)
	manual := NewManualGateway(log)
	require.NoError(t, registry.Register(manual))
	return registry, manual
}

func TestRegistryRegister_DuplicateRejected(t *testing.T) {
	registry, _ := newTestRegistry(t)

	err := registry.Register(NewManualGateway(logger.New(logger.ERROR)))
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestRegistry_StartsDisabled(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.ProcessPayment(context.Background(), ManualGatewayID, domain.PaymentData{})
	assert.ErrorIs(t, err, domain.ErrGatewayDisabled)
}

func TestRegistry_UnknownGateway(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.ProcessPayment(context.Background(), "nonexistent", domain.PaymentData{})
	assert.ErrorIs(t, err, domain.ErrGatewayNotFound)
}

func TestRegistry_EnableDisable(t *testing.T) {
	registry, manual := newTestRegistry(t)
	require.NoError(t, manual.Configure(map[string]string{"auto_complete": "true"}))
	require.NoError(t, registry.Enable(ManualGatewayID))

	result, err := registry.ProcessPayment(context.Background(), ManualGatewayID, validPaymentData())
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.NoError(t, registry.Disable(ManualGatewayID))
	_, err = registry.ProcessPayment(context.Background(), ManualGatewayID, domain.PaymentData{})
	assert.ErrorIs(t, err, domain.ErrGatewayDisabled)
}

func TestRegistry_MissingCapability(t *testing.T) {
	registry, _ := newTestRegistry(t)
	require.NoError(t, registry.Enable(ManualGatewayID))

	// Локальный шлюз не принимает вебхуки
	_, err := registry.ParseWebhook(ManualGatewayID, []byte("{}"), "sig")
	require.Error(t, err)

	var capErr *domain.CapabilityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, ManualGatewayID, capErr.GatewayID)
	assert.Equal(t, string(CapabilityWebhooks), capErr.Capability)
}

func TestRegistryConfigure_SavesAndApplies(t *testing.T) {
	registry, manual := newTestRegistry(t)
	store := newMemorySettingsStore()

	err := registry.Configure(context.Background(), ManualGatewayID, map[string]string{"auto_complete": "false"}, store)
	require.NoError(t, err)

	assert.Equal(t, "false", store.settings[ManualGatewayID]["auto_complete"])

	result, err := manual.ProcessPayment(context.Background(), domain.PaymentData{})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestRegistryConfigure_InvalidSettingsNotSaved(t *testing.T) {
	registry, _ := newTestRegistry(t)
	store := newMemorySettingsStore()

	err := registry.Configure(context.Background(), ManualGatewayID, map[string]string{"bogus": "value"}, store)
	require.Error(t, err)
	assert.Empty(t, store.settings)
}

func TestRegistryLoadSettings_EnablesConfigured(t *testing.T) {
	registry, _ := newTestRegistry(t)
	store := newMemorySettingsStore()
	store.settings[ManualGatewayID] = map[string]string{"auto_complete": "true"}

	require.NoError(t, registry.LoadSettings(context.Background(), store))

	result, err := registry.ProcessPayment(context.Background(), ManualGatewayID, validPaymentData())
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRegistryLoadSettings_NoSettingsStaysDisabled(t *testing.T) {
	registry, _ := newTestRegistry(t)

	require.NoError(t, registry.LoadSettings(context.Background(), newMemorySettingsStore()))

	_, err := registry.ProcessPayment(context.Background(), ManualGatewayID, domain.PaymentData{})
	assert.ErrorIs(t, err, domain.ErrGatewayDisabled)
}

func TestRegistryList_SortedWithState(t *testing.T) {
	registry, _ := newTestRegistry(t)
	require.NoError(t, registry.Enable(ManualGatewayID))

	infos := registry.List()
	require.Len(t, infos, 1)
	assert.Equal(t, ManualGatewayID, infos[0].ID)
	assert.True(t, infos[0].Enabled)
	assert.True(t, infos[0].Capabilities.Has(CapabilityPayments))
}

func TestRegistryProcessPayment_InvalidFieldsRejected(t *testing.T) {
	registry, manual := newTestRegistry(t)
	require.NoError(t, manual.Configure(map[string]string{"auto_complete": "true"}))
	require.NoError(t, registry.Enable(ManualGatewayID))

	// Проверка полей идет до обращения к шлюзу
	_, err := registry.ProcessPayment(context.Background(), ManualGatewayID, domain.PaymentData{})
	var verrs *domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
}

func TestRegistryWebhookSignatureHeader(t *testing.T) {
	registry, _ := newTestRegistry(t)

	// Локальный шлюз вебхуков не принимает: заголовка подписи нет
	assert.Empty(t, registry.WebhookSignatureHeader(ManualGatewayID))
	assert.Empty(t, registry.WebhookSignatureHeader("nonexistent"))
}
