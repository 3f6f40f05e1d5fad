package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrInternal внутренняя ошибка
	ErrInternal = errors.New("internal error")

	// ErrInvalidTransition переход состояния не разрешен машиной состояний
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStaleRenewal условное обновление не прошло: подписка уже продлена
	// параллельным запуском планировщика либо сменила статус
	ErrStaleRenewal = errors.New("subscription already renewed or no longer active")

	// ErrGatewayNotFound шлюз не зарегистрирован
	ErrGatewayNotFound = errors.New("gateway not found")

	// ErrGatewayDisabled шлюз выключен в настройках
	ErrGatewayDisabled = errors.New("gateway is disabled")

	// ErrPaymentFailed платеж не прошел
	ErrPaymentFailed = errors.New("payment failed")

	// ErrWebhookValidationFailed не удалось проверить подпись вебхука
	ErrWebhookValidationFailed = errors.New("webhook validation failed")

	// ErrTimeoutExceeded превышено время ожидания внешнего провайдера
	ErrTimeoutExceeded = errors.New("timeout exceeded")
)

// CapabilityError операция запрошена у шлюза, который её не поддерживает.
// Возвращается реестром до любого внешнего вызова.
type CapabilityError struct {
	GatewayID  string
	Capability string
}

// Error реализует интерфейс error
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("gateway %q does not support %s", e.GatewayID, e.Capability)
}

// NewCapabilityError создает новую ошибку возможностей шлюза
func NewCapabilityError(gatewayID, capability string) *CapabilityError {
	return &CapabilityError{GatewayID: gatewayID, Capability: capability}
}

// ProviderError представляет ошибку внешнего платежного провайдера
type ProviderError struct {
	Provider    string
	Code        string
	Message     string
	OriginalErr error
}

// Error реализует интерфейс error
func (e *ProviderError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s provider error [%s]: %s: %v", e.Provider, e.Code, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s provider error [%s]: %s", e.Provider, e.Code, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *ProviderError) Unwrap() error {
	return e.OriginalErr
}

// NewProviderError создает новую ошибку провайдера
func NewProviderError(provider, code, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:    provider,
		Code:        code,
		Message:     message,
		OriginalErr: err,
	}
}

// TransitionError недопустимый переход состояния подписки
type TransitionError struct {
	SubscriptionID string
	From           SubscriptionStatus
	To             SubscriptionStatus
}

// Error реализует интерфейс error
func (e *TransitionError) Error() string {
	return fmt.Sprintf("subscription %s: transition %s -> %s is not allowed", e.SubscriptionID, e.From, e.To)
}

// Is проверяет, является ли ошибка ошибкой перехода
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NewTransitionError создает ошибку недопустимого перехода
func NewTransitionError(subscriptionID string, from, to SubscriptionStatus) *TransitionError {
	return &TransitionError{SubscriptionID: subscriptionID, From: from, To: to}
}

// ValidationError представляет ошибку валидации
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors представляет набор ошибок валидации
type ValidationErrors []ValidationError

// Error реализует интерфейс error
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}

	if len(e) == 1 {
		return fmt.Sprintf("validation failed: %s - %s", e[0].Field, e[0].Message)
	}

	return fmt.Sprintf("validation failed: %d errors", len(e))
}

// Add добавляет ошибку валидации
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// HasErrors проверяет наличие ошибок
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields возвращает список полей с ошибками
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, err := range e {
		fields[i] = err.Field
	}
	return fields
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// DuplicateError представляет ошибку дубликата
type DuplicateError struct {
	Entity string
	Field  string
	Value  string
}

// Error реализует интерфейс error
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s with %s '%s' already exists", e.Entity, e.Field, e.Value)
}

// Is проверяет, является ли ошибка ошибкой дубликата
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// NewDuplicateError создает новую ошибку дубликата
func NewDuplicateError(entity, field, value string) *DuplicateError {
	return &DuplicateError{Entity: entity, Field: field, Value: value}
}
