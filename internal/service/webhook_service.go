package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/gateway"
	"github.com/Dhoini/Billing-engine/internal/metrics"
	"github.com/Dhoini/Billing-engine/internal/repository"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
)

// WebhookService сверяет вебхуки провайдеров с локальными журналами.
// Возвращаемый HTTP-статус управляет ретраями провайдера: на 2xx
// событие принято (включая идемпотентные повторы и неизвестные типы),
// на 4xx событие не примут никогда, на 5xx провайдер повторит доставку.
type WebhookService interface {
	// SignatureHeader имя заголовка подписи у шлюза; пустая строка,
	// если шлюз неизвестен или вебхуков не принимает
	SignatureHeader(gatewayID string) string

	Handle(ctx context.Context, gatewayID string, payload []byte, sigHeader string) int
}

type webhookService struct {
	registry *gateway.Registry
	subRepo  repository.SubscriptionRepository
	subs     SubscriptionService
	txs      TransactionService
	metrics  metrics.BillingMetrics
	log      *logger.Logger
	now      func() time.Time
}

// NewWebhookService создает сервис обработки вебхуков
func NewWebhookService(
	registry *gateway.Registry,
	subRepo repository.SubscriptionRepository,
	subs SubscriptionService,
	txs TransactionService,
	m metrics.BillingMetrics,
	log *logger.Logger,
) WebhookService {
	return &webhookService{
		registry: registry,
		subRepo:  subRepo,
		subs:     subs,
		txs:      txs,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// SignatureHeader делегирует выбор заголовка подписи реестру
func (s *webhookService) SignatureHeader(gatewayID string) string {
	return s.registry.WebhookSignatureHeader(gatewayID)
}

// Handle проверяет подпись, нормализует событие и диспетчеризует его
func (s *webhookService) Handle(ctx context.Context, gatewayID string, payload []byte, sigHeader string) int {
	event, err := s.registry.ParseWebhook(gatewayID, payload, sigHeader)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrWebhookValidationFailed):
			s.metrics.IncWebhookEvent(gatewayID, "unverified", "rejected")
			return http.StatusBadRequest
		case errors.Is(err, domain.ErrGatewayNotFound):
			return http.StatusNotFound
		case errors.Is(err, domain.ErrGatewayDisabled):
			return http.StatusServiceUnavailable
		default:
			s.log.Errorw("Failed to parse webhook", "gatewayID", gatewayID, "error", err)
			s.metrics.IncWebhookEvent(gatewayID, "unparsed", "error")
			return http.StatusBadRequest
		}
	}

	s.log.Infow("Provider event received",
		"gatewayID", event.GatewayID,
		"eventID", event.ID,
		"type", string(event.Type),
		"rawType", event.RawType,
		"transNum", event.TransNum,
	)

	var status int
	switch event.Type {
	case domain.ProviderEventInvoicePaid:
		status = s.handleInvoicePaid(ctx, event)
	case domain.ProviderEventInvoiceFailed:
		status = s.handleInvoiceFailed(ctx, event)
	case domain.ProviderEventSubscriptionDeleted:
		status = s.handleSubscriptionDeleted(ctx, event)
	case domain.ProviderEventSubscriptionUpdated:
		status = s.handleSubscriptionUpdated(ctx, event)
	case domain.ProviderEventChargeRefunded:
		status = s.handleChargeRefunded(ctx, event)
	case domain.ProviderEventPaymentSucceeded:
		status = s.handlePaymentSucceeded(ctx, event)
	case domain.ProviderEventPaymentFailed:
		status = s.handlePaymentFailed(ctx, event)
	default:
		// Неизвестный тип подтверждаем: ретраи не помогут
		s.log.Infow("Ignored provider event type", "rawType", event.RawType, "gatewayID", event.GatewayID)
		status = http.StatusOK
	}

	outcome := "ok"
	if status >= http.StatusInternalServerError {
		outcome = "error"
	} else if status >= http.StatusBadRequest {
		outcome = "rejected"
	}
	s.metrics.IncWebhookEvent(event.GatewayID, string(event.Type), outcome)
	return status
}

// handleInvoicePaid оплаченный инвойс: первый платеж активирует
// подписку, последующие продлевают её. Идемпотентность обеспечивает trans_num.
func (s *webhookService) handleInvoicePaid(ctx context.Context, event domain.ProviderEvent) int {
	if event.TransNum != "" {
		if tx, err := s.txs.GetByTransNum(ctx, event.TransNum); err == nil {
			return s.completeKnownTransaction(ctx, tx)
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.log.Errorw("Failed to look up transaction", "transNum", event.TransNum, "error", err)
			return http.StatusInternalServerError
		}
	}

	// Неизвестный платеж: продление, инициированное провайдером
	sub, status := s.findSubscription(ctx, event)
	if status != 0 {
		return status
	}

	switch sub.Status {
	case domain.SubscriptionStatusPending:
		if event.TransNum != "" {
			if err := s.recordProviderTransaction(ctx, sub, event, domain.TransactionStatusComplete); err != nil {
				return http.StatusInternalServerError
			}
		}
		if _, err := s.subs.Activate(ctx, sub.ID, event.OccurredAt); err != nil {
			s.log.Errorw("Failed to activate subscription from invoice", "subscriptionID", sub.ID, "error", err)
			return http.StatusInternalServerError
		}
	case domain.SubscriptionStatusActive:
		if _, err := s.subs.Renew(ctx, sub.ID, event.TransNum, event.OccurredAt); err != nil {
			if errors.Is(err, domain.ErrStaleRenewal) {
				// Конкурирующее продление уже сдвинуло якорь
				s.metrics.IncRenewal(event.GatewayID, "stale")
				return http.StatusOK
			}
			s.log.Errorw("Failed to renew subscription from invoice", "subscriptionID", sub.ID, "error", err)
			s.metrics.IncRenewal(event.GatewayID, "error")
			return http.StatusInternalServerError
		}
		s.metrics.IncRenewal(event.GatewayID, "success")
	default:
		// Платеж по приостановленной подписке возвращает её в строй
		if _, err := s.subs.Reactivate(ctx, sub.ID, event.OccurredAt); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				s.log.Warnw("Invoice paid for subscription in terminal status, ignoring",
					"subscriptionID", sub.ID, "status", string(sub.Status))
				return http.StatusOK
			}
			s.log.Errorw("Failed to reactivate subscription from invoice", "subscriptionID", sub.ID, "error", err)
			return http.StatusInternalServerError
		}
		if event.TransNum != "" {
			if err := s.recordProviderTransaction(ctx, sub, event, domain.TransactionStatusComplete); err != nil {
				return http.StatusInternalServerError
			}
		}
	}
	return http.StatusOK
}

// handleInvoiceFailed неоплаченный инвойс: фиксируем неудачу продления
func (s *webhookService) handleInvoiceFailed(ctx context.Context, event domain.ProviderEvent) int {
	sub, status := s.findSubscription(ctx, event)
	if status != 0 {
		return status
	}

	if event.TransNum != "" {
		if err := s.recordProviderTransaction(ctx, sub, event, domain.TransactionStatusFailed); err != nil {
			return http.StatusInternalServerError
		}
	}

	if _, err := s.subs.RecordRenewalFailure(ctx, sub.ID, event.Message); err != nil {
		s.log.Errorw("Failed to record renewal failure", "subscriptionID", sub.ID, "error", err)
		return http.StatusInternalServerError
	}
	s.metrics.IncRenewal(event.GatewayID, "failed")
	return http.StatusOK
}

// handleSubscriptionDeleted подписка удалена у провайдера
func (s *webhookService) handleSubscriptionDeleted(ctx context.Context, event domain.ProviderEvent) int {
	sub, status := s.findSubscription(ctx, event)
	if status != 0 {
		return status
	}

	if _, err := s.subs.Cancel(ctx, sub.ID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return http.StatusOK // уже в терминальном статусе
		}
		s.log.Errorw("Failed to cancel subscription from webhook", "subscriptionID", sub.ID, "error", err)
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// handleSubscriptionUpdated подписка изменилась у провайдера: применяем
// статус по таблице соответствия
func (s *webhookService) handleSubscriptionUpdated(ctx context.Context, event domain.ProviderEvent) int {
	sub, status := s.findSubscription(ctx, event)
	if status != 0 {
		return status
	}

	if _, err := s.subs.ApplyProviderStatus(ctx, sub.ID, event.ProviderStatus); err != nil {
		s.log.Errorw("Failed to apply provider status", "subscriptionID", sub.ID, "providerStatus", event.ProviderStatus, "error", err)
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// handleChargeRefunded возврат на стороне провайдера
func (s *webhookService) handleChargeRefunded(ctx context.Context, event domain.ProviderEvent) int {
	if event.TransNum == "" {
		s.log.Warnw("Refund event without transaction reference, ignoring", "eventID", event.ID)
		return http.StatusOK
	}

	tx, err := s.txs.GetByTransNum(ctx, event.TransNum)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warnw("Refund for unknown transaction, ignoring", "transNum", event.TransNum)
			return http.StatusOK
		}
		s.log.Errorw("Failed to look up transaction", "transNum", event.TransNum, "error", err)
		return http.StatusInternalServerError
	}

	if tx.Status == domain.TransactionStatusRefunded {
		return http.StatusOK // повторная доставка
	}
	if _, err := s.txs.UpdateStatus(ctx, tx.ID, domain.TransactionStatusRefunded); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.log.Warnw("Refund for non-refundable transaction, ignoring", "transNum", event.TransNum, "status", string(tx.Status))
			return http.StatusOK
		}
		s.log.Errorw("Failed to mark transaction refunded", "transNum", event.TransNum, "error", err)
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// handlePaymentSucceeded разовый платеж завершился
func (s *webhookService) handlePaymentSucceeded(ctx context.Context, event domain.ProviderEvent) int {
	tx, err := s.txs.GetByTransNum(ctx, event.TransNum)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warnw("Payment confirmation for unknown transaction, ignoring", "transNum", event.TransNum)
			return http.StatusOK
		}
		s.log.Errorw("Failed to look up transaction", "transNum", event.TransNum, "error", err)
		return http.StatusInternalServerError
	}
	return s.completeKnownTransaction(ctx, tx)
}

// handlePaymentFailed разовый платеж не прошел
func (s *webhookService) handlePaymentFailed(ctx context.Context, event domain.ProviderEvent) int {
	tx, err := s.txs.GetByTransNum(ctx, event.TransNum)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warnw("Payment failure for unknown transaction, ignoring", "transNum", event.TransNum)
			return http.StatusOK
		}
		s.log.Errorw("Failed to look up transaction", "transNum", event.TransNum, "error", err)
		return http.StatusInternalServerError
	}

	if tx.Status != domain.TransactionStatusPending {
		return http.StatusOK
	}
	if _, err := s.txs.UpdateStatus(ctx, tx.ID, domain.TransactionStatusFailed); err != nil {
		s.log.Errorw("Failed to mark transaction failed", "transNum", event.TransNum, "error", err)
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// completeKnownTransaction завершает ожидающую транзакцию и активирует
// её подписку; уже завершенная транзакция значит идемпотентный повтор
func (s *webhookService) completeKnownTransaction(ctx context.Context, tx domain.Transaction) int {
	if tx.Status != domain.TransactionStatusPending {
		return http.StatusOK
	}

	if _, err := s.txs.UpdateStatus(ctx, tx.ID, domain.TransactionStatusComplete); err != nil {
		s.log.Errorw("Failed to complete transaction", "transNum", tx.TransNum, "error", err)
		return http.StatusInternalServerError
	}

	if tx.SubscriptionID != uuid.Nil {
		if _, err := s.subs.Activate(ctx, tx.SubscriptionID, s.now()); err != nil {
			if !errors.Is(err, domain.ErrInvalidTransition) {
				s.log.Errorw("Failed to activate subscription after payment", "subscriptionID", tx.SubscriptionID, "error", err)
				return http.StatusInternalServerError
			}
		}
	}
	return http.StatusOK
}

// findSubscription ищет подписку по внешнему ID. Возвращает нулевой
// статус при успехе, иначе HTTP-статус для ответа провайдеру.
func (s *webhookService) findSubscription(ctx context.Context, event domain.ProviderEvent) (domain.Subscription, int) {
	if event.ExternalSubscriptionID == "" {
		s.log.Warnw("Provider event without subscription reference, ignoring", "eventID", event.ID, "type", string(event.Type))
		return domain.Subscription{}, http.StatusOK
	}

	sub, err := s.subRepo.GetByExternalID(ctx, event.ExternalSubscriptionID, event.GatewayID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Чужая или удаленная подписка: подтверждаем, ретраи не помогут
			s.log.Warnw("Provider event for unknown subscription, ignoring",
				"externalID", event.ExternalSubscriptionID, "gatewayID", event.GatewayID)
			return domain.Subscription{}, http.StatusOK
		}
		s.log.Errorw("Failed to look up subscription by external id", "externalID", event.ExternalSubscriptionID, "error", err)
		return domain.Subscription{}, http.StatusInternalServerError
	}
	return sub, 0
}

// recordProviderTransaction пишет транзакцию по событию провайдера
func (s *webhookService) recordProviderTransaction(ctx context.Context, sub domain.Subscription, event domain.ProviderEvent, status domain.TransactionStatus) error {
	amount := event.Amount
	if amount == 0 {
		amount = sub.Total
	}
	tx := domain.Transaction{
		TransNum:       event.TransNum,
		UserID:         sub.UserID,
		ProductID:      sub.ProductID,
		SubscriptionID: sub.ID,
		Amount:         amount,
		Total:          amount,
		Status:         status,
		Type:           domain.TransactionTypePayment,
		GatewayID:      event.GatewayID,
	}
	if _, _, err := s.txs.RecordIfNew(ctx, tx); err != nil {
		s.log.Errorw("Failed to record provider transaction", "transNum", event.TransNum, "error", err)
		return err
	}
	return nil
}
