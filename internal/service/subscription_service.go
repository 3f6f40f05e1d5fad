package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/repository"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
)

// maxRenewalFailures число подряд неудачных продлений, после которого
// подписка приостанавливается
const maxRenewalFailures = 3

// EventObserver получает события жизненного цикла подписок.
// Вызывается синхронно после успешной смены статуса.
type EventObserver func(event domain.SubscriptionEvent)

// SubscriptionService владеет машиной состояний подписки. Все смены
// статусов идут через этот сервис: он проверяет допустимость перехода,
// делает условное обновление в хранилище и выполняет побочные эффекты
// (роли, события, уведомления) только при фактической смене статуса.
type SubscriptionService interface {
	Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error)
	List(ctx context.Context, filter repository.SubscriptionFilter) ([]domain.Subscription, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error)

	// Activate переводит подписку в active и выдает роли продукта
	Activate(ctx context.Context, id uuid.UUID, paidAt time.Time) (domain.Subscription, error)

	// Cancel отменяет подписку; роли отбираются с учетом других
	// активных подписок пользователя
	Cancel(ctx context.Context, id uuid.UUID) (domain.Subscription, error)

	// Expire переводит подписку в expired с отзывом ролей
	Expire(ctx context.Context, id uuid.UUID) (domain.Subscription, error)

	// Suspend приостанавливает подписку (неплатежи)
	Suspend(ctx context.Context, id uuid.UUID) (domain.Subscription, error)

	// Reactivate возвращает подписку в active из cancelled/expired/
	// suspended с новым платежным якорем
	Reactivate(ctx context.Context, id uuid.UUID, paidAt time.Time) (domain.Subscription, error)

	// Renew продлевает активную подписку: условное обновление якоря,
	// запись транзакции продления. Проигрыш гонки дает ErrStaleRenewal.
	Renew(ctx context.Context, id uuid.UUID, transNum string, paidAt time.Time) (domain.Subscription, error)

	// RecordRenewalFailure фиксирует неудачное продление; после
	// maxRenewalFailures подряд подписка приостанавливается
	RecordRenewalFailure(ctx context.Context, id uuid.UUID, message string) (domain.Subscription, error)

	// ApplyProviderStatus применяет статус провайдера из вебхука по
	// фиксированной таблице соответствия
	ApplyProviderStatus(ctx context.Context, id uuid.UUID, providerStatus string) (domain.Subscription, error)

	// UpdateExternalID привязывает ID подписки у провайдера
	UpdateExternalID(ctx context.Context, id uuid.UUID, externalID string) error

	// Subscribe регистрирует наблюдателя событий жизненного цикла
	Subscribe(observer EventObserver)
}

// providerStatusMap таблица соответствия статусов провайдера локальным.
// past_due остается active: провайдер еще ретраит платеж, доступ не
// отбираем до unpaid.
var providerStatusMap = map[string]domain.SubscriptionStatus{
	"trialing":           domain.SubscriptionStatusActive,
	"active":             domain.SubscriptionStatusActive,
	"past_due":           domain.SubscriptionStatusActive,
	"canceled":           domain.SubscriptionStatusCancelled,
	"unpaid":             domain.SubscriptionStatusSuspended,
	"incomplete":         domain.SubscriptionStatusPending,
	"incomplete_expired": domain.SubscriptionStatusExpired,
}

type subscriptionService struct {
	subRepo   repository.SubscriptionRepository
	txRepo    repository.TransactionRepository
	catalog   ProductCatalog
	roles     RoleManager
	notifier  Notifier
	observers []EventObserver
	log       *logger.Logger
	now       func() time.Time
}

// NewSubscriptionService создает сервис подписок
func NewSubscriptionService(
	subRepo repository.SubscriptionRepository,
	txRepo repository.TransactionRepository,
	catalog ProductCatalog,
	roles RoleManager,
	notifier Notifier,
	log *logger.Logger,
) SubscriptionService {
	return &subscriptionService{
		subRepo:  subRepo,
		txRepo:   txRepo,
		catalog:  catalog,
		roles:    roles,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Subscribe регистрирует наблюдателя. Вызывать до старта обработки,
// список наблюдателей не защищен мьютексом.
func (s *subscriptionService) Subscribe(observer EventObserver) {
	s.observers = append(s.observers, observer)
}

// Create создает подписку в статусе pending
func (s *subscriptionService) Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	if _, err := s.catalog.Get(sub.ProductID); err != nil {
		return domain.Subscription{}, err
	}

	now := s.now().UTC()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.Status = domain.SubscriptionStatusPending
	sub.CreatedAt = now
	sub.UpdatedAt = now

	created, err := s.subRepo.Create(ctx, sub)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}

	s.log.Infow("Subscription created", "subscriptionID", created.ID, "userID", created.UserID, "productID", created.ProductID)
	s.fireEvent(created, "", domain.SubscriptionStatusPending, domain.EventSubscriptionCreated)
	return created, nil
}

// GetByID возвращает подписку
func (s *subscriptionService) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Subscription{}, fmt.Errorf("subscription %s: %w", id, domain.ErrNotFound)
		}
		return domain.Subscription{}, err
	}
	return sub, nil
}

// List возвращает подписки по фильтру
func (s *subscriptionService) List(ctx context.Context, filter repository.SubscriptionFilter) ([]domain.Subscription, error) {
	return s.subRepo.List(ctx, filter)
}

// ListActiveByUser возвращает активные подписки пользователя
func (s *subscriptionService) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error) {
	return s.subRepo.ListActiveByUser(ctx, userID)
}

// Activate переводит подписку pending -> active: выставляет платежный
// якорь, выдает роли продукта, шлет событие и уведомление
func (s *subscriptionService) Activate(ctx context.Context, id uuid.UUID, paidAt time.Time) (domain.Subscription, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}

	if sub.Status == domain.SubscriptionStatusActive {
		return sub, nil // повторная активация, no-op
	}
	if !domain.CanTransition(sub.Status, domain.SubscriptionStatusActive) {
		return domain.Subscription{}, domain.NewTransitionError(sub.ID.String(), sub.Status, domain.SubscriptionStatusActive)
	}

	product, err := s.catalog.Get(sub.ProductID)
	if err != nil {
		return domain.Subscription{}, err
	}

	from := sub.Status
	paidAt = paidAt.UTC()
	sub.Status = domain.SubscriptionStatusActive
	sub.LastPaymentAt = &paidAt

	if !sub.IsLifetime() {
		anchor := paidAt
		if sub.Trial && sub.TrialDays > 0 {
			anchor = paidAt.AddDate(0, 0, sub.TrialDays)
		} else {
			anchor = domain.NextAnchor(paidAt, sub.Period)
		}
		sub.NextPaymentAt = &anchor
		sub.ExpiresAt = &anchor
	}
	sub.UpdatedAt = s.now().UTC()

	if err := s.subRepo.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("activate subscription: %w", err)
	}

	s.grantRoles(ctx, sub, product)
	s.log.Infow("Subscription activated", "subscriptionID", sub.ID, "userID", sub.UserID, "nextPaymentAt", sub.NextPaymentAt)
	s.fireEvent(sub, from, sub.Status, domain.EventSubscriptionActivated)
	s.notify(ctx, sub, domain.NotificationSubscriptionActivated, "")
	return sub, nil
}

// Cancel отменяет подписку. Роли продукта отзываются только если их не
// дает другая активная подписка пользователя.
func (s *subscriptionService) Cancel(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	return s.transition(ctx, id, domain.SubscriptionStatusCancelled, domain.EventSubscriptionCancelled, domain.NotificationSubscriptionCancelled)
}

// Expire переводит подписку в expired
func (s *subscriptionService) Expire(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	return s.transition(ctx, id, domain.SubscriptionStatusExpired, domain.EventSubscriptionExpired, domain.NotificationSubscriptionExpired)
}

// Suspend приостанавливает подписку
func (s *subscriptionService) Suspend(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	return s.transition(ctx, id, domain.SubscriptionStatusSuspended, domain.EventSubscriptionSuspended, domain.NotificationSubscriptionSuspended)
}

// transition общий путь смены статуса с отзывом/возвратом ролей.
// Условное обновление: проигравший гонку вызов не повторяет побочные
// эффекты.
func (s *subscriptionService) transition(
	ctx context.Context,
	id uuid.UUID,
	to domain.SubscriptionStatus,
	eventKind domain.SubscriptionEventKind,
	notification domain.NotificationKind,
) (domain.Subscription, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}

	if sub.Status == to {
		return sub, nil
	}
	if !domain.CanTransition(sub.Status, to) {
		return domain.Subscription{}, domain.NewTransitionError(sub.ID.String(), sub.Status, to)
	}

	from := sub.Status
	now := s.now().UTC()
	swapped, err := s.subRepo.UpdateStatusIf(ctx, id, from, to, now)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("update subscription status: %w", err)
	}
	if !swapped {
		// Статус сменил кто-то другой, перечитываем без побочных эффектов
		return s.GetByID(ctx, id)
	}

	sub.Status = to
	sub.UpdatedAt = now
	if to == domain.SubscriptionStatusCancelled {
		sub.CancelledAt = &now
	}

	// Приостановка не отбирает роли: грейс-период до отмены или
	// истечения, роли снимают только терминальные переходы
	if to != domain.SubscriptionStatusSuspended {
		s.revokeRolesRetained(ctx, sub)
	}
	s.log.Infow("Subscription status changed", "subscriptionID", sub.ID, "from", string(from), "to", string(to))
	s.fireEvent(sub, from, to, eventKind)
	s.notify(ctx, sub, notification, "")
	return sub, nil
}

// Reactivate возвращает подписку в active с новым платежным якорем
func (s *subscriptionService) Reactivate(ctx context.Context, id uuid.UUID, paidAt time.Time) (domain.Subscription, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}

	if sub.Status == domain.SubscriptionStatusActive {
		return sub, nil
	}
	if !domain.CanTransition(sub.Status, domain.SubscriptionStatusActive) {
		return domain.Subscription{}, domain.NewTransitionError(sub.ID.String(), sub.Status, domain.SubscriptionStatusActive)
	}

	product, err := s.catalog.Get(sub.ProductID)
	if err != nil {
		return domain.Subscription{}, err
	}

	from := sub.Status
	paidAt = paidAt.UTC()
	sub.Status = domain.SubscriptionStatusActive
	sub.LastPaymentAt = &paidAt
	sub.FailureCount = 0
	sub.CancelledAt = nil
	if !sub.IsLifetime() {
		anchor := domain.NextAnchor(paidAt, sub.Period)
		sub.NextPaymentAt = &anchor
		sub.ExpiresAt = &anchor
	}
	sub.UpdatedAt = s.now().UTC()

	if err := s.subRepo.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("reactivate subscription: %w", err)
	}

	s.grantRoles(ctx, sub, product)
	s.log.Infow("Subscription reactivated", "subscriptionID", sub.ID, "from", string(from))
	s.fireEvent(sub, from, sub.Status, domain.EventSubscriptionReactivated)
	s.notify(ctx, sub, domain.NotificationSubscriptionActivated, "")
	return sub, nil
}

// Renew продлевает активную подписку. Условное обновление по паре
// (status=active, next_payment_at): конкурирующие продления одного
// периода схлопываются в одно, проигравший получает ErrStaleRenewal.
func (s *subscriptionService) Renew(ctx context.Context, id uuid.UUID, transNum string, paidAt time.Time) (domain.Subscription, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}

	if sub.Status != domain.SubscriptionStatusActive {
		return domain.Subscription{}, domain.NewTransitionError(sub.ID.String(), sub.Status, domain.SubscriptionStatusActive)
	}
	if sub.IsLifetime() || sub.NextPaymentAt == nil {
		return domain.Subscription{}, fmt.Errorf("subscription %s has no billing anchor: %w", id, domain.ErrInvalidInput)
	}

	// Якорь двигается от плановой даты, не от фактического времени
	// платежа: ранние и поздние списания не сдвигают расписание
	expected := *sub.NextPaymentAt
	next := domain.NextAnchor(expected, sub.Period)

	renewed, err := s.subRepo.MarkRenewed(ctx, id, expected, next, paidAt.UTC())
	if err != nil {
		if errors.Is(err, repository.ErrStaleUpdate) {
			return domain.Subscription{}, fmt.Errorf("subscription %s: %w", id, domain.ErrStaleRenewal)
		}
		return domain.Subscription{}, fmt.Errorf("renew subscription: %w", err)
	}

	if transNum != "" {
		s.recordRenewalTransaction(ctx, renewed, transNum, paidAt.UTC())
	}

	s.log.Infow("Subscription renewed",
		"subscriptionID", renewed.ID,
		"nextPaymentAt", renewed.NextPaymentAt,
		"renewalCount", renewed.RenewalCount,
	)
	s.fireEvent(renewed, domain.SubscriptionStatusActive, domain.SubscriptionStatusActive, domain.EventSubscriptionRenewed)
	s.notify(ctx, renewed, domain.NotificationSubscriptionRenewed, "")
	return renewed, nil
}

// RecordRenewalFailure фиксирует неудачное продление. После
// maxRenewalFailures подряд подписка приостанавливается.
func (s *subscriptionService) RecordRenewalFailure(ctx context.Context, id uuid.UUID, message string) (domain.Subscription, error) {
	count, err := s.subRepo.IncrementFailureCount(ctx, id)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("record renewal failure: %w", err)
	}

	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}

	s.log.Warnw("Subscription renewal failed", "subscriptionID", id, "failureCount", count, "message", message)
	s.notify(ctx, sub, domain.NotificationRenewalFailed, message)

	if count >= maxRenewalFailures && sub.Status == domain.SubscriptionStatusActive {
		return s.Suspend(ctx, id)
	}
	return sub, nil
}

// ApplyProviderStatus применяет статус провайдера по таблице
// соответствия. Неизвестный статус дает предупреждение и no-op, не ошибку:
// провайдеры добавляют статусы без предупреждения.
func (s *subscriptionService) ApplyProviderStatus(ctx context.Context, id uuid.UUID, providerStatus string) (domain.Subscription, error) {
	target, ok := providerStatusMap[providerStatus]
	if !ok {
		s.log.Warnw("Unknown provider subscription status, ignoring", "subscriptionID", id, "providerStatus", providerStatus)
		return s.GetByID(ctx, id)
	}

	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if sub.Status == target {
		return sub, nil
	}
	if !domain.CanTransition(sub.Status, target) {
		s.log.Warnw("Provider status maps to a disallowed transition, ignoring",
			"subscriptionID", id,
			"from", string(sub.Status),
			"to", string(target),
			"providerStatus", providerStatus,
		)
		return sub, nil
	}

	switch target {
	case domain.SubscriptionStatusActive:
		return s.Activate(ctx, id, s.now())
	case domain.SubscriptionStatusCancelled:
		return s.Cancel(ctx, id)
	case domain.SubscriptionStatusExpired:
		return s.Expire(ctx, id)
	case domain.SubscriptionStatusSuspended:
		return s.Suspend(ctx, id)
	default:
		return sub, nil
	}
}

// UpdateExternalID привязывает ID подписки у провайдера
func (s *subscriptionService) UpdateExternalID(ctx context.Context, id uuid.UUID, externalID string) error {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	sub.ExternalID = externalID
	sub.UpdatedAt = s.now().UTC()
	if err := s.subRepo.Update(ctx, sub); err != nil {
		return fmt.Errorf("update external id: %w", err)
	}
	return nil
}

// grantRoles выдает роли продукта, сбой только логируется
func (s *subscriptionService) grantRoles(ctx context.Context, sub domain.Subscription, product Product) {
	if len(product.Roles) == 0 {
		return
	}
	if err := s.roles.Grant(ctx, sub.UserID, product.Roles); err != nil {
		s.log.Errorw("Failed to grant roles", "userID", sub.UserID, "roles", product.Roles, "error", err)
	}
}

// revokeRolesRetained отзывает роли продукта за вычетом ролей, которые
// дает любая другая активная подписка пользователя
func (s *subscriptionService) revokeRolesRetained(ctx context.Context, sub domain.Subscription) {
	product, err := s.catalog.Get(sub.ProductID)
	if err != nil || len(product.Roles) == 0 {
		return
	}

	retained := make(map[string]struct{})
	others, err := s.subRepo.ListActiveByUser(ctx, sub.UserID)
	if err != nil {
		s.log.Errorw("Failed to list active subscriptions for role retention", "userID", sub.UserID, "error", err)
	} else {
		for _, other := range others {
			if other.ID == sub.ID {
				continue
			}
			otherProduct, err := s.catalog.Get(other.ProductID)
			if err != nil {
				continue
			}
			for _, role := range otherProduct.Roles {
				retained[role] = struct{}{}
			}
		}
	}

	toRevoke := make([]string, 0, len(product.Roles))
	for _, role := range product.Roles {
		if _, keep := retained[role]; !keep {
			toRevoke = append(toRevoke, role)
		}
	}
	if len(toRevoke) == 0 {
		return
	}

	if err := s.roles.Revoke(ctx, sub.UserID, toRevoke); err != nil {
		s.log.Errorw("Failed to revoke roles", "userID", sub.UserID, "roles", toRevoke, "error", err)
	}
}

// recordRenewalTransaction пишет транзакцию продления; дубль по
// trans_num означает повторную доставку и молча пропускается
func (s *subscriptionService) recordRenewalTransaction(ctx context.Context, sub domain.Subscription, transNum string, paidAt time.Time) {
	tx := domain.Transaction{
		ID:             uuid.New(),
		TransNum:       transNum,
		UserID:         sub.UserID,
		ProductID:      sub.ProductID,
		SubscriptionID: sub.ID,
		Amount:         sub.Price,
		TaxAmount:      sub.TaxAmount,
		Total:          sub.Total,
		Status:         domain.TransactionStatusComplete,
		Type:           domain.TransactionTypeRenewal,
		GatewayID:      sub.GatewayID,
		CreatedAt:      paidAt,
		UpdatedAt:      paidAt,
	}

	if _, err := s.txRepo.Create(ctx, tx); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.log.Debugw("Renewal transaction already recorded", "transNum", transNum)
			return
		}
		s.log.Errorw("Failed to record renewal transaction", "transNum", transNum, "subscriptionID", sub.ID, "error", err)
	}
}

// fireEvent синхронно рассылает событие наблюдателям
func (s *subscriptionService) fireEvent(sub domain.Subscription, from, to domain.SubscriptionStatus, kind domain.SubscriptionEventKind) {
	event := domain.SubscriptionEvent{
		Kind:           kind,
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		ProductID:      sub.ProductID,
		GatewayID:      sub.GatewayID,
		From:           from,
		To:             to,
		OccurredAt:     s.now().UTC(),
	}
	for _, observer := range s.observers {
		observer(event)
	}
}

// notify шлет уведомление, сбой только логируется
func (s *subscriptionService) notify(ctx context.Context, sub domain.Subscription, kind domain.NotificationKind, message string) {
	n := domain.Notification{
		Kind:           kind,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		ProductID:      sub.ProductID,
		Message:        message,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Errorw("Failed to deliver notification", "kind", string(kind), "userID", sub.UserID, "error", err)
	}
}
