package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/gateway"
	"github.com/Dhoini/Billing-engine/internal/metrics"
	"github.com/Dhoini/Billing-engine/internal/repository"
	"github.com/Dhoini/Billing-engine/internal/service"
	"github.com/Dhoini/Billing-engine/pkg/logger"
)

// jobTimeout предельное время одного прогона джобы
const jobTimeout = 10 * time.Minute

// RenewalCharger списывает оплату продления без участия пользователя.
// Реализуется локальным шлюзом; у провайдерских шлюзов продления
// инициирует сам провайдер и сюда они не попадают.
type RenewalCharger interface {
	ChargeRenewal(ctx context.Context, sub domain.Subscription, at time.Time) (domain.PaymentResult, error)
}

// EventPublisher публикует события жизненного цикла из джоб
type EventPublisher func(event domain.SubscriptionEvent)

// Jobs периодические задачи биллинга. Каждая джоба обрабатывает записи
// поштучно: ошибка на одной подписке не прерывает остальные.
type Jobs struct {
	subRepo      repository.SubscriptionRepository
	reminderRepo repository.ReminderRepository
	subs         service.SubscriptionService
	charger      RenewalCharger
	notifier     service.Notifier
	publish      EventPublisher
	metrics      metrics.BillingMetrics
	reminderLead []int // за сколько дней напоминать, например [7, 1]
	log          *logger.Logger
	now          func() time.Time
}

// NewJobs создает набор периодических задач
func NewJobs(
	subRepo repository.SubscriptionRepository,
	reminderRepo repository.ReminderRepository,
	subs service.SubscriptionService,
	charger RenewalCharger,
	notifier service.Notifier,
	publish EventPublisher,
	m metrics.BillingMetrics,
	reminderLead []int,
	log *logger.Logger,
) *Jobs {
	return &Jobs{
		subRepo:      subRepo,
		reminderRepo: reminderRepo,
		subs:         subs,
		charger:      charger,
		notifier:     notifier,
		publish:      publish,
		metrics:      m,
		reminderLead: reminderLead,
		log:          log,
		now:          time.Now,
	}
}

// ProcessDueRenewals продлевает активные подписки локального шлюза,
// у которых наступила дата платежа. Условное обновление в Renew
// гарантирует, что параллельный прогон не спишет оплату дважды.
func (j *Jobs) ProcessDueRenewals() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	now := j.now().UTC()
	due, err := j.subRepo.FindDueForRenewal(ctx, gateway.ManualGatewayID, now)
	if err != nil {
		j.log.Errorw("Failed to list subscriptions due for renewal", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	j.log.Infow("Processing due renewals", "count", len(due))
	for _, sub := range due {
		j.renewOne(ctx, sub, now)
	}
}

// renewOne продлевает одну подписку, ошибки не выходят за её пределы
func (j *Jobs) renewOne(ctx context.Context, sub domain.Subscription, now time.Time) {
	result, err := j.charger.ChargeRenewal(ctx, sub, now)
	if err != nil || !result.Success {
		message := ""
		if err != nil {
			message = err.Error()
			j.log.Errorw("Renewal charge failed", "subscriptionID", sub.ID, "error", err)
		} else {
			message = result.Message
			j.log.Warnw("Renewal charge declined", "subscriptionID", sub.ID, "message", result.Message)
		}
		j.metrics.IncRenewal(sub.GatewayID, "failed")
		if _, err := j.subs.RecordRenewalFailure(ctx, sub.ID, message); err != nil {
			j.log.Errorw("Failed to record renewal failure", "subscriptionID", sub.ID, "error", err)
		}
		return
	}

	if _, err := j.subs.Renew(ctx, sub.ID, result.TransNum, now); err != nil {
		if errors.Is(err, domain.ErrStaleRenewal) {
			// Конкурирующий прогон уже продлил подписку
			j.log.Debugw("Renewal already applied elsewhere", "subscriptionID", sub.ID)
			j.metrics.IncRenewal(sub.GatewayID, "stale")
			return
		}
		j.log.Errorw("Failed to apply renewal", "subscriptionID", sub.ID, "transNum", result.TransNum, "error", err)
		j.metrics.IncRenewal(sub.GatewayID, "error")
		return
	}
	j.metrics.IncRenewal(sub.GatewayID, "success")
}

// ProcessExpirations переводит просроченные подписки в expired.
// Подписки провайдерских шлюзов не истекают локально: провайдер сам
// ретраит платеж, мы лишь сигналим о задержке продления.
func (j *Jobs) ProcessExpirations() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	now := j.now().UTC()
	expired, err := j.subRepo.FindExpired(ctx, now)
	if err != nil {
		j.log.Errorw("Failed to list expired subscriptions", "error", err)
		return
	}
	if len(expired) == 0 {
		j.refreshStatusGauge(ctx)
		return
	}

	j.log.Infow("Processing expirations", "count", len(expired))
	for _, sub := range expired {
		if sub.GatewayID == gateway.ManualGatewayID {
			if _, err := j.subs.Expire(ctx, sub.ID); err != nil {
				j.log.Errorw("Failed to expire subscription", "subscriptionID", sub.ID, "error", err)
			}
			continue
		}

		if j.publish != nil {
			j.publish(domain.SubscriptionEvent{
				Kind:           domain.EventRenewalNeeded,
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				ProductID:      sub.ProductID,
				GatewayID:      sub.GatewayID,
				From:           sub.Status,
				To:             sub.Status,
				OccurredAt:     now,
			})
		}
		j.log.Warnw("Provider-managed subscription overdue, awaiting provider retry",
			"subscriptionID", sub.ID, "gatewayID", sub.GatewayID, "nextPaymentAt", sub.NextPaymentAt)
	}

	j.refreshStatusGauge(ctx)
}

// refreshStatusGauge обновляет gauge количества подписок по статусам
func (j *Jobs) refreshStatusGauge(ctx context.Context) {
	counts, err := j.subRepo.CountByStatus(ctx)
	if err != nil {
		j.log.Warnw("Failed to count subscriptions by status", "error", err)
		return
	}
	for _, status := range []domain.SubscriptionStatus{
		domain.SubscriptionStatusPending,
		domain.SubscriptionStatusActive,
		domain.SubscriptionStatusCancelled,
		domain.SubscriptionStatusExpired,
		domain.SubscriptionStatusSuspended,
		domain.SubscriptionStatusFailed,
	} {
		j.metrics.SetSubscriptionsByStatus(string(status), float64(counts[status]))
	}
}

// ProcessReminders шлет напоминания о предстоящем продлении.
// Маркер (подписка, срок, дата платежа) гарантирует одно напоминание
// на срок даже при повторных прогонах.
func (j *Jobs) ProcessReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	now := j.now().UTC()
	for _, lead := range j.reminderLead {
		dueDate := now.AddDate(0, 0, lead)
		due, err := j.subRepo.FindDueOn(ctx, dueDate)
		if err != nil {
			j.log.Errorw("Failed to list subscriptions for reminders", "leadDays", lead, "error", err)
			continue
		}

		for _, sub := range due {
			j.remindOne(ctx, sub, lead, dueDate)
		}
	}
}

// remindOne шлет одно напоминание с дедупликацией по маркеру
func (j *Jobs) remindOne(ctx context.Context, sub domain.Subscription, lead int, dueDate time.Time) {
	sent, err := j.reminderRepo.Exists(ctx, sub.ID, lead, dueDate)
	if err != nil {
		j.log.Errorw("Failed to check reminder marker", "subscriptionID", sub.ID, "leadDays", lead, "error", err)
		return
	}
	if sent {
		return
	}

	due := sub.NextPaymentAt
	notification := domain.Notification{
		Kind:           domain.NotificationRenewalUpcoming,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		ProductID:      sub.ProductID,
		DueAt:          due,
		CreatedAt:      j.now().UTC(),
	}
	if err := j.notifier.Notify(ctx, notification); err != nil {
		// Маркер не ставим: следующий прогон попробует снова
		j.log.Errorw("Failed to send renewal reminder", "subscriptionID", sub.ID, "leadDays", lead, "error", err)
		return
	}

	if err := j.reminderRepo.Record(ctx, sub.ID, lead, dueDate); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		j.log.Errorw("Failed to record reminder marker", "subscriptionID", sub.ID, "leadDays", lead, "error", err)
	}
}
