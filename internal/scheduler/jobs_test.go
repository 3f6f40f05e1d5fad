package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/gateway"
	"github.com/Dhoini/Billing-engine/internal/metrics"
	"github.com/Dhoini/Billing-engine/internal/repository"
	"github.com/Dhoini/Billing-engine/internal/service"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobsNow = time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)

// chargerStub управляемое списание продлений
type chargerStub struct {
	declined bool
	err      error
	calls    int
}

func (c *chargerStub) ChargeRenewal(ctx context.Context, sub domain.Subscription, at time.Time) (domain.PaymentResult, error) {
	c.calls++
	if c.err != nil {
		return domain.PaymentResult{}, c.err
	}
	if c.declined {
		return domain.PaymentResult{Success: false, Message: "insufficient funds"}, nil
	}
	return domain.PaymentResult{Success: true, TransNum: domain.NewTransNum("mg")}, nil
}

// notifierStub копит уведомления, умеет падать
type notifierStub struct {
	sent []domain.Notification
	err  error
}

func (n *notifierStub) Notify(ctx context.Context, notification domain.Notification) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification)
	return nil
}

type jobsFixture struct {
	subRepo      *repository.InMemorySubscriptionRepository
	reminderRepo *repository.InMemoryReminderRepository
	subs         service.SubscriptionService
	charger      *chargerStub
	notifier     *notifierStub
	published    []domain.SubscriptionEvent
	jobs         *Jobs
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()
	log := logger.New(logger.ERROR)

	catalog, err := service.NewStaticCatalog([]service.Product{
		{
			ID:     "pro-monthly",
			Price:  9.99,
			Period: domain.BillingPeriod{Count: 1, Unit: domain.PeriodUnitMonth},
			Roles:  []string{"pro"},
		},
	})
	require.NoError(t, err)

	f := &jobsFixture{
		subRepo:      repository.NewInMemorySubscriptionRepository(log),
		reminderRepo: repository.NewInMemoryReminderRepository(),
		charger:      &chargerStub{},
		notifier:     &notifierStub{},
	}
	// Уведомления самого сервиса подписок идут мимо стаба: в сроках
	// напоминаний считаем только то, что шлют джобы
	f.subs = service.NewSubscriptionService(f.subRepo, repository.NewInMemoryTransactionRepository(log), catalog, service.NewInMemoryRoleManager(), service.NewLogNotifier(log), log)

	f.jobs = NewJobs(
		f.subRepo,
		f.reminderRepo,
		f.subs,
		f.charger,
		f.notifier,
		func(event domain.SubscriptionEvent) { f.published = append(f.published, event) },
		metrics.NewNopMetrics(),
		[]int{7, 1},
		log,
	)
	f.jobs.now = func() time.Time { return jobsNow }
	return f
}

// subscriptionDue создает активную подписку с заданным сроком платежа
func (f *jobsFixture) subscriptionDue(t *testing.T, gatewayID string, nextPaymentAt time.Time) domain.Subscription {
	t.Helper()
	sub, err := f.subs.Create(context.Background(), domain.Subscription{
		UserID:    uuid.New(),
		ProductID: "pro-monthly",
		GatewayID: gatewayID,
		Price:     9.99,
		Total:     9.99,
		Period:    domain.BillingPeriod{Count: 1, Unit: domain.PeriodUnitMonth},
	})
	require.NoError(t, err)
	activated, err := f.subs.Activate(context.Background(), sub.ID, nextPaymentAt.AddDate(0, -1, 0))
	require.NoError(t, err)

	// Activate выставляет якорь от paidAt; подгоняем точное значение
	activated.NextPaymentAt = &nextPaymentAt
	activated.ExpiresAt = &nextPaymentAt
	require.NoError(t, f.subRepo.Update(context.Background(), activated))
	return activated
}

func TestProcessDueRenewals_RenewsManualSubscriptions(t *testing.T) {
	f := newJobsFixture(t)
	due := jobsNow.AddDate(0, 0, -1)
	sub := f.subscriptionDue(t, gateway.ManualGatewayID, due)

	f.jobs.ProcessDueRenewals()

	assert.Equal(t, 1, f.charger.calls)
	updated, err := f.subs.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.RenewalCount)
	// Якорь двигается от плановой даты, не от времени прогона
	require.NotNil(t, updated.NextPaymentAt)
	assert.Equal(t, due.AddDate(0, 1, 0), *updated.NextPaymentAt)
}

func TestProcessDueRenewals_SkipsNotYetDue(t *testing.T) {
	f := newJobsFixture(t)
	f.subscriptionDue(t, gateway.ManualGatewayID, jobsNow.AddDate(0, 0, 5))

	f.jobs.ProcessDueRenewals()

	assert.Zero(t, f.charger.calls)
}

func TestProcessDueRenewals_SkipsProviderGateways(t *testing.T) {
	f := newJobsFixture(t)
	f.subscriptionDue(t, "stripe", jobsNow.AddDate(0, 0, -1))

	f.jobs.ProcessDueRenewals()

	assert.Zero(t, f.charger.calls)
}

func TestProcessDueRenewals_DeclinedChargeRecordsFailure(t *testing.T) {
	f := newJobsFixture(t)
	f.charger.declined = true
	sub := f.subscriptionDue(t, gateway.ManualGatewayID, jobsNow.AddDate(0, 0, -1))

	f.jobs.ProcessDueRenewals()

	updated, err := f.subs.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.FailureCount)
	assert.Zero(t, updated.RenewalCount)
}

func TestProcessDueRenewals_RepeatedDeclinesSuspend(t *testing.T) {
	f := newJobsFixture(t)
	f.charger.declined = true
	sub := f.subscriptionDue(t, gateway.ManualGatewayID, jobsNow.AddDate(0, 0, -1))

	for i := 0; i < 3; i++ {
		f.jobs.ProcessDueRenewals()
	}

	updated, err := f.subs.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusSuspended, updated.Status)

	// Приостановленная подписка выпадает из выборки продлений
	f.charger.calls = 0
	f.jobs.ProcessDueRenewals()
	assert.Zero(t, f.charger.calls)
}

func TestProcessExpirations_ExpiresManual(t *testing.T) {
	f := newJobsFixture(t)
	sub := f.subscriptionDue(t, gateway.ManualGatewayID, jobsNow.AddDate(0, 0, -3))

	f.jobs.ProcessExpirations()

	updated, err := f.subs.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, updated.Status)
}

func TestProcessExpirations_ProviderOverduePublishesEvent(t *testing.T) {
	f := newJobsFixture(t)
	sub := f.subscriptionDue(t, "stripe", jobsNow.AddDate(0, 0, -3))

	f.jobs.ProcessExpirations()

	// Провайдерская подписка не истекает локально, провайдер ретраит сам
	updated, err := f.subs.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, updated.Status)

	require.Len(t, f.published, 1)
	assert.Equal(t, domain.EventRenewalNeeded, f.published[0].Kind)
	assert.Equal(t, sub.ID, f.published[0].SubscriptionID)
}

func TestProcessReminders_SendsOncePerLead(t *testing.T) {
	f := newJobsFixture(t)
	sub := f.subscriptionDue(t, gateway.ManualGatewayID, jobsNow.AddDate(0, 0, 7))

	f.jobs.ProcessReminders()

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, domain.NotificationRenewalUpcoming, f.notifier.sent[0].Kind)
	assert.Equal(t, sub.ID, f.notifier.sent[0].SubscriptionID)

	// Повторный прогон не дублирует напоминание
	f.jobs.ProcessReminders()
	assert.Len(t, f.notifier.sent, 1)
}

func TestProcessReminders_FailedDeliveryRetriesNextRun(t *testing.T) {
	f := newJobsFixture(t)
	f.subscriptionDue(t, gateway.ManualGatewayID, jobsNow.AddDate(0, 0, 1))

	f.notifier.err = errors.New("broker unavailable")
	f.jobs.ProcessReminders()
	assert.Empty(t, f.notifier.sent)

	// Маркер не поставлен, следующий прогон доставляет
	f.notifier.err = nil
	f.jobs.ProcessReminders()
	assert.Len(t, f.notifier.sent, 1)
}

func TestProcessReminders_NoDueSubscriptions(t *testing.T) {
	f := newJobsFixture(t)
	f.subscriptionDue(t, gateway.ManualGatewayID, jobsNow.AddDate(0, 0, 3))

	// Платеж через 3 дня, сроки напоминаний 7 и 1
	f.jobs.ProcessReminders()
	assert.Empty(t, f.notifier.sent)
}
