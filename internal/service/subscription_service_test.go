package service

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/repository"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type subscriptionFixture struct {
	subRepo *repository.InMemorySubscriptionRepository
	txRepo  *repository.InMemoryTransactionRepository
	roles   *InMemoryRoleManager
	svc     SubscriptionService
}

func testCatalog(t *testing.T) ProductCatalog {
	t.Helper()
	catalog, err := NewStaticCatalog([]Product{
		{
			ID:       "pro-monthly",
			Title:    "Pro",
			Price:    9.99,
			TaxRate:  20,
			Currency: "usd",
			Period:   domain.BillingPeriod{Count: 1, Unit: domain.PeriodUnitMonth},
			Roles:    []string{"pro"},
		},
		{
			ID:        "pro-yearly",
			Title:     "Pro yearly",
			Price:     99.99,
			Currency:  "usd",
			Period:    domain.BillingPeriod{Count: 1, Unit: domain.PeriodUnitYear},
			TrialDays: 14,
			Roles:     []string{"pro"},
		},
		{
			ID:       "lifetime",
			Title:    "Lifetime",
			Price:    299,
			Currency: "usd",
			Lifetime: true,
			Roles:    []string{"pro", "lifetime"},
		},
	})
	require.NoError(t, err)
	return catalog
}

func newSubscriptionFixture(t *testing.T) *subscriptionFixture {
	t.Helper()
	log := logger.New(logger.ERROR)
	f := &subscriptionFixture{
		subRepo: repository.NewInMemorySubscriptionRepository(log),
		txRepo:  repository.NewInMemoryTransactionRepository(log),
		roles:   NewInMemoryRoleManager(),
	}
	svc := NewSubscriptionService(f.subRepo, f.txRepo, testCatalog(t), f.roles, NewLogNotifier(log), log)
	svc.(*subscriptionService).now = func() time.Time { return testNow }
	f.svc = svc
	return f
}

func (f *subscriptionFixture) createSubscription(t *testing.T, productID string) domain.Subscription {
	t.Helper()
	sub, err := f.svc.Create(context.Background(), domain.Subscription{
		UserID:    uuid.New(),
		ProductID: productID,
		GatewayID: "manual",
		Price:     9.99,
		TaxRate:   20,
		TaxAmount: 2.0,
		Total:     11.99,
		Period:    domain.BillingPeriod{Count: 1, Unit: domain.PeriodUnitMonth},
	})
	require.NoError(t, err)
	return sub
}

func (f *subscriptionFixture) activeSubscription(t *testing.T, productID string) domain.Subscription {
	t.Helper()
	sub := f.createSubscription(t, productID)
	activated, err := f.svc.Activate(context.Background(), sub.ID, testNow)
	require.NoError(t, err)
	return activated
}

func TestSubscriptionCreate_StartsPending(t *testing.T) {
	f := newSubscriptionFixture(t)

	sub := f.createSubscription(t, "pro-monthly")
	assert.Equal(t, domain.SubscriptionStatusPending, sub.Status)
	assert.NotEqual(t, uuid.Nil, sub.ID)
}

func TestSubscriptionCreate_UnknownProduct(t *testing.T) {
	f := newSubscriptionFixture(t)

	_, err := f.svc.Create(context.Background(), domain.Subscription{
		UserID:    uuid.New(),
		ProductID: "nonexistent",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestActivate_SetsAnchorAndGrantsRoles(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.createSubscription(t, "pro-monthly")

	activated, err := f.svc.Activate(context.Background(), sub.ID, testNow)
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusActive, activated.Status)
	require.NotNil(t, activated.NextPaymentAt)
	assert.Equal(t, testNow.AddDate(0, 1, 0), *activated.NextPaymentAt)
	assert.Equal(t, activated.NextPaymentAt, activated.ExpiresAt)
	assert.True(t, f.roles.HasRole(sub.UserID, "pro"))
}

func TestActivate_TrialAnchorsAfterTrialDays(t *testing.T) {
	f := newSubscriptionFixture(t)
	created, err := f.svc.Create(context.Background(), domain.Subscription{
		UserID:    uuid.New(),
		ProductID: "pro-yearly",
		GatewayID: "manual",
		Trial:     true,
		TrialDays: 14,
		Period:    domain.BillingPeriod{Count: 1, Unit: domain.PeriodUnitYear},
	})
	require.NoError(t, err)

	activated, err := f.svc.Activate(context.Background(), created.ID, testNow)
	require.NoError(t, err)

	// Первый платеж назначен на конец триала, не через год
	require.NotNil(t, activated.NextPaymentAt)
	assert.Equal(t, testNow.AddDate(0, 0, 14), *activated.NextPaymentAt)
}

func TestActivate_Idempotent(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.activeSubscription(t, "pro-monthly")

	again, err := f.svc.Activate(context.Background(), sub.ID, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, sub.NextPaymentAt, again.NextPaymentAt)
}

func TestActivate_LifetimeHasNoAnchor(t *testing.T) {
	f := newSubscriptionFixture(t)
	created, err := f.svc.Create(context.Background(), domain.Subscription{
		UserID:    uuid.New(),
		ProductID: "lifetime",
		GatewayID: "manual",
	})
	require.NoError(t, err)

	activated, err := f.svc.Activate(context.Background(), created.ID, testNow)
	require.NoError(t, err)

	assert.Nil(t, activated.NextPaymentAt)
	assert.Nil(t, activated.ExpiresAt)
	assert.True(t, activated.IsLifetime())
}

func TestCancel_RevokesRoles(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.activeSubscription(t, "pro-monthly")

	cancelled, err := f.svc.Cancel(context.Background(), sub.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.False(t, f.roles.HasRole(sub.UserID, "pro"))
}

func TestCancel_RetainsRolesFromOtherActiveSubscription(t *testing.T) {
	f := newSubscriptionFixture(t)
	userID := uuid.New()

	first, err := f.svc.Create(context.Background(), domain.Subscription{
		UserID: userID, ProductID: "pro-monthly", GatewayID: "manual",
		Period: domain.BillingPeriod{Count: 1, Unit: domain.PeriodUnitMonth},
	})
	require.NoError(t, err)
	_, err = f.svc.Activate(context.Background(), first.ID, testNow)
	require.NoError(t, err)

	second, err := f.svc.Create(context.Background(), domain.Subscription{
		UserID: userID, ProductID: "pro-yearly", GatewayID: "manual",
		Period: domain.BillingPeriod{Count: 1, Unit: domain.PeriodUnitYear},
	})
	require.NoError(t, err)
	_, err = f.svc.Activate(context.Background(), second.ID, testNow)
	require.NoError(t, err)

	// Обе подписки дают роль pro: отмена одной роль не трогает
	_, err = f.svc.Cancel(context.Background(), first.ID)
	require.NoError(t, err)
	assert.True(t, f.roles.HasRole(userID, "pro"))

	_, err = f.svc.Cancel(context.Background(), second.ID)
	require.NoError(t, err)
	assert.False(t, f.roles.HasRole(userID, "pro"))
}

func TestCancel_FromPendingAllowed(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.createSubscription(t, "pro-monthly")

	cancelled, err := f.svc.Cancel(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, cancelled.Status)
}

func TestExpire_FromCancelledRejected(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.activeSubscription(t, "pro-monthly")

	_, err := f.svc.Cancel(context.Background(), sub.ID)
	require.NoError(t, err)

	_, err = f.svc.Expire(context.Background(), sub.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReactivate_ResetsFailuresAndAnchor(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.activeSubscription(t, "pro-monthly")

	_, err := f.svc.Suspend(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, f.roles.HasRole(sub.UserID, "pro"))

	paidAt := testNow.Add(48 * time.Hour)
	restored, err := f.svc.Reactivate(context.Background(), sub.ID, paidAt)
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusActive, restored.Status)
	assert.Zero(t, restored.FailureCount)
	require.NotNil(t, restored.NextPaymentAt)
	assert.Equal(t, paidAt.AddDate(0, 1, 0), *restored.NextPaymentAt)
	assert.True(t, f.roles.HasRole(sub.UserID, "pro"))
}

func TestSuspend_RetainsRolesUntilTerminalState(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.activeSubscription(t, "pro-monthly")
	require.True(t, f.roles.HasRole(sub.UserID, "pro"))

	// Приостановка за неплатеж: грейс-период, доступ сохраняется
	suspended, err := f.svc.Suspend(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusSuspended, suspended.Status)
	assert.True(t, f.roles.HasRole(sub.UserID, "pro"))

	// Роли снимает только терминальный переход
	expired, err := f.svc.Expire(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, expired.Status)
	assert.False(t, f.roles.HasRole(sub.UserID, "pro"))
}

func TestSuspend_CancelAfterGracePeriodRevokesRoles(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.activeSubscription(t, "pro-monthly")

	_, err := f.svc.Suspend(context.Background(), sub.ID)
	require.NoError(t, err)
	require.True(t, f.roles.HasRole(sub.UserID, "pro"))

	cancelled, err := f.svc.Cancel(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, cancelled.Status)
	assert.False(t, f.roles.HasRole(sub.UserID, "pro"))
}

func TestRenew_AdvancesAnchorFromScheduledDate(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.activeSubscription(t, "pro-monthly")
	scheduled := *sub.NextPaymentAt

	// Платеж пришел на два дня позже плановой даты
	paidAt := scheduled.Add(48 * time.Hour)
	renewed, err := f.svc.Renew(context.Background(), sub.ID, domain.NewTransNum("mg"), paidAt)
	require.NoError(t, err)

	// Якорь двигается от плановой даты, опоздание не сдвигает расписание
	require.NotNil(t, renewed.NextPaymentAt)
	assert.Equal(t, scheduled.AddDate(0, 1, 0), *renewed.NextPaymentAt)
	assert.Equal(t, 1, renewed.RenewalCount)
}

func TestRenew_RecordsRenewalTransaction(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.activeSubscription(t, "pro-monthly")

	transNum := domain.NewTransNum("mg")
	_, err := f.svc.Renew(context.Background(), sub.ID, transNum, testNow)
	require.NoError(t, err)

	tx, err := f.txRepo.GetByTransNum(context.Background(), transNum)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeRenewal, tx.Type)
	assert.Equal(t, domain.TransactionStatusComplete, tx.Status)
	assert.Equal(t, sub.ID, tx.SubscriptionID)
}

// staleReadSubRepo отдает устаревший снимок подписки из GetByID,
// имитируя гонку между чтением и условным обновлением
type staleReadSubRepo struct {
	repository.SubscriptionRepository
	snapshot domain.Subscription
}

func (r *staleReadSubRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	return r.snapshot, nil
}

func TestRenew_ConcurrentRenewalIsStale(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.activeSubscription(t, "pro-monthly")
	expected := *sub.NextPaymentAt

	// Конкурирующее продление сдвигает якорь после чтения
	_, err := f.subRepo.MarkRenewed(context.Background(), sub.ID, expected, expected.AddDate(0, 1, 0), testNow)
	require.NoError(t, err)

	log := logger.New(logger.ERROR)
	stale := &staleReadSubRepo{SubscriptionRepository: f.subRepo, snapshot: sub}
	svc := NewSubscriptionService(stale, f.txRepo, testCatalog(t), f.roles, NewLogNotifier(log), log)

	_, err = svc.Renew(context.Background(), sub.ID, domain.NewTransNum("mg"), testNow)
	assert.ErrorIs(t, err, domain.ErrStaleRenewal)
}

func TestRenew_NotActiveRejected(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.createSubscription(t, "pro-monthly")

	_, err := f.svc.Renew(context.Background(), sub.ID, domain.NewTransNum("mg"), testNow)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRecordRenewalFailure_SuspendsAfterLimit(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.activeSubscription(t, "pro-monthly")

	for i := 0; i < maxRenewalFailures-1; i++ {
		updated, err := f.svc.RecordRenewalFailure(context.Background(), sub.ID, "card declined")
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionStatusActive, updated.Status)
	}

	updated, err := f.svc.RecordRenewalFailure(context.Background(), sub.ID, "card declined")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusSuspended, updated.Status)
}

func TestApplyProviderStatus_Mapping(t *testing.T) {
	tests := []struct {
		providerStatus string
		want           domain.SubscriptionStatus
	}{
		{"canceled", domain.SubscriptionStatusCancelled},
		{"unpaid", domain.SubscriptionStatusSuspended},
		{"past_due", domain.SubscriptionStatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.providerStatus, func(t *testing.T) {
			f := newSubscriptionFixture(t)
			sub := f.activeSubscription(t, "pro-monthly")

			updated, err := f.svc.ApplyProviderStatus(context.Background(), sub.ID, tt.providerStatus)
			require.NoError(t, err)
			assert.Equal(t, tt.want, updated.Status)
		})
	}
}

func TestApplyProviderStatus_UnknownIsNoop(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.activeSubscription(t, "pro-monthly")

	updated, err := f.svc.ApplyProviderStatus(context.Background(), sub.ID, "paused")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, updated.Status)
}

func TestApplyProviderStatus_DisallowedTransitionIsNoop(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.activeSubscription(t, "pro-monthly")

	_, err := f.svc.Cancel(context.Background(), sub.ID)
	require.NoError(t, err)

	// cancelled -> suspended запрещен: событие игнорируется
	updated, err := f.svc.ApplyProviderStatus(context.Background(), sub.ID, "unpaid")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, updated.Status)
}

func TestSubscribe_ObserverReceivesEvents(t *testing.T) {
	f := newSubscriptionFixture(t)

	var kinds []domain.SubscriptionEventKind
	f.svc.Subscribe(func(event domain.SubscriptionEvent) {
		kinds = append(kinds, event.Kind)
	})

	sub := f.createSubscription(t, "pro-monthly")
	_, err := f.svc.Activate(context.Background(), sub.ID, testNow)
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), sub.ID)
	require.NoError(t, err)

	assert.Equal(t, []domain.SubscriptionEventKind{
		domain.EventSubscriptionCreated,
		domain.EventSubscriptionActivated,
		domain.EventSubscriptionCancelled,
	}, kinds)
}
