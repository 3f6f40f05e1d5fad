package service

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/gateway"
	"github.com/Dhoini/Billing-engine/internal/metrics"
	"github.com/Dhoini/Billing-engine/internal/repository"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkoutFixture struct {
	subRepo  *repository.InMemorySubscriptionRepository
	txRepo   *repository.InMemoryTransactionRepository
	roles    *InMemoryRoleManager
	registry *gateway.Registry
	subs     SubscriptionService
	txs      TransactionService
	checkout CheckoutService
}

func newCheckoutFixture(t *testing.T, autoComplete bool) *checkoutFixture {
	t.Helper()
	log := logger.New(logger.ERROR)

	f := &checkoutFixture{
		subRepo:  repository.NewInMemorySubscriptionRepository(log),
		txRepo:   repository.NewInMemoryTransactionRepository(log),
		roles:    NewInMemoryRoleManager(),
		registry: gateway.NewRegistry(log),
	}

	manual := gateway.NewManualGateway(log)
	settings := map[string]string{"auto_complete": "false"}
	if autoComplete {
		settings["auto_complete"] = "true"
	}
	require.NoError(t, manual.Configure(settings))
	require.NoError(t, f.registry.Register(manual))
	require.NoError(t, f.registry.Enable(gateway.ManualGatewayID))

	catalog := testCatalog(t)
	notifier := NewLogNotifier(log)

	subs := NewSubscriptionService(f.subRepo, f.txRepo, catalog, f.roles, notifier, log)
	subs.(*subscriptionService).now = func() time.Time { return testNow }
	f.subs = subs
	f.txs = NewTransactionService(f.txRepo, log)

	checkout := NewCheckoutService(f.registry, catalog, f.subs, f.txs, metrics.NewNopMetrics(), log)
	checkout.(*checkoutService).now = func() time.Time { return testNow }
	f.checkout = checkout
	return f
}

func checkoutRequest(productID string) CheckoutRequest {
	return CheckoutRequest{
		UserID:    uuid.New(),
		Email:     "user@example.com",
		ProductID: productID,
		GatewayID: gateway.ManualGatewayID,
	}
}

func TestCheckoutSubscribe_AutoCompleteActivates(t *testing.T) {
	f := newCheckoutFixture(t, true)

	result, err := f.checkout.Subscribe(context.Background(), checkoutRequest("pro-monthly"))
	require.NoError(t, err)
	assert.True(t, result.Success)

	sub, err := f.subs.GetByID(context.Background(), result.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.True(t, f.roles.HasRole(sub.UserID, "pro"))

	tx, err := f.txs.GetByTransNum(context.Background(), result.TransNum)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusComplete, tx.Status)
	assert.Equal(t, sub.ID, tx.SubscriptionID)
}

func TestCheckoutSubscribe_ManualConfirmationStaysPending(t *testing.T) {
	f := newCheckoutFixture(t, false)

	result, err := f.checkout.Subscribe(context.Background(), checkoutRequest("pro-monthly"))
	require.NoError(t, err)
	assert.False(t, result.Success)

	sub, err := f.subs.GetByID(context.Background(), result.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, sub.Status)
	assert.False(t, f.roles.HasRole(sub.UserID, "pro"))

	tx, err := f.txs.GetByTransNum(context.Background(), result.TransNum)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, tx.Status)
}

func TestCheckoutSubscribe_UnknownProduct(t *testing.T) {
	f := newCheckoutFixture(t, true)

	_, err := f.checkout.Subscribe(context.Background(), checkoutRequest("nonexistent"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckoutSubscribe_DisabledGateway(t *testing.T) {
	f := newCheckoutFixture(t, true)
	require.NoError(t, f.registry.Disable(gateway.ManualGatewayID))

	_, err := f.checkout.Subscribe(context.Background(), checkoutRequest("pro-monthly"))
	assert.ErrorIs(t, err, domain.ErrGatewayDisabled)

	// Отказ шлюза не оставляет следов в журнале подписок
	subs, err := f.subRepo.List(context.Background(), repository.SubscriptionFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestCheckoutPurchase_RecordsTransaction(t *testing.T) {
	f := newCheckoutFixture(t, true)

	result, err := f.checkout.Purchase(context.Background(), checkoutRequest("lifetime"))
	require.NoError(t, err)
	assert.True(t, result.Success)

	tx, err := f.txs.GetByTransNum(context.Background(), result.TransNum)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypePayment, tx.Type)
	// Разовая покупка не привязана к подписке
	assert.Equal(t, uuid.Nil, tx.SubscriptionID)
}

func TestCheckoutRefund_FullFlow(t *testing.T) {
	f := newCheckoutFixture(t, true)

	payment, err := f.checkout.Purchase(context.Background(), checkoutRequest("lifetime"))
	require.NoError(t, err)
	original, err := f.txs.GetByTransNum(context.Background(), payment.TransNum)
	require.NoError(t, err)

	refund, err := f.checkout.Refund(context.Background(), domain.RefundRequest{TransactionID: original.ID})
	require.NoError(t, err)
	assert.True(t, refund.Success)

	// Исходная транзакция отмечена, возврат записан отдельной строкой
	updated, err := f.txs.GetByID(context.Background(), original.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusRefunded, updated.Status)

	refundTx, err := f.txs.GetByTransNum(context.Background(), refund.TransNum)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeRefund, refundTx.Type)
	assert.InDelta(t, original.Total, refundTx.Amount, 0.001)
}

func TestCheckoutRefund_RepeatIsIdempotent(t *testing.T) {
	f := newCheckoutFixture(t, true)

	payment, err := f.checkout.Purchase(context.Background(), checkoutRequest("lifetime"))
	require.NoError(t, err)
	original, err := f.txs.GetByTransNum(context.Background(), payment.TransNum)
	require.NoError(t, err)

	_, err = f.checkout.Refund(context.Background(), domain.RefundRequest{TransactionID: original.ID})
	require.NoError(t, err)

	repeat, err := f.checkout.Refund(context.Background(), domain.RefundRequest{TransactionID: original.ID})
	require.NoError(t, err)
	assert.True(t, repeat.Success)
}

func TestCheckoutRefund_PendingTransactionRejected(t *testing.T) {
	f := newCheckoutFixture(t, false)

	payment, err := f.checkout.Purchase(context.Background(), checkoutRequest("lifetime"))
	require.NoError(t, err)
	original, err := f.txs.GetByTransNum(context.Background(), payment.TransNum)
	require.NoError(t, err)

	_, err = f.checkout.Refund(context.Background(), domain.RefundRequest{TransactionID: original.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCheckoutRefund_AmountAboveTotalRejected(t *testing.T) {
	f := newCheckoutFixture(t, true)

	payment, err := f.checkout.Purchase(context.Background(), checkoutRequest("lifetime"))
	require.NoError(t, err)
	original, err := f.txs.GetByTransNum(context.Background(), payment.TransNum)
	require.NoError(t, err)

	_, err = f.checkout.Refund(context.Background(), domain.RefundRequest{
		TransactionID: original.ID,
		Amount:        original.Total + 1,
	})
	require.Error(t, err)

	var verrs *domain.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestCheckout_ManualLifecycle(t *testing.T) {
	f := newCheckoutFixture(t, false)

	// Оформление без auto_complete: подписка ждет ручного подтверждения
	result, err := f.checkout.Subscribe(context.Background(), checkoutRequest("pro-monthly"))
	require.NoError(t, err)
	require.False(t, result.Success)

	sub, err := f.subs.GetByID(context.Background(), result.SubscriptionID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusPending, sub.Status)

	// Подтверждение оплаты активирует подписку и выдает роль
	sub, err = f.subs.Activate(context.Background(), sub.ID, testNow)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.NextPaymentAt)
	firstAnchor := *sub.NextPaymentAt
	assert.True(t, f.roles.HasRole(sub.UserID, "pro"))

	// Очередное продление сдвигает якорь ровно на период
	sub, err = f.subs.Renew(context.Background(), sub.ID, domain.NewTransNum("mg"), firstAnchor)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.RenewalCount)
	require.NotNil(t, sub.NextPaymentAt)
	assert.True(t, sub.NextPaymentAt.Equal(firstAnchor.AddDate(0, 1, 0)))
}
