package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManual(t *testing.T, autoComplete bool) *ManualGateway {
	t.Helper()
	g := NewManualGateway(logger.New(logger.ERROR))
	settings := map[string]string{"auto_complete": "false"}
	if autoComplete {
		settings["auto_complete"] = "true"
	}
	require.NoError(t, g.Configure(settings))
	return g
}

func TestManualProcessPayment_AutoComplete(t *testing.T) {
	g := newManual(t, true)

	result, err := g.ProcessPayment(context.Background(), domain.PaymentData{Total: 9.99})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, strings.HasPrefix(result.TransNum, "mg-"))
}

func TestManualProcessPayment_PendingConfirmation(t *testing.T) {
	g := newManual(t, false)

	result, err := g.ProcessPayment(context.Background(), domain.PaymentData{Total: 9.99})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.TransNum)
	assert.NotEmpty(t, result.Message)
}

func TestManualProcessSubscription(t *testing.T) {
	g := newManual(t, true)
	sub := domain.Subscription{ID: uuid.New()}

	result, err := g.ProcessSubscription(context.Background(), sub, domain.PaymentData{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, sub.ID, result.SubscriptionID)
	// Внешнего провайдера нет, внешний ID подписки отсутствует
	assert.Empty(t, result.ExternalID)
}

func TestManualChargeRenewal(t *testing.T) {
	g := newManual(t, false)
	sub := domain.Subscription{ID: uuid.New(), Total: 11.99}

	// Продления проходят даже без auto_complete: списание инициирует
	// планировщик, подтверждать его некому
	result, err := g.ChargeRenewal(context.Background(), sub, time.Now())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.TransNum)
}

func TestManualProcessRefund(t *testing.T) {
	g := newManual(t, true)
	tx := domain.Transaction{TransNum: "mg-original"}

	result, err := g.ProcessRefund(context.Background(), tx, domain.RefundRequest{Amount: 5})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestManualValidatePaymentFields(t *testing.T) {
	g := newManual(t, true)

	err := g.ValidatePaymentFields(domain.PaymentData{
		UserID:   uuid.New(),
		Total:    11.99,
		Currency: "usd",
	})
	assert.NoError(t, err)

	err = g.ValidatePaymentFields(domain.PaymentData{Total: -1})
	var verrs *domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs.Fields(), "user_id")
	assert.Contains(t, verrs.Fields(), "total")
	assert.Contains(t, verrs.Fields(), "currency")
}
