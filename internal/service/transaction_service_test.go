package service

import (
	"context"
	"testing"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/repository"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransactionService(t *testing.T) (TransactionService, *repository.InMemoryTransactionRepository) {
	t.Helper()
	log := logger.New(logger.ERROR)
	repo := repository.NewInMemoryTransactionRepository(log)
	return NewTransactionService(repo, log), repo
}

func paymentTransaction(transNum string) domain.Transaction {
	return domain.Transaction{
		TransNum:  transNum,
		UserID:    uuid.New(),
		ProductID: "pro-monthly",
		Amount:    9.99,
		Total:     11.99,
		Status:    domain.TransactionStatusPending,
		Type:      domain.TransactionTypePayment,
		GatewayID: "manual",
	}
}

func TestRecordIfNew_CreatesTransaction(t *testing.T) {
	svc, _ := newTransactionService(t)

	tx, created, err := svc.RecordIfNew(context.Background(), paymentTransaction("pi_123"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, uuid.Nil, tx.ID)
	assert.False(t, tx.CreatedAt.IsZero())
}

func TestRecordIfNew_DuplicateReturnsExisting(t *testing.T) {
	svc, _ := newTransactionService(t)

	first, created, err := svc.RecordIfNew(context.Background(), paymentTransaction("pi_123"))
	require.NoError(t, err)
	require.True(t, created)

	// Повторная доставка того же платежа
	second, created, err := svc.RecordIfNew(context.Background(), paymentTransaction("pi_123"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestRecordIfNew_EmptyTransNumRejected(t *testing.T) {
	svc, _ := newTransactionService(t)

	_, _, err := svc.RecordIfNew(context.Background(), paymentTransaction(""))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpdateStatus_PendingToComplete(t *testing.T) {
	svc, _ := newTransactionService(t)
	tx, _, err := svc.RecordIfNew(context.Background(), paymentTransaction("pi_123"))
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(context.Background(), tx.ID, domain.TransactionStatusComplete)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusComplete, updated.Status)
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	svc, _ := newTransactionService(t)
	tx, _, err := svc.RecordIfNew(context.Background(), paymentTransaction("pi_123"))
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(context.Background(), tx.ID, domain.TransactionStatusPending)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, updated.Status)
}

func TestUpdateStatus_BackwardsRejected(t *testing.T) {
	svc, _ := newTransactionService(t)
	tx, _, err := svc.RecordIfNew(context.Background(), paymentTransaction("pi_123"))
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), tx.ID, domain.TransactionStatusComplete)
	require.NoError(t, err)

	// Завершенная транзакция не возвращается в pending
	_, err = svc.UpdateStatus(context.Background(), tx.ID, domain.TransactionStatusPending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUpdateStatus_CompleteToRefunded(t *testing.T) {
	svc, _ := newTransactionService(t)
	tx, _, err := svc.RecordIfNew(context.Background(), paymentTransaction("pi_123"))
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), tx.ID, domain.TransactionStatusComplete)
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(context.Background(), tx.ID, domain.TransactionStatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusRefunded, updated.Status)
}

func TestGetByTransNum_NotFound(t *testing.T) {
	svc, _ := newTransactionService(t)

	_, err := svc.GetByTransNum(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
