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

// TransactionService финансовый журнал. Журнал только дописывается:
// статусы двигаются строго вперед, записи не удаляются.
type TransactionService interface {
	// RecordIfNew идемпотентная запись: при дубле trans_num возвращает
	// существующую транзакцию и created=false
	RecordIfNew(ctx context.Context, tx domain.Transaction) (domain.Transaction, bool, error)

	GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error)
	GetByTransNum(ctx context.Context, transNum string) (domain.Transaction, error)
	List(ctx context.Context, filter repository.TransactionFilter) ([]domain.Transaction, error)

	// UpdateStatus двигает статус вперед по таблице переходов;
	// повторная доставка того же статуса считается no-op
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus) (domain.Transaction, error)
}

type transactionService struct {
	txRepo repository.TransactionRepository
	log    *logger.Logger
	now    func() time.Time
}

// NewTransactionService создает сервис транзакций
func NewTransactionService(txRepo repository.TransactionRepository, log *logger.Logger) TransactionService {
	return &transactionService{
		txRepo: txRepo,
		log:    log,
		now:    time.Now,
	}
}

// RecordIfNew пишет транзакцию; уникальность trans_num обеспечивает
// хранилище, дубль означает повторную доставку того же платежа
func (s *transactionService) RecordIfNew(ctx context.Context, tx domain.Transaction) (domain.Transaction, bool, error) {
	if tx.TransNum == "" {
		return domain.Transaction{}, false, fmt.Errorf("transaction without trans_num: %w", domain.ErrInvalidInput)
	}

	now := s.now().UTC()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	created, err := s.txRepo.Create(ctx, tx)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			existing, getErr := s.txRepo.GetByTransNum(ctx, tx.TransNum)
			if getErr != nil {
				return domain.Transaction{}, false, fmt.Errorf("load duplicate transaction %s: %w", tx.TransNum, getErr)
			}
			s.log.Debugw("Transaction already recorded", "transNum", tx.TransNum, "transactionID", existing.ID)
			return existing, false, nil
		}
		return domain.Transaction{}, false, fmt.Errorf("record transaction: %w", err)
	}

	s.log.Infow("Transaction recorded",
		"transactionID", created.ID,
		"transNum", created.TransNum,
		"type", string(created.Type),
		"status", string(created.Status),
		"total", created.Total,
	)
	return created, true, nil
}

// GetByID возвращает транзакцию
func (s *transactionService) GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Transaction{}, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
		}
		return domain.Transaction{}, err
	}
	return tx, nil
}

// GetByTransNum возвращает транзакцию по номеру у провайдера
func (s *transactionService) GetByTransNum(ctx context.Context, transNum string) (domain.Transaction, error) {
	tx, err := s.txRepo.GetByTransNum(ctx, transNum)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Transaction{}, fmt.Errorf("transaction %s: %w", transNum, domain.ErrNotFound)
		}
		return domain.Transaction{}, err
	}
	return tx, nil
}

// List возвращает транзакции по фильтру
func (s *transactionService) List(ctx context.Context, filter repository.TransactionFilter) ([]domain.Transaction, error) {
	return s.txRepo.List(ctx, filter)
}

// UpdateStatus двигает статус транзакции вперед
func (s *transactionService) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus) (domain.Transaction, error) {
	tx, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}

	if tx.Status == status {
		return tx, nil
	}
	if !domain.CanTransitionStatus(tx.Status, status) {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %s -> %s: %w", id, tx.Status, status, domain.ErrInvalidTransition)
	}

	updated, err := s.txRepo.UpdateStatus(ctx, id, status)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("update transaction status: %w", err)
	}

	s.log.Infow("Transaction status changed", "transactionID", id, "from", string(tx.Status), "to", string(status))
	return updated, nil
}
