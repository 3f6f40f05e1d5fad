package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
)

const transactionColumns = `
	id, trans_num, user_id, product_id, subscription_id, amount,
	tax_amount, total, status, type, gateway_id, created_at, updated_at`

// PostgresTransactionRepository реализация журнала транзакций через PostgreSQL
type PostgresTransactionRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresTransactionRepository создает новый репозиторий транзакций через PostgreSQL
func NewPostgresTransactionRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{
		db:  db,
		log: log,
	}
}

// scanTransaction читает одну строку транзакции
func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var tx domain.Transaction
	var subscriptionID *uuid.UUID

	err := row.Scan(
		&tx.ID,
		&tx.TransNum,
		&tx.UserID,
		&tx.ProductID,
		&subscriptionID,
		&tx.Amount,
		&tx.TaxAmount,
		&tx.Total,
		&tx.Status,
		&tx.Type,
		&tx.GatewayID,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}

	if subscriptionID != nil {
		tx.SubscriptionID = *subscriptionID
	}

	return tx, nil
}

// collectTransactions читает все строки выборки
func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

// nullableSubscriptionID uuid.Nil хранится как NULL
func nullableSubscriptionID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// Create создает транзакцию. Уникальный индекс по trans_num защищает от
// гонки двойной вставки при параллельной доставке вебхуков: нарушение
// уникальности возвращается как ErrDuplicate, не как фатальная ошибка.
func (r *PostgresTransactionRepository) Create(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	query := `
		INSERT INTO transactions (
			id, trans_num, user_id, product_id, subscription_id, amount,
			tax_amount, total, status, type, gateway_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		RETURNING id, created_at, updated_at
	`

	now := time.Now()

	err := r.db.QueryRow(
		ctx,
		query,
		tx.ID,
		tx.TransNum,
		tx.UserID,
		tx.ProductID,
		nullableSubscriptionID(tx.SubscriptionID),
		tx.Amount,
		tx.TaxAmount,
		tx.Total,
		tx.Status,
		tx.Type,
		tx.GatewayID,
		now,
		now,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.log.Debugw("Duplicate trans_num on insert, treating as already exists", "transNum", tx.TransNum)
			return domain.Transaction{}, ErrDuplicate
		}
		return domain.Transaction{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	return tx, nil
}

// GetByID возвращает транзакцию по ID
func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	tx, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}

	return tx, nil
}

// GetByTransNum возвращает транзакцию по ключу идемпотентности
func (r *PostgresTransactionRepository) GetByTransNum(ctx context.Context, transNum string) (domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE trans_num = $1`

	tx, err := scanTransaction(r.db.QueryRow(ctx, query, transNum))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("failed to get transaction by trans_num: %w", err)
	}

	return tx, nil
}

// List возвращает транзакции по фильтру с пагинацией
func (r *PostgresTransactionRepository) List(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error) {
	var conditions []string
	var args []any

	addCondition := func(expr string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(expr, len(args)))
	}

	if filter.UserID != nil {
		addCondition("user_id = $%d", *filter.UserID)
	}
	if filter.ProductID != "" {
		addCondition("product_id = $%d", filter.ProductID)
	}
	if filter.SubscriptionID != nil {
		addCondition("subscription_id = $%d", *filter.SubscriptionID)
	}
	if filter.Status != "" {
		addCondition("status = $%d", filter.Status)
	}
	if filter.Type != "" {
		addCondition("type = $%d", filter.Type)
	}
	if filter.GatewayID != "" {
		addCondition("gateway_id = $%d", filter.GatewayID)
	}
	if filter.From != nil {
		addCondition("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		addCondition("created_at <= $%d", *filter.To)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	return collectTransactions(rows)
}

// UpdateStatus меняет статус транзакции
func (r *PostgresTransactionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus) (domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET status = $1, updated_at = $2
		WHERE id = $3
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRow(ctx, query, status, time.Now(), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("failed to update transaction status: %w", err)
	}

	return tx, nil
}
