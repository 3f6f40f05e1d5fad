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

const subscriptionColumns = `
	id, user_id, product_id, gateway_id, status, external_id,
	period_count, period_unit, price, tax_rate, tax_amount, total,
	trial, trial_days, created_at, expires_at, next_payment_at,
	last_payment_at, cancelled_at, renewal_count, failure_count, updated_at`

// PostgresSubscriptionRepository реализация репозитория подписок через PostgreSQL
type PostgresSubscriptionRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый репозиторий подписок через PostgreSQL
func NewPostgresSubscriptionRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{
		db:  db,
		log: log,
	}
}

// rowScanner общий интерфейс pgx.Row и pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSubscription читает одну строку подписки
func scanSubscription(row rowScanner) (domain.Subscription, error) {
	var sub domain.Subscription
	var externalID *string
	var periodUnit string

	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.ProductID,
		&sub.GatewayID,
		&sub.Status,
		&externalID,
		&sub.Period.Count,
		&periodUnit,
		&sub.Price,
		&sub.TaxRate,
		&sub.TaxAmount,
		&sub.Total,
		&sub.Trial,
		&sub.TrialDays,
		&sub.CreatedAt,
		&sub.ExpiresAt,
		&sub.NextPaymentAt,
		&sub.LastPaymentAt,
		&sub.CancelledAt,
		&sub.RenewalCount,
		&sub.FailureCount,
		&sub.UpdatedAt,
	)
	if err != nil {
		return domain.Subscription{}, err
	}

	if externalID != nil {
		sub.ExternalID = *externalID
	}
	sub.Period.Unit = domain.PeriodUnit(periodUnit)

	return sub, nil
}

// collectSubscriptions читает все строки выборки
func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}

	return subs, nil
}

// nullableExternalID пустая строка хранится как NULL, иначе ломается
// частичный уникальный индекс по (external_id, gateway_id)
func nullableExternalID(externalID string) *string {
	if externalID == "" {
		return nil
	}
	return &externalID
}

// Create создает новую подписку в базе данных
func (r *PostgresSubscriptionRepository) Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	query := `
		INSERT INTO subscriptions (
			id, user_id, product_id, gateway_id, status, external_id,
			period_count, period_unit, price, tax_rate, tax_amount, total,
			trial, trial_days, created_at, expires_at, next_payment_at,
			last_payment_at, cancelled_at, renewal_count, failure_count, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
		RETURNING id, created_at, updated_at
	`

	now := time.Now()

	err := r.db.QueryRow(
		ctx,
		query,
		sub.ID,
		sub.UserID,
		sub.ProductID,
		sub.GatewayID,
		sub.Status,
		nullableExternalID(sub.ExternalID),
		sub.Period.Count,
		string(sub.Period.Unit),
		sub.Price,
		sub.TaxRate,
		sub.TaxAmount,
		sub.Total,
		sub.Trial,
		sub.TrialDays,
		now,
		sub.ExpiresAt,
		sub.NextPaymentAt,
		sub.LastPaymentAt,
		sub.CancelledAt,
		sub.RenewalCount,
		sub.FailureCount,
		now,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Уникальный индекс по (external_id, gateway_id): пара уже существует
			return domain.Subscription{}, ErrDuplicate
		}
		return domain.Subscription{}, fmt.Errorf("failed to create subscription: %w", err)
	}

	return sub, nil
}

// GetByID возвращает подписку по ID из базы данных
func (r *PostgresSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// GetByExternalID возвращает подписку по внешнему ID и шлюзу
func (r *PostgresSubscriptionRepository) GetByExternalID(ctx context.Context, externalID, gatewayID string) (domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE external_id = $1 AND gateway_id = $2`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, externalID, gatewayID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("failed to get subscription by external id: %w", err)
	}

	return sub, nil
}

// List возвращает подписки по фильтру с пагинацией
func (r *PostgresSubscriptionRepository) List(ctx context.Context, filter SubscriptionFilter) ([]domain.Subscription, error) {
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
	if filter.Status != "" {
		addCondition("status = $%d", filter.Status)
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

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
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
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}

	return collectSubscriptions(rows)
}

// ListActiveByUser возвращает активные подписки пользователя
func (r *PostgresSubscriptionRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID, domain.SubscriptionStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query active subscriptions: %w", err)
	}

	return collectSubscriptions(rows)
}

// Update обновляет подписку целиком
func (r *PostgresSubscriptionRepository) Update(ctx context.Context, sub domain.Subscription) error {
	query := `
		UPDATE subscriptions
		SET
			status = $1,
			external_id = $2,
			expires_at = $3,
			next_payment_at = $4,
			last_payment_at = $5,
			cancelled_at = $6,
			renewal_count = $7,
			failure_count = $8,
			updated_at = $9
		WHERE id = $10
	`

	result, err := r.db.Exec(
		ctx,
		query,
		sub.Status,
		nullableExternalID(sub.ExternalID),
		sub.ExpiresAt,
		sub.NextPaymentAt,
		sub.LastPaymentAt,
		sub.CancelledAt,
		sub.RenewalCount,
		sub.FailureCount,
		time.Now(),
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateStatusIf атомарно меняет статус при совпадении ожидаемого
func (r *PostgresSubscriptionRepository) UpdateStatusIf(ctx context.Context, id uuid.UUID, expected, next domain.SubscriptionStatus, at time.Time) (bool, error) {
	query := `
		UPDATE subscriptions
		SET
			status = $1,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN $2 ELSE cancelled_at END,
			updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.Exec(ctx, query, next, at, id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription status: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// MarkRenewed атомарно продлевает подписку (compare-and-set по якорю)
func (r *PostgresSubscriptionRepository) MarkRenewed(ctx context.Context, id uuid.UUID, expectedNext, next, paidAt time.Time) (domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET
			next_payment_at = $1,
			expires_at = $1,
			last_payment_at = $2,
			renewal_count = renewal_count + 1,
			failure_count = 0,
			updated_at = $2
		WHERE id = $3 AND status = 'active' AND next_payment_at = $4
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, next, paidAt, id, expectedNext))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Либо кто-то уже продлил, либо подписка не активна
			return domain.Subscription{}, ErrStaleUpdate
		}
		return domain.Subscription{}, fmt.Errorf("failed to mark subscription renewed: %w", err)
	}

	return sub, nil
}

// IncrementFailureCount увеличивает счетчик неудачных продлений
func (r *PostgresSubscriptionRepository) IncrementFailureCount(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE subscriptions
		SET failure_count = failure_count + 1, updated_at = $1
		WHERE id = $2
		RETURNING failure_count
	`

	var count int
	err := r.db.QueryRow(ctx, query, time.Now(), id).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment failure count: %w", err)
	}

	return count, nil
}

// FindDueForRenewal возвращает активные подписки шлюза с наступившим сроком платежа
func (r *PostgresSubscriptionRepository) FindDueForRenewal(ctx context.Context, gatewayID string, now time.Time) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE gateway_id = $1 AND status = 'active' AND next_payment_at IS NOT NULL AND next_payment_at <= $2
		ORDER BY next_payment_at ASC`

	rows, err := r.db.Query(ctx, query, gatewayID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due subscriptions: %w", err)
	}

	return collectSubscriptions(rows)
}

// FindExpired возвращает активные подписки с истекшим expires_at
func (r *PostgresSubscriptionRepository) FindExpired(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired subscriptions: %w", err)
	}

	return collectSubscriptions(rows)
}

// FindDueOn возвращает активные подписки с платежом ровно в указанную дату
func (r *PostgresSubscriptionRepository) FindDueOn(ctx context.Context, date time.Time) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'active' AND next_payment_at IS NOT NULL AND next_payment_at::date = $1::date
		ORDER BY next_payment_at ASC`

	rows, err := r.db.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions due on date: %w", err)
	}

	return collectSubscriptions(rows)
}

// CountByStatus возвращает количество подписок в разрезе статусов
func (r *PostgresSubscriptionRepository) CountByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SubscriptionStatus]int)
	for rows.Next() {
		var status domain.SubscriptionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan subscription status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
