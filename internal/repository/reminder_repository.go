package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
)

// PostgresReminderRepository маркеры отправленных напоминаний в PostgreSQL.
// Уникальный индекс по (subscription_id, lead_days, due_date) защищает
// от двойной отправки при перекрытии запусков планировщика.
type PostgresReminderRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresReminderRepository создает новый репозиторий маркеров напоминаний
func NewPostgresReminderRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresReminderRepository {
	return &PostgresReminderRepository{
		db:  db,
		log: log,
	}
}

// Exists проверяет, отправлялось ли уже это напоминание
func (r *PostgresReminderRepository) Exists(ctx context.Context, subscriptionID uuid.UUID, leadDays int, dueDate time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM subscription_reminders
			WHERE subscription_id = $1 AND lead_days = $2 AND due_date = $3::date
		)
	`

	var exists bool
	err := r.db.QueryRow(ctx, query, subscriptionID, leadDays, dueDate).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check reminder marker: %w", err)
	}

	return exists, nil
}

// Record фиксирует отправку напоминания
func (r *PostgresReminderRepository) Record(ctx context.Context, subscriptionID uuid.UUID, leadDays int, dueDate time.Time) error {
	query := `
		INSERT INTO subscription_reminders (subscription_id, lead_days, due_date, sent_at)
		VALUES ($1, $2, $3::date, $4)
	`

	_, err := r.db.Exec(ctx, query, subscriptionID, leadDays, dueDate, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to record reminder marker: %w", err)
	}

	return nil
}
