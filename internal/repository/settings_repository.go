package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Dhoini/Billing-engine/pkg/logger"
)

// settingRow строка настроек шлюза
type settingRow struct {
	GatewayID string    `db:"gateway_id"`
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SqlxGatewaySettingsRepository хранилище настроек шлюзов:
// мешок ключ/значение на каждый шлюз
type SqlxGatewaySettingsRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewSqlxGatewaySettingsRepository создает новый репозиторий настроек шлюзов
func NewSqlxGatewaySettingsRepository(db *sqlx.DB, log *logger.Logger) *SqlxGatewaySettingsRepository {
	return &SqlxGatewaySettingsRepository{
		db:  db,
		log: log,
	}
}

// Load загружает настройки шлюза
func (r *SqlxGatewaySettingsRepository) Load(ctx context.Context, gatewayID string) (map[string]string, error) {
	var rows []settingRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT gateway_id, key, value, updated_at FROM gateway_settings WHERE gateway_id = $1`,
		gatewayID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load gateway settings: %w", err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}

	return values, nil
}

// Save сохраняет настройки шлюза. Каждый ключ апсертится отдельной
// строкой в рамках одной транзакции.
func (r *SqlxGatewaySettingsRepository) Save(ctx context.Context, gatewayID string, values map[string]string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin settings transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO gateway_settings (gateway_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (gateway_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, query, gatewayID, key, value, now); err != nil {
			return fmt.Errorf("failed to save gateway setting %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit gateway settings: %w", err)
	}

	r.log.Debugw("Gateway settings saved", "gatewayID", gatewayID, "keys", len(values))
	return nil
}
