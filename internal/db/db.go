package db

import (
	"context"
	"fmt"

	"github.com/Dhoini/Billing-engine/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Client держит подключения к Postgres: пул pgx для журналов и
// sqlx поверх stdlib-драйвера для настроек шлюзов
type Client struct {
	Pool *pgxpool.Pool
	SQLX *sqlx.DB
	log  *logger.Logger
}

// NewClient подключается к базе и проверяет соединение
func NewClient(ctx context.Context, dsn string, log *logger.Logger) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlxDB, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect via sqlx: %w", err)
	}

	log.Infow("Connected to database")
	return &Client{Pool: pool, SQLX: sqlxDB, log: log}, nil
}

// EnsureSchema создает таблицы биллинга, если их еще нет. Идемпотентно,
// выполняется при каждом старте.
func (c *Client) EnsureSchema(ctx context.Context) error {
	_, err := c.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS subscriptions (
			id              UUID PRIMARY KEY,
			user_id         UUID NOT NULL,
			product_id      TEXT NOT NULL,
			gateway_id      TEXT NOT NULL,
			status          TEXT NOT NULL,
			external_id     TEXT,
			period_count    INT NOT NULL DEFAULT 0,
			period_unit     TEXT NOT NULL DEFAULT 'month',
			price           NUMERIC(12,2) NOT NULL DEFAULT 0,
			tax_rate        NUMERIC(6,3) NOT NULL DEFAULT 0,
			tax_amount      NUMERIC(12,2) NOT NULL DEFAULT 0,
			total           NUMERIC(12,2) NOT NULL DEFAULT 0,
			trial           BOOLEAN NOT NULL DEFAULT FALSE,
			trial_days      INT NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at      TIMESTAMPTZ,
			next_payment_at TIMESTAMPTZ,
			last_payment_at TIMESTAMPTZ,
			cancelled_at    TIMESTAMPTZ,
			renewal_count   INT NOT NULL DEFAULT 0,
			failure_count   INT NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions (user_id);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions (status);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_next_payment
			ON subscriptions (gateway_id, next_payment_at) WHERE status = 'active';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_external
			ON subscriptions (external_id, gateway_id) WHERE external_id IS NOT NULL;

		CREATE TABLE IF NOT EXISTS transactions (
			id              UUID PRIMARY KEY,
			trans_num       TEXT NOT NULL,
			user_id         UUID NOT NULL,
			product_id      TEXT NOT NULL,
			subscription_id UUID,
			amount          NUMERIC(12,2) NOT NULL DEFAULT 0,
			tax_amount      NUMERIC(12,2) NOT NULL DEFAULT 0,
			total           NUMERIC(12,2) NOT NULL DEFAULT 0,
			status          TEXT NOT NULL,
			type            TEXT NOT NULL,
			gateway_id      TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_trans_num ON transactions (trans_num);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions (user_id);
		CREATE INDEX IF NOT EXISTS idx_transactions_subscription_id
			ON transactions (subscription_id) WHERE subscription_id IS NOT NULL;

		CREATE TABLE IF NOT EXISTS subscription_reminders (
			subscription_id UUID NOT NULL,
			lead_days       INT NOT NULL,
			due_date        DATE NOT NULL,
			sent_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (subscription_id, lead_days, due_date)
		);

		CREATE TABLE IF NOT EXISTS gateway_settings (
			gateway_id TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (gateway_id, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	c.log.Debugw("Database schema is up to date")
	return nil
}

// Close закрывает оба подключения
func (c *Client) Close() error {
	c.Pool.Close()
	if err := c.SQLX.Close(); err != nil {
		c.log.Errorw("Failed to close sqlx connection", "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}
