package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates pool.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	phone VARCHAR(20) NOT NULL UNIQUE,
	name VARCHAR(100),
	email VARCHAR(150),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_sessions (
	id UUID PRIMARY KEY,
	phone VARCHAR(20),
	fare_id TEXT NOT NULL,
	success_url TEXT NOT NULL,
	fail_url TEXT NOT NULL,
	checkout_id TEXT,
	merchant_transaction_id TEXT,
	state TEXT NOT NULL,
	status_label TEXT,
	result_code TEXT,
	qr_payload TEXT,
	raw_response_json JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS payment_sessions_checkout_id_idx ON payment_sessions (checkout_id);
CREATE INDEX IF NOT EXISTS payment_sessions_merchant_tx_idx ON payment_sessions (merchant_transaction_id);
CREATE INDEX IF NOT EXISTS payment_sessions_state_updated_idx ON payment_sessions (state, updated_at);
`

// EnsureSchema creates the tables the service needs when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
