package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema - таблицы для STATE_BACKEND=postgres
const schema = `
CREATE TABLE IF NOT EXISTS trading_state (
	id                   INTEGER PRIMARY KEY,
	initial_balance      DOUBLE PRECISION,
	last_balance         DOUBLE PRECISION,
	current_stake        DOUBLE PRECISION NOT NULL,
	last_result          VARCHAR(8) NOT NULL DEFAULT 'N/A',
	virtual_loss_counter INTEGER NOT NULL DEFAULT 0,
	loss_streak          INTEGER NOT NULL DEFAULT 0,
	trade_count          INTEGER NOT NULL DEFAULT 0,
	wins                 INTEGER NOT NULL DEFAULT 0,
	losses               INTEGER NOT NULL DEFAULT 0,
	realized_profit      DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_trade_time      TIMESTAMPTZ,
	last_price           DOUBLE PRECISION,
	last_digit           INTEGER NOT NULL DEFAULT 0,
	updated_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id           SERIAL PRIMARY KEY,
	contract_id  BIGINT NOT NULL,
	symbol       VARCHAR(32) NOT NULL,
	stake        DOUBLE PRECISION NOT NULL,
	barrier      INTEGER NOT NULL,
	buy_price    DOUBLE PRECISION NOT NULL,
	sell_price   DOUBLE PRECISION NOT NULL,
	profit       DOUBLE PRECISION NOT NULL,
	result       VARCHAR(8) NOT NULL,
	purchased_at TIMESTAMPTZ NOT NULL,
	settled_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_settled_at ON trades (settled_at DESC);
`

// Migrate создаёт таблицы, если их ещё нет
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
