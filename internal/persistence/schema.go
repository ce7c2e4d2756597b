package persistence

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bot_configs (
	bot_id            TEXT PRIMARY KEY,
	mode              TEXT NOT NULL,
	symbol            TEXT,
	leverage          INTEGER NOT NULL,
	percent           DOUBLE PRECISION NOT NULL,
	tp                DOUBLE PRECISION NOT NULL,
	sl                DOUBLE PRECISION NOT NULL DEFAULT 0,
	roi_trigger       DOUBLE PRECISION NOT NULL DEFAULT 0,
	pyramiding_n      INTEGER NOT NULL DEFAULT 0,
	pyramiding_x      DOUBLE PRECISION NOT NULL DEFAULT 0,
	dynamic_strategy  TEXT,
	static_entry_mode TEXT,
	reverse_on_stop   BOOLEAN NOT NULL DEFAULT false,
	api_key           TEXT NOT NULL,
	api_secret        TEXT NOT NULL,
	status            TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	deleted_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS bot_positions (
	bot_id           TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	entry_price      DOUBLE PRECISION NOT NULL,
	quantity         DOUBLE PRECISION NOT NULL,
	current_price    DOUBLE PRECISION NOT NULL DEFAULT 0,
	roi              DOUBLE PRECISION NOT NULL DEFAULT 0,
	tp_price         DOUBLE PRECISION NOT NULL DEFAULT 0,
	sl_price         DOUBLE PRECISION NOT NULL DEFAULT 0,
	pyramiding_count INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	opened_at        TIMESTAMPTZ NOT NULL,
	closed_at        TIMESTAMPTZ,
	last_update      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (bot_id, symbol)
);

CREATE TABLE IF NOT EXISTS trade_history (
	id         BIGSERIAL PRIMARY KEY,
	bot_id     TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	quantity   DOUBLE PRECISION NOT NULL,
	pnl        DOUBLE PRECISION,
	roi        DOUBLE PRECISION,
	reason     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trade_history_created_at_idx ON trade_history (created_at);

CREATE TABLE IF NOT EXISTS bot_statistics (
	bot_id         TEXT PRIMARY KEY,
	total_trades   INTEGER NOT NULL DEFAULT 0,
	winning_trades INTEGER NOT NULL DEFAULT 0,
	losing_trades  INTEGER NOT NULL DEFAULT 0,
	total_pnl      DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_drawdown   DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS coin_blacklist (
	symbol TEXT PRIMARY KEY,
	reason TEXT NOT NULL DEFAULT ''
);
`

// Migrate creates every table the Store needs if absent. Safe to call on
// every startup.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}
