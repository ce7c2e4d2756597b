// Package persistence is the Persistence Store: durable bot configuration,
// open positions, trade history, rollup statistics, and the coin
// blacklist, backed by PostgreSQL via pgx's pool.
package persistence

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ducminhle1904/fleet-bot/internal/errors"
	"github.com/ducminhle1904/fleet-bot/internal/model"
)

const defaultMaxConns = 20

// Store wraps a bounded pgx connection pool. Every operation acquires and
// releases its own connection; on failure the caller's in-memory state is
// left untouched.
type Store struct {
	pool *pgxpool.Pool
}

// Open builds a pool bounded to defaultMaxConns, so the whole fleet shares
// a fixed set of connections.
func Open(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(errors.CategoryFatal, "persistence", "parse-config", err, false)
	}
	cfg.MaxConns = defaultMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(errors.CategoryPersistence, "persistence", "open", err, true)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// UpsertBotConfig inserts or updates a bot's configuration by bot_id.
func (s *Store) UpsertBotConfig(ctx context.Context, c *model.BotConfig) error {
	const q = `
INSERT INTO bot_configs (
	bot_id, mode, symbol, leverage, percent, tp, sl, roi_trigger,
	pyramiding_n, pyramiding_x, dynamic_strategy, static_entry_mode,
	reverse_on_stop, api_key, api_secret, status, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
)
ON CONFLICT (bot_id) DO UPDATE SET
	mode = EXCLUDED.mode, symbol = EXCLUDED.symbol, leverage = EXCLUDED.leverage,
	percent = EXCLUDED.percent, tp = EXCLUDED.tp, sl = EXCLUDED.sl,
	roi_trigger = EXCLUDED.roi_trigger, pyramiding_n = EXCLUDED.pyramiding_n,
	pyramiding_x = EXCLUDED.pyramiding_x, dynamic_strategy = EXCLUDED.dynamic_strategy,
	static_entry_mode = EXCLUDED.static_entry_mode, reverse_on_stop = EXCLUDED.reverse_on_stop,
	api_key = EXCLUDED.api_key, api_secret = EXCLUDED.api_secret,
	status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.pool.Exec(ctx, q,
		c.BotID, c.Mode, nullableString(c.Symbol), c.Leverage, c.Percent, c.TP, c.SL, c.ROITrigger,
		c.PyramidingN, c.PyramidingX, nullableString(string(c.DynamicStrategy)), nullableString(string(c.StaticEntryMode)),
		c.ReverseOnStop, c.Credentials.APIKey, c.Credentials.APISecret, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "upsert-bot-config", err, true)
	}
	return nil
}

// GetBotConfig fetches one non-deleted bot config by id.
func (s *Store) GetBotConfig(ctx context.Context, botID string) (*model.BotConfig, error) {
	const q = `
SELECT bot_id, mode, COALESCE(symbol, ''), leverage, percent, tp, sl, roi_trigger,
	pyramiding_n, pyramiding_x, COALESCE(dynamic_strategy, ''), COALESCE(static_entry_mode, ''),
	reverse_on_stop, api_key, api_secret, status, created_at, updated_at, deleted_at
FROM bot_configs WHERE bot_id = $1`

	row := s.pool.QueryRow(ctx, q, botID)
	c, err := scanBotConfig(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.New(errors.CategoryValidation, "persistence", "get-bot-config", "bot not found: "+botID, false)
		}
		return nil, errors.Wrap(errors.CategoryPersistence, "persistence", "get-bot-config", err, true)
	}
	return c, nil
}

// ListBots returns every config, optionally filtered by status.
func (s *Store) ListBots(ctx context.Context, status model.BotStatus) ([]*model.BotConfig, error) {
	q := `
SELECT bot_id, mode, COALESCE(symbol, ''), leverage, percent, tp, sl, roi_trigger,
	pyramiding_n, pyramiding_x, COALESCE(dynamic_strategy, ''), COALESCE(static_entry_mode, ''),
	reverse_on_stop, api_key, api_secret, status, created_at, updated_at, deleted_at
FROM bot_configs WHERE deleted_at IS NULL`
	args := []interface{}{}
	if status != "" {
		q += " AND status = $1"
		args = append(args, status)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(errors.CategoryPersistence, "persistence", "list-bots", err, true)
	}
	defer rows.Close()

	var out []*model.BotConfig
	for rows.Next() {
		c, err := scanBotConfig(rows)
		if err != nil {
			return nil, errors.Wrap(errors.CategoryPersistence, "persistence", "list-bots", err, true)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBotConfig(row rowScanner) (*model.BotConfig, error) {
	c := &model.BotConfig{}
	var dynStrategy, entryMode string
	err := row.Scan(
		&c.BotID, &c.Mode, &c.Symbol, &c.Leverage, &c.Percent, &c.TP, &c.SL, &c.ROITrigger,
		&c.PyramidingN, &c.PyramidingX, &dynStrategy, &entryMode,
		&c.ReverseOnStop, &c.Credentials.APIKey, &c.Credentials.APISecret, &c.Status,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	c.DynamicStrategy = model.DynamicStrategy(dynStrategy)
	c.StaticEntryMode = model.StaticEntryMode(entryMode)
	return c, nil
}

// SetBotStatus updates lifecycle status; a stop with soft-delete also stamps
// deleted_at.
func (s *Store) SetBotStatus(ctx context.Context, botID string, status model.BotStatus, softDelete bool) error {
	q := `UPDATE bot_configs SET status = $2, updated_at = $3 WHERE bot_id = $1`
	args := []interface{}{botID, status, time.Now()}
	if softDelete {
		q = `UPDATE bot_configs SET status = $2, updated_at = $3, deleted_at = $3 WHERE bot_id = $1`
	}
	_, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "set-bot-status", err, true)
	}
	return nil
}

// UpsertOpenPosition inserts or updates the open row for (bot_id, symbol).
func (s *Store) UpsertOpenPosition(ctx context.Context, p *model.Position) error {
	const q = `
INSERT INTO bot_positions (
	bot_id, symbol, side, entry_price, quantity, current_price, roi,
	tp_price, sl_price, pyramiding_count, status, opened_at, last_update
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (bot_id, symbol) DO UPDATE SET
	side = EXCLUDED.side, entry_price = EXCLUDED.entry_price, quantity = EXCLUDED.quantity,
	current_price = EXCLUDED.current_price, roi = EXCLUDED.roi, tp_price = EXCLUDED.tp_price,
	sl_price = EXCLUDED.sl_price, pyramiding_count = EXCLUDED.pyramiding_count,
	status = EXCLUDED.status, last_update = EXCLUDED.last_update`

	p.LastUpdate = time.Now()
	if p.OpenedAt.IsZero() {
		p.OpenedAt = p.LastUpdate
	}
	_, err := s.pool.Exec(ctx, q,
		p.BotID, p.Symbol, p.Side, p.EntryPrice, p.Quantity, p.CurrentPrice, p.ROI,
		p.TPPrice, p.SLPrice, p.PyramidingCount, p.Status, p.OpenedAt, p.LastUpdate,
	)
	if err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "upsert-open-position", err, true)
	}
	return nil
}

// GetOpenPosition returns the open row for (bot_id, symbol), if any.
func (s *Store) GetOpenPosition(ctx context.Context, botID, symbol string) (*model.Position, error) {
	const q = `
SELECT bot_id, symbol, side, entry_price, quantity, current_price, roi,
	tp_price, sl_price, pyramiding_count, status, opened_at, closed_at, last_update
FROM bot_positions WHERE bot_id = $1 AND symbol = $2 AND status != 'closed'`

	row := s.pool.QueryRow(ctx, q, botID, symbol)
	p := &model.Position{}
	err := row.Scan(
		&p.BotID, &p.Symbol, &p.Side, &p.EntryPrice, &p.Quantity, &p.CurrentPrice, &p.ROI,
		&p.TPPrice, &p.SLPrice, &p.PyramidingCount, &p.Status, &p.OpenedAt, &p.ClosedAt, &p.LastUpdate,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(errors.CategoryPersistence, "persistence", "get-open-position", err, true)
	}
	return p, nil
}

// GetOpenPositionForBot returns the (at most one) open row owned by botID,
// regardless of symbol. Used at Bot Manager bootstrap to reattach a dynamic
// bot to whatever symbol it held before a crash, without the manager having
// to already know which symbol that was.
func (s *Store) GetOpenPositionForBot(ctx context.Context, botID string) (*model.Position, error) {
	const q = `
SELECT bot_id, symbol, side, entry_price, quantity, current_price, roi,
	tp_price, sl_price, pyramiding_count, status, opened_at, closed_at, last_update
FROM bot_positions WHERE bot_id = $1 AND status != 'closed' LIMIT 1`

	row := s.pool.QueryRow(ctx, q, botID)
	p := &model.Position{}
	err := row.Scan(
		&p.BotID, &p.Symbol, &p.Side, &p.EntryPrice, &p.Quantity, &p.CurrentPrice, &p.ROI,
		&p.TPPrice, &p.SLPrice, &p.PyramidingCount, &p.Status, &p.OpenedAt, &p.ClosedAt, &p.LastUpdate,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(errors.CategoryPersistence, "persistence", "get-open-position-for-bot", err, true)
	}
	return p, nil
}

// ClosePosition flips status to closed and stamps closed_at. Callers must
// pair this with AppendTrade and BumpStatistics in the same close.
func (s *Store) ClosePosition(ctx context.Context, botID, symbol string) error {
	const q = `UPDATE bot_positions SET status = 'closed', closed_at = $3, last_update = $3
WHERE bot_id = $1 AND symbol = $2 AND status != 'closed'`
	_, err := s.pool.Exec(ctx, q, botID, symbol, time.Now())
	if err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "close-position", err, true)
	}
	return nil
}

// AppendTrade writes one audit row for a fill.
func (s *Store) AppendTrade(ctx context.Context, t *model.TradeEvent) error {
	const q = `
INSERT INTO trade_history (bot_id, symbol, side, price, quantity, pnl, roi, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, q, t.BotID, t.Symbol, t.Side, t.Price, t.Quantity, t.PnL, t.ROI, t.Reason, t.CreatedAt)
	if err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "append-trade", err, true)
	}
	return nil
}

// BumpStatistics updates the bot's rollup row for one closed trade.
func (s *Store) BumpStatistics(ctx context.Context, botID string, pnl float64) error {
	isWin := pnl > 0
	const q = `
INSERT INTO bot_statistics (bot_id, total_trades, winning_trades, losing_trades, total_pnl, max_drawdown)
VALUES ($1, 1, $2, $3, $4, LEAST(0, $4))
ON CONFLICT (bot_id) DO UPDATE SET
	total_trades = bot_statistics.total_trades + 1,
	winning_trades = bot_statistics.winning_trades + $2,
	losing_trades = bot_statistics.losing_trades + $3,
	total_pnl = bot_statistics.total_pnl + $4,
	max_drawdown = LEAST(bot_statistics.max_drawdown, bot_statistics.total_pnl + $4)`

	win, lose := 0, 0
	if isWin {
		win = 1
	} else {
		lose = 1
	}
	_, err := s.pool.Exec(ctx, q, botID, win, lose, pnl)
	if err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "bump-statistics", err, true)
	}
	return nil
}

// CloseAndRecord performs ClosePosition, AppendTrade, and BumpStatistics as
// one transaction, so a close is either fully recorded or not at all.
func (s *Store) CloseAndRecord(ctx context.Context, botID, symbol string, trade *model.TradeEvent, pnl float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "close-and-record", err, true)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE bot_positions SET status = 'closed', closed_at = $3, last_update = $3
WHERE bot_id = $1 AND symbol = $2 AND status != 'closed'`, botID, symbol, time.Now()); err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "close-and-record", err, true)
	}

	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now()
	}
	if _, err := tx.Exec(ctx, `INSERT INTO trade_history (bot_id, symbol, side, price, quantity, pnl, roi, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		trade.BotID, trade.Symbol, trade.Side, trade.Price, trade.Quantity, trade.PnL, trade.ROI, trade.Reason, trade.CreatedAt); err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "close-and-record", err, true)
	}

	win, lose := 0, 0
	if pnl > 0 {
		win = 1
	} else {
		lose = 1
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO bot_statistics (bot_id, total_trades, winning_trades, losing_trades, total_pnl, max_drawdown)
VALUES ($1, 1, $2, $3, $4, LEAST(0, $4))
ON CONFLICT (bot_id) DO UPDATE SET
	total_trades = bot_statistics.total_trades + 1,
	winning_trades = bot_statistics.winning_trades + $2,
	losing_trades = bot_statistics.losing_trades + $3,
	total_pnl = bot_statistics.total_pnl + $4,
	max_drawdown = LEAST(bot_statistics.max_drawdown, bot_statistics.total_pnl + $4)`,
		botID, win, lose, pnl); err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "close-and-record", err, true)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "close-and-record", err, true)
	}
	return nil
}

// DeleteOpenPosition removes the open-position row for (bot_id, symbol),
// used when a bot operator-stops a symbol, after any open position on it
// has been closed via the market.
func (s *Store) DeleteOpenPosition(ctx context.Context, botID, symbol string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM bot_positions WHERE bot_id = $1 AND symbol = $2 AND status != 'closed'`, botID, symbol)
	if err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "delete-open-position", err, true)
	}
	return nil
}

// HasOpenPositionAnyBot implements half of the pre-entry guard: true iff
// *any* bot currently holds an open position on symbol, not just the
// caller.
func (s *Store) HasOpenPositionAnyBot(ctx context.Context, symbol string) (bool, error) {
	const q = `SELECT 1 FROM bot_positions WHERE symbol = $1 AND status != 'closed' LIMIT 1`
	var dummy int
	err := s.pool.QueryRow(ctx, q, symbol).Scan(&dummy)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.CategoryPersistence, "persistence", "has-open-position-any-bot", err, true)
	}
	return true, nil
}

// IsBlacklisted implements exchange.BlacklistSource against coin_blacklist.
func (s *Store) IsBlacklisted(ctx context.Context, symbol string) (bool, error) {
	const q = `SELECT 1 FROM coin_blacklist WHERE symbol = $1`
	var dummy int
	err := s.pool.QueryRow(ctx, q, symbol).Scan(&dummy)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.CategoryPersistence, "persistence", "is-blacklisted", err, true)
	}
	return true, nil
}

// RunHousekeeping deletes closed positions older than 7 days and trade rows
// older than 30 days, invoked on a 6-hour ticker by the caller.
func (s *Store) RunHousekeeping(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM bot_positions WHERE status = 'closed' AND closed_at < $1`, time.Now().Add(-7*24*time.Hour)); err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "housekeeping-positions", err, true)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM trade_history WHERE created_at < $1`, time.Now().Add(-30*24*time.Hour)); err != nil {
		return errors.Wrap(errors.CategoryPersistence, "persistence", "housekeeping-trades", err, true)
	}
	return nil
}

// RunHousekeepingLoop ticks RunHousekeeping every 6 hours until ctx is done.
func (s *Store) RunHousekeepingLoop(ctx context.Context, onError func(error)) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunHousekeeping(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
