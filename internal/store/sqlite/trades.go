package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trading-systemv1/internal/model"
)

// TradeRepo implements model.TradeRepo (C9/C10).
type TradeRepo struct{ db *sql.DB }

func (r *TradeRepo) Create(ctx context.Context, t model.Trade) (model.Trade, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO trades (
			confluence_state_id, direction, entry_price, entry_at, size_base, size_quote,
			stop_price, stop_source, take_profit, rr_ratio, entry_order_id, stop_order_id,
			tp_order_id, status, trailing_activated, ai_confidence, ai_reasoning, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
	`,
		t.ConfluenceStateID, string(t.Direction), t.EntryPrice, t.EntryAt.UTC().Unix(),
		t.SizeBase, t.SizeQuote, t.StopPrice, string(t.StopSource), t.TakeProfit, t.RRRatio,
		t.EntryOrderID, t.StopOrderID, t.TPOrderID, string(model.TradeOpen),
		t.AIConfidence, t.AIReasoning, now.Unix(), now.Unix())
	if err != nil {
		return model.Trade{}, classifyWriteErr("sqlite.create_trade", fmt.Errorf("sqlite create trade: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Trade{}, fmt.Errorf("sqlite trade last insert id: %w", err)
	}
	t.ID = id
	t.Status = model.TradeOpen
	return t, nil
}

func (r *TradeRepo) ByID(ctx context.Context, id int64) (*model.Trade, error) {
	row := r.db.QueryRowContext(ctx, tradeSelect+` WHERE id = ?`, id)
	return scanTrade(row)
}

func (r *TradeRepo) Open(ctx context.Context) ([]model.Trade, error) {
	rows, err := r.db.QueryContext(ctx, tradeSelect+` WHERE status = ? ORDER BY id ASC`, string(model.TradeOpen))
	if err != nil {
		return nil, fmt.Errorf("sqlite query open trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// Close performs the conditional OPEN->CLOSED update exactly once: the WHERE
// clause on status guards against a second monitor tick racing an already
// processed fill (§5).
func (r *TradeRepo) Close(ctx context.Context, id int64, exitPrice float64, exitAt time.Time, outcome model.Outcome, pnlQuote, pnlPercent float64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE trades SET
			status = ?, outcome = ?, exit_price = ?, exit_at = ?, pnl_quote = ?, pnl_percent = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(model.TradeClosed), string(outcome), exitPrice, exitAt.UTC().Unix(), pnlQuote, pnlPercent,
		time.Now().UTC().Unix(), id, string(model.TradeOpen))
	if err != nil {
		return false, fmt.Errorf("sqlite close trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite close trade rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *TradeRepo) UpdateUnrealized(ctx context.Context, id int64, pnlPercent float64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE trades SET pnl_percent = ?, updated_at = ? WHERE id = ?`,
		pnlPercent, time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("sqlite update unrealized: %w", err)
	}
	return nil
}

func (r *TradeRepo) ActivateTrailing(ctx context.Context, id int64, newStopOrderID string, trailingPrice float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE trades SET trailing_activated = 1, stop_order_id = ?, trailing_price = ?, updated_at = ?
		WHERE id = ?
	`, newStopOrderID, trailingPrice, time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("sqlite activate trailing: %w", err)
	}
	return nil
}

// ReinstateStop records the order ID of a replacement stop placed at the
// original stop price after a failed trailing promotion. Unlike
// ActivateTrailing this leaves trailing_activated and trailing_price
// untouched — the trade's stop level itself never moved.
func (r *TradeRepo) ReinstateStop(ctx context.Context, id int64, stopOrderID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE trades SET stop_order_id = ?, updated_at = ? WHERE id = ?`,
		stopOrderID, time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("sqlite reinstate stop: %w", err)
	}
	return nil
}

// ConsecutiveLosses walks closed trades most-recent-first and counts the run
// of LOSS outcomes terminated by the first non-loss, feeding the circuit
// breaker in the risk gate (C7).
func (r *TradeRepo) ConsecutiveLosses(ctx context.Context) (int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT outcome FROM trades WHERE status = ? ORDER BY id DESC
	`, string(model.TradeClosed))
	if err != nil {
		return 0, fmt.Errorf("sqlite consecutive losses: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var outcome sql.NullString
		if err := rows.Scan(&outcome); err != nil {
			return 0, fmt.Errorf("sqlite scan outcome: %w", err)
		}
		if !outcome.Valid || model.Outcome(outcome.String) != model.OutcomeLoss {
			break
		}
		count++
	}
	return count, rows.Err()
}

func (r *TradeRepo) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(pnl_quote) FROM trades WHERE status = ? AND exit_at >= ?
	`, string(model.TradeClosed), since.UTC().Unix()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sqlite realized pnl: %w", err)
	}
	return total.Float64, nil
}

const tradeCols = `id, confluence_state_id, direction, entry_price, entry_at, size_base, size_quote,
	stop_price, stop_source, take_profit, rr_ratio, entry_order_id, stop_order_id, tp_order_id,
	status, outcome, exit_price, exit_at, pnl_quote, pnl_percent, trailing_activated, trailing_price,
	ai_confidence, ai_reasoning`
const tradeSelect = `SELECT ` + tradeCols + ` FROM trades`

func scanTrade(row *sql.Row) (*model.Trade, error) {
	t, err := scanTradeRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite scan trade: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTradeRow(row rowScanner) (*model.Trade, error) {
	var t model.Trade
	var direction, stopSource, status string
	var outcome sql.NullString
	var entryAtUnix int64
	var exitAtUnix sql.NullInt64
	var exitPrice, pnlQuote, pnlPercent, trailingPrice sql.NullFloat64
	var trailingActivated int

	if err := row.Scan(
		&t.ID, &t.ConfluenceStateID, &direction, &t.EntryPrice, &entryAtUnix, &t.SizeBase, &t.SizeQuote,
		&t.StopPrice, &stopSource, &t.TakeProfit, &t.RRRatio, &t.EntryOrderID, &t.StopOrderID, &t.TPOrderID,
		&status, &outcome, &exitPrice, &exitAtUnix, &pnlQuote, &pnlPercent, &trailingActivated, &trailingPrice,
		&t.AIConfidence, &t.AIReasoning,
	); err != nil {
		return nil, err
	}

	t.Direction = model.Direction(direction)
	t.StopSource = model.StopSource(stopSource)
	t.Status = model.TradeStatus(status)
	t.EntryAt = time.Unix(entryAtUnix, 0).UTC()
	t.TrailingActivated = trailingActivated != 0

	if outcome.Valid {
		o := model.Outcome(outcome.String)
		t.Outcome = &o
	}
	t.ExitPrice = floatPtr(exitPrice)
	t.ExitAt = unixPtr(exitAtUnix)
	t.PnLQuote = floatPtr(pnlQuote)
	t.PnLPercent = floatPtr(pnlPercent)
	t.TrailingPrice = floatPtr(trailingPrice)
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]model.Trade, error) {
	var out []model.Trade
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan trade row: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
