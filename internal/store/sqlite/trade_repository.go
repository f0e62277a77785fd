package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinrebalancer/engine/internal/domain"
)

// tradesColumns keeps a named columns list to avoid SELECT * breaking
// silently on schema drift.
const tradesColumns = `id, bot_id, trade_id, from_coin, to_coin, from_amount, to_amount,
	from_price, to_price, status, commission_amount, commission_rate, executed_at, completed_at`

const tradeStepsColumns = `id, parent_trade_id, step_number, trade_id, from_coin, to_coin,
	from_amount, to_amount, from_price, to_price, commission_amount, commission_rate,
	status, executed_at, completed_at, raw_data`

// TradeRepository persists Trade and TradeStep rows. trade_id is
// deliberately not unique-constrained: a parent trade starts with a
// placeholder id and is overwritten with the joined step ids on
// completion.
type TradeRepository struct {
	db  *DB
	log zerolog.Logger
}

func NewTradeRepository(db *DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{db: db, log: log.With().Str("repo", "trade").Logger()}
}

func (r *TradeRepository) CreateTrade(ctx context.Context, t *domain.Trade) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO trades (bot_id, trade_id, from_coin, to_coin, from_amount, to_amount,
			from_price, to_price, status, commission_amount, commission_rate, executed_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.BotID, nullStringPtr(t.TradeID), t.FromCoin, t.ToCoin,
		t.FromAmount.String(), t.ToAmount.String(), t.FromPrice.String(), t.ToPrice.String(),
		string(t.Status), t.CommissionAmount.String(), t.CommissionRate.String(),
		t.ExecutedAt.Unix(), nullTimePtr(t.CompletedAt))
	if err != nil {
		return 0, fmt.Errorf("create trade for bot %s: %w", t.BotID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id for trade: %w", err)
	}
	t.ID = id
	return id, nil
}

func (r *TradeRepository) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	_, err := r.db.conn.ExecContext(ctx, `
		UPDATE trades SET
			trade_id = ?, from_amount = ?, to_amount = ?, from_price = ?, to_price = ?,
			status = ?, commission_amount = ?, commission_rate = ?, completed_at = ?
		WHERE id = ?
	`, nullStringPtr(t.TradeID), t.FromAmount.String(), t.ToAmount.String(),
		t.FromPrice.String(), t.ToPrice.String(), string(t.Status),
		t.CommissionAmount.String(), t.CommissionRate.String(), nullTimePtr(t.CompletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update trade %d: %w", t.ID, err)
	}
	return nil
}

func (r *TradeRepository) CreateTradeStep(ctx context.Context, s *domain.TradeStep) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO trade_steps (parent_trade_id, step_number, trade_id, from_coin, to_coin,
			from_amount, to_amount, from_price, to_price, commission_amount, commission_rate,
			status, executed_at, completed_at, raw_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ParentTradeID, s.StepNumber, s.TradeID, s.FromCoin, s.ToCoin,
		s.FromAmount.String(), s.ToAmount.String(), s.FromPrice.String(), s.ToPrice.String(),
		s.CommissionAmount.String(), s.CommissionRate.String(), string(s.Status),
		nullTimePtr(&s.ExecutedAt), nullTimePtr(s.CompletedAt), s.RawData)
	if err != nil {
		return 0, fmt.Errorf("create trade step for parent %d: %w", s.ParentTradeID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id for trade step: %w", err)
	}
	s.ID = id
	return id, nil
}

func (r *TradeRepository) GetTrade(ctx context.Context, id int64) (*domain.Trade, error) {
	row := r.db.conn.QueryRowContext(ctx, "SELECT "+tradesColumns+" FROM trades WHERE id = ?", id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %d: %w", id, err)
	}
	return t, nil
}

func (r *TradeRepository) ListTradeSteps(ctx context.Context, parentTradeID int64) ([]*domain.TradeStep, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT "+tradeStepsColumns+" FROM trade_steps WHERE parent_trade_id = ? ORDER BY step_number ASC", parentTradeID)
	if err != nil {
		return nil, fmt.Errorf("list trade steps for parent %d: %w", parentTradeID, err)
	}
	defer rows.Close()

	var out []*domain.TradeStep
	for rows.Next() {
		step, err := scanTradeStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade step: %w", err)
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

func scanTrade(s scannable) (*domain.Trade, error) {
	var t domain.Trade
	var tradeID sql.NullString
	var executedAt int64
	var completedAt sql.NullInt64

	err := s.Scan(&t.ID, &t.BotID, &tradeID, &t.FromCoin, &t.ToCoin, &t.FromAmount, &t.ToAmount,
		&t.FromPrice, &t.ToPrice, &t.Status, &t.CommissionAmount, &t.CommissionRate, &executedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if tradeID.Valid {
		v := tradeID.String
		t.TradeID = &v
	}
	t.ExecutedAt = time.Unix(executedAt, 0).UTC()
	if completedAt.Valid {
		ct := time.Unix(completedAt.Int64, 0).UTC()
		t.CompletedAt = &ct
	}
	return &t, nil
}

func scanTradeStep(s scannable) (*domain.TradeStep, error) {
	var step domain.TradeStep
	var executedAt, completedAt sql.NullInt64
	var rawData sql.NullString

	err := s.Scan(&step.ID, &step.ParentTradeID, &step.StepNumber, &step.TradeID, &step.FromCoin, &step.ToCoin,
		&step.FromAmount, &step.ToAmount, &step.FromPrice, &step.ToPrice, &step.CommissionAmount, &step.CommissionRate,
		&step.Status, &executedAt, &completedAt, &rawData)
	if err != nil {
		return nil, err
	}
	if executedAt.Valid {
		step.ExecutedAt = time.Unix(executedAt.Int64, 0).UTC()
	}
	if completedAt.Valid {
		ct := time.Unix(completedAt.Int64, 0).UTC()
		step.CompletedAt = &ct
	}
	if rawData.Valid {
		step.RawData = rawData.String
	}
	return &step, nil
}

// MissedTradeRepository appends candidates that scored favorably (a drop
// from their baseline) but failed an admission rule (progress protection, insufficient funds, ...).
type MissedTradeRepository struct {
	db  *DB
	log zerolog.Logger
}

func NewMissedTradeRepository(db *DB, log zerolog.Logger) *MissedTradeRepository {
	return &MissedTradeRepository{db: db, log: log.With().Str("repo", "missed_trade").Logger()}
}

func (r *MissedTradeRepository) RecordMissedTrade(ctx context.Context, m *domain.MissedTrade) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO missed_trades (bot_id, from_coin, to_coin, reason, context, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.BotID, m.FromCoin, nullString(m.ToCoin), string(m.Reason), nullString(m.Context), m.ScoredAt.Unix())
	if err != nil {
		return fmt.Errorf("record missed trade for bot %s: %w", m.BotID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
