package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinrebalancer/engine/internal/domain"
)

// botColumns lists the bots table columns in scan order. Avoids SELECT *
// so the repository breaks loudly if the schema drifts from scanBot.
const botColumns = `bot_id, user_id, name, coins, initial_coin, current_coin,
	threshold_percent, global_threshold_percent, check_interval_minutes,
	commission_rate, preferred_stablecoin, reference_coin, allocation_percent,
	manual_budget_amount, use_take_profit, take_profit_percent, enabled,
	last_check_time, global_peak_value, global_peak_value_in_eth,
	total_commissions_paid, account_id, created_at, updated_at`

// BotRepository persists domain.Bot rows.
type BotRepository struct {
	db  *DB
	log zerolog.Logger
}

// NewBotRepository builds a BotRepository.
func NewBotRepository(db *DB, log zerolog.Logger) *BotRepository {
	return &BotRepository{db: db, log: log.With().Str("repo", "bot").Logger()}
}

func (r *BotRepository) GetBot(ctx context.Context, botID string) (*domain.Bot, error) {
	row := r.db.conn.QueryRowContext(ctx, "SELECT "+botColumns+" FROM bots WHERE bot_id = ?", botID)
	bot, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bot %s: %w", botID, err)
	}
	return bot, nil
}

func (r *BotRepository) ListEnabledBots(ctx context.Context) ([]*domain.Bot, error) {
	rows, err := r.db.conn.QueryContext(ctx, "SELECT "+botColumns+" FROM bots WHERE enabled = 1")
	if err != nil {
		return nil, fmt.Errorf("list enabled bots: %w", err)
	}
	defer rows.Close()

	var out []*domain.Bot
	for rows.Next() {
		bot, err := scanBotFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		out = append(out, bot)
	}
	return out, rows.Err()
}

func (r *BotRepository) UpdateBot(ctx context.Context, bot *domain.Bot) error {
	coinsJSON, err := json.Marshal(bot.Coins)
	if err != nil {
		return fmt.Errorf("marshal coins: %w", err)
	}

	query := `
		UPDATE bots SET
			user_id = ?, name = ?, coins = ?, initial_coin = ?, current_coin = ?,
			threshold_percent = ?, global_threshold_percent = ?, check_interval_minutes = ?,
			commission_rate = ?, preferred_stablecoin = ?, reference_coin = ?,
			allocation_percent = ?, manual_budget_amount = ?, use_take_profit = ?,
			take_profit_percent = ?, enabled = ?, last_check_time = ?,
			global_peak_value = ?, global_peak_value_in_eth = ?, total_commissions_paid = ?,
			account_id = ?, updated_at = ?
		WHERE bot_id = ?
	`

	_, err = r.db.conn.ExecContext(ctx, query,
		bot.UserID, bot.Name, string(coinsJSON), bot.InitialCoin, nullStringPtr(bot.CurrentCoin),
		bot.ThresholdPercent.String(), bot.GlobalThresholdPercent.String(), bot.CheckIntervalMinutes,
		bot.CommissionRate.String(), bot.PreferredStablecoin, bot.ReferenceCoin,
		nullDecimalPtr(bot.AllocationPercent), nullDecimalPtr(bot.ManualBudgetAmount), boolToInt(bot.UseTakeProfit),
		bot.TakeProfitPercent.String(), boolToInt(bot.Enabled), nullTimePtr(bot.LastCheckTime),
		bot.GlobalPeakValue.String(), bot.GlobalPeakValueInETH.String(), bot.TotalCommissionsPaid.String(),
		bot.AccountID, time.Now().Unix(),
		bot.BotID,
	)
	if err != nil {
		return fmt.Errorf("update bot %s: %w", bot.BotID, err)
	}
	return nil
}

func (r *BotRepository) RecordReset(ctx context.Context, ev *domain.BotResetEvent) error {
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO bot_reset_events (bot_id, reason, reset_at) VALUES (?, ?, ?)`,
		ev.BotID, ev.Reason, ev.ResetAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record reset for bot %s: %w", ev.BotID, err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanBotRow(s scannable) (*domain.Bot, error) {
	var bot domain.Bot
	var coinsJSON string
	var currentCoin, allocationPercent, manualBudget, takeProfitPercent sql.NullString
	var lastCheckTime sql.NullInt64
	var useTakeProfit, enabled int

	err := s.Scan(
		&bot.BotID, &bot.UserID, &bot.Name, &coinsJSON, &bot.InitialCoin, &currentCoin,
		&bot.ThresholdPercent, &bot.GlobalThresholdPercent, &bot.CheckIntervalMinutes,
		&bot.CommissionRate, &bot.PreferredStablecoin, &bot.ReferenceCoin, &allocationPercent,
		&manualBudget, &useTakeProfit, &takeProfitPercent, &enabled,
		&lastCheckTime, &bot.GlobalPeakValue, &bot.GlobalPeakValueInETH,
		&bot.TotalCommissionsPaid, &bot.AccountID, new(int64), new(int64),
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(coinsJSON), &bot.Coins); err != nil {
		return nil, fmt.Errorf("unmarshal coins: %w", err)
	}
	if currentCoin.Valid {
		v := currentCoin.String
		bot.CurrentCoin = &v
	}
	if allocationPercent.Valid {
		d := decimal.RequireFromString(allocationPercent.String)
		bot.AllocationPercent = &d
	}
	if manualBudget.Valid {
		d := decimal.RequireFromString(manualBudget.String)
		bot.ManualBudgetAmount = &d
	}
	if takeProfitPercent.Valid {
		bot.TakeProfitPercent = decimal.RequireFromString(takeProfitPercent.String)
	}
	if lastCheckTime.Valid {
		t := time.Unix(lastCheckTime.Int64, 0).UTC()
		bot.LastCheckTime = &t
	}
	bot.UseTakeProfit = useTakeProfit != 0
	bot.Enabled = enabled != 0

	return &bot, nil
}

func scanBot(row *sql.Row) (*domain.Bot, error)       { return scanBotRow(row) }
func scanBotFromRows(rows *sql.Rows) (*domain.Bot, error) { return scanBotRow(rows) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStringPtr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullDecimalPtr(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
