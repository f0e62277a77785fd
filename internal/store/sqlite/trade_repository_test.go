package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrebalancer/engine/internal/domain"
	"github.com/coinrebalancer/engine/internal/store/sqlite"
	testhelpers "github.com/coinrebalancer/engine/internal/testing"
)

func TestTradeRepository_CreatePlaceholderThenJoinSteps(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()

	_, err := db.Conn().Exec(`
		INSERT INTO bots (bot_id, user_id, name, coins, initial_coin, current_coin,
			threshold_percent, global_threshold_percent, check_interval_minutes,
			commission_rate, preferred_stablecoin, reference_coin, allocation_percent,
			manual_budget_amount, use_take_profit, take_profit_percent, enabled,
			last_check_time, global_peak_value, global_peak_value_in_eth,
			total_commissions_paid, account_id, created_at, updated_at)
		VALUES ('bot1', 'u', 'b', '["ADA","DOT"]', 'ADA', 'ADA', '5', '15', 15, '0.002',
			'USDT', 'ETH', NULL, NULL, 0, '0', 1, NULL, '0', '0', '0', '', ?, ?)
	`, time.Now().Unix(), time.Now().Unix())
	require.NoError(t, err)

	repo := sqlite.NewTradeRepository(db, testLogger())

	placeholder := "parent-123456"
	trade := &domain.Trade{
		BotID:      "bot1",
		TradeID:    &placeholder,
		FromCoin:   "ADA",
		ToCoin:     "DOT",
		FromAmount: decimal.RequireFromString("1000"),
		ToAmount:   decimal.Zero,
		FromPrice:  decimal.RequireFromString("0.35"),
		ToPrice:    decimal.Zero,
		Status:     domain.TradeStatusInProgress,
		ExecutedAt: time.Now(),
	}
	id, err := repo.CreateTrade(context.Background(), trade)
	require.NoError(t, err)
	assert.Equal(t, id, trade.ID)

	step1 := &domain.TradeStep{
		ParentTradeID: id, StepNumber: 1, TradeID: "trade-A",
		FromCoin: "ADA", ToCoin: "USDT",
		FromAmount: decimal.RequireFromString("1000"), ToAmount: decimal.RequireFromString("350"),
		FromPrice: decimal.RequireFromString("0.35"), ToPrice: decimal.RequireFromString("1"),
		CommissionAmount: decimal.RequireFromString("0.7"), CommissionRate: decimal.RequireFromString("0.002"),
		Status: domain.TradeStatusCompleted, ExecutedAt: time.Now(),
		RawData: `{"raw":"a"}`,
	}
	_, err = repo.CreateTradeStep(context.Background(), step1)
	require.NoError(t, err)

	joined := "trade-A-trade-B"
	trade.TradeID = &joined
	trade.Status = domain.TradeStatusCompleted
	require.NoError(t, repo.UpdateTrade(context.Background(), trade))

	reloaded, err := repo.GetTrade(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, reloaded.TradeID)
	assert.Equal(t, "trade-A-trade-B", *reloaded.TradeID)
	assert.Equal(t, domain.TradeStatusCompleted, reloaded.Status)

	steps, err := repo.ListTradeSteps(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "trade-A", steps[0].TradeID)
	assert.Equal(t, `{"raw":"a"}`, steps[0].RawData)
}

func TestTradeRepository_TradeIDNotUniqueConstrained(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()

	_, err := db.Conn().Exec(`
		INSERT INTO bots (bot_id, user_id, name, coins, initial_coin, current_coin,
			threshold_percent, global_threshold_percent, check_interval_minutes,
			commission_rate, preferred_stablecoin, reference_coin, allocation_percent,
			manual_budget_amount, use_take_profit, take_profit_percent, enabled,
			last_check_time, global_peak_value, global_peak_value_in_eth,
			total_commissions_paid, account_id, created_at, updated_at)
		VALUES ('bot1', 'u', 'b', '["ADA"]', 'ADA', 'ADA', '5', '15', 15, '0.002',
			'USDT', 'ETH', NULL, NULL, 0, '0', 1, NULL, '0', '0', '0', '', ?, ?)
	`, time.Now().Unix(), time.Now().Unix())
	require.NoError(t, err)

	repo := sqlite.NewTradeRepository(db, testLogger())
	dup := "dup-id"

	for i := 0; i < 2; i++ {
		trade := &domain.Trade{
			BotID: "bot1", TradeID: &dup, FromCoin: "ADA", ToCoin: "DOT",
			FromAmount: decimal.Zero, ToAmount: decimal.Zero, FromPrice: decimal.Zero, ToPrice: decimal.Zero,
			Status: domain.TradeStatusCompleted, ExecutedAt: time.Now(),
		}
		_, err := repo.CreateTrade(context.Background(), trade)
		require.NoError(t, err, "trade_id has no unique constraint, duplicates must be allowed")
	}
}
