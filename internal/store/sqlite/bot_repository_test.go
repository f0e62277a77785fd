package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrebalancer/engine/internal/domain"
	"github.com/coinrebalancer/engine/internal/store/sqlite"
	testhelpers "github.com/coinrebalancer/engine/internal/testing"
)

func testLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func sampleBot(botID string) *domain.Bot {
	return &domain.Bot{
		BotID:                  botID,
		UserID:                 "user1",
		Name:                   "ADA/DOT rotator",
		Coins:                  []string{"ADA", "DOT", "SOL"},
		InitialCoin:            "ADA",
		ThresholdPercent:       decimal.RequireFromString("5"),
		GlobalThresholdPercent: decimal.RequireFromString("15"),
		CheckIntervalMinutes:   15,
		CommissionRate:         decimal.RequireFromString("0.002"),
		PreferredStablecoin:    "USDT",
		ReferenceCoin:          "ETH",
		Enabled:                true,
		GlobalPeakValue:        decimal.RequireFromString("1000"),
		GlobalPeakValueInETH:   decimal.RequireFromString("0.5"),
		TotalCommissionsPaid:   decimal.Zero,
		AccountID:              "acct1",
	}
}

func TestBotRepository_CreateAndGet(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()

	_, err := db.Conn().Exec(`
		INSERT INTO bots (bot_id, user_id, name, coins, initial_coin, current_coin,
			threshold_percent, global_threshold_percent, check_interval_minutes,
			commission_rate, preferred_stablecoin, reference_coin, allocation_percent,
			manual_budget_amount, use_take_profit, take_profit_percent, enabled,
			last_check_time, global_peak_value, global_peak_value_in_eth,
			total_commissions_paid, account_id, created_at, updated_at)
		VALUES ('bot1', 'user1', 'ADA/DOT rotator', '["ADA","DOT","SOL"]', 'ADA', NULL,
			'5', '15', 15, '0.002', 'USDT', 'ETH', NULL, NULL, 0, '0', 1,
			NULL, '1000', '0.5', '0', 'acct1', ?, ?)
	`, time.Now().Unix(), time.Now().Unix())
	require.NoError(t, err)

	repo := sqlite.NewBotRepository(db, testLogger())

	got, err := repo.GetBot(context.Background(), "bot1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "bot1", got.BotID)
	assert.Equal(t, []string{"ADA", "DOT", "SOL"}, got.Coins)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.CurrentCoin)

	missing, err := repo.GetBot(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBotRepository_UpdateBotPersistsCurrentCoin(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()

	now := time.Now()
	_, err := db.Conn().Exec(`
		INSERT INTO bots (bot_id, user_id, name, coins, initial_coin, current_coin,
			threshold_percent, global_threshold_percent, check_interval_minutes,
			commission_rate, preferred_stablecoin, reference_coin, allocation_percent,
			manual_budget_amount, use_take_profit, take_profit_percent, enabled,
			last_check_time, global_peak_value, global_peak_value_in_eth,
			total_commissions_paid, account_id, created_at, updated_at)
		VALUES ('bot1', 'user1', 'rotator', '["ADA","DOT"]', 'ADA', NULL,
			'5', '15', 15, '0.002', 'USDT', 'ETH', NULL, NULL, 0, '0', 1,
			NULL, '0', '0', '0', 'acct1', ?, ?)
	`, now.Unix(), now.Unix())
	require.NoError(t, err)

	repo := sqlite.NewBotRepository(db, testLogger())
	bot, err := repo.GetBot(context.Background(), "bot1")
	require.NoError(t, err)

	newCoin := "DOT"
	bot.CurrentCoin = &newCoin
	bot.GlobalPeakValue = decimal.RequireFromString("250.5")
	require.NoError(t, repo.UpdateBot(context.Background(), bot))

	reloaded, err := repo.GetBot(context.Background(), "bot1")
	require.NoError(t, err)
	require.NotNil(t, reloaded.CurrentCoin)
	assert.Equal(t, "DOT", *reloaded.CurrentCoin)
	assert.True(t, reloaded.GlobalPeakValue.Equal(decimal.RequireFromString("250.5")))
}

func TestBotRepository_ListEnabledBotsExcludesDisabled(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()

	insert := func(botID string, enabled int) {
		_, err := db.Conn().Exec(`
			INSERT INTO bots (bot_id, user_id, name, coins, initial_coin, current_coin,
				threshold_percent, global_threshold_percent, check_interval_minutes,
				commission_rate, preferred_stablecoin, reference_coin, allocation_percent,
				manual_budget_amount, use_take_profit, take_profit_percent, enabled,
				last_check_time, global_peak_value, global_peak_value_in_eth,
				total_commissions_paid, account_id, created_at, updated_at)
			VALUES (?, 'user1', 'bot', '["ADA"]', 'ADA', NULL, '5', '15', 15, '0.002',
				'USDT', 'ETH', NULL, NULL, 0, '0', ?, NULL, '0', '0', '0', '', ?, ?)
		`, botID, enabled, time.Now().Unix(), time.Now().Unix())
		require.NoError(t, err)
	}
	insert("enabled1", 1)
	insert("disabled1", 0)

	repo := sqlite.NewBotRepository(db, testLogger())
	bots, err := repo.ListEnabledBots(context.Background())
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, "enabled1", bots[0].BotID)
}
