package sqlite_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coinrebalancer/engine/internal/store/sqlite"
)

// seedBotRow inserts a minimal bots row so child tables with a bot_id
// foreign key can be exercised.
func seedBotRow(t *testing.T, db *sqlite.DB, botID string) {
	t.Helper()
	_, err := db.Conn().Exec(`
		INSERT INTO bots (bot_id, user_id, name, coins, initial_coin, current_coin,
			threshold_percent, global_threshold_percent, check_interval_minutes,
			commission_rate, preferred_stablecoin, reference_coin, allocation_percent,
			manual_budget_amount, use_take_profit, take_profit_percent, enabled,
			last_check_time, global_peak_value, global_peak_value_in_eth,
			total_commissions_paid, account_id, created_at, updated_at)
		VALUES (?, 'user1', 'bot', '["ADA","DOT"]', 'ADA', NULL, '5', '15', 15, '0.002',
			'USDT', 'ETH', NULL, NULL, 0, '0', 1, NULL, '0', '0', '0', '', ?, ?)
	`, botID, time.Now().Unix(), time.Now().Unix())
	require.NoError(t, err)
}
