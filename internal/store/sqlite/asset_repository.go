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

const assetColumns = `bot_id, coin, amount, entry_price, stablecoin_equivalent, last_updated`

// AssetRepository persists the single current Asset row per bot.
type AssetRepository struct {
	db  *DB
	log zerolog.Logger
}

func NewAssetRepository(db *DB, log zerolog.Logger) *AssetRepository {
	return &AssetRepository{db: db, log: log.With().Str("repo", "asset").Logger()}
}

func (r *AssetRepository) GetAsset(ctx context.Context, botID string) (*domain.Asset, error) {
	row := r.db.conn.QueryRowContext(ctx, "SELECT "+assetColumns+" FROM bot_assets WHERE bot_id = ?", botID)

	var a domain.Asset
	var lastUpdated int64
	err := row.Scan(&a.BotID, &a.Coin, &a.Amount, &a.EntryPrice, &a.StablecoinEquivalent, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset for bot %s: %w", botID, err)
	}
	a.LastUpdated = time.Unix(lastUpdated, 0).UTC()
	return &a, nil
}

// ReplaceAsset upserts the bot's current asset row, matching the Trade
// executor's "one current coin per bot" invariant.
func (r *AssetRepository) ReplaceAsset(ctx context.Context, botID string, newAsset *domain.Asset) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO bot_assets (bot_id, coin, amount, entry_price, stablecoin_equivalent, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET
			coin = excluded.coin,
			amount = excluded.amount,
			entry_price = excluded.entry_price,
			stablecoin_equivalent = excluded.stablecoin_equivalent,
			last_updated = excluded.last_updated
	`, botID, newAsset.Coin, newAsset.Amount.String(), newAsset.EntryPrice.String(),
		newAsset.StablecoinEquivalent.String(), newAsset.LastUpdated.Unix())
	if err != nil {
		return fmt.Errorf("replace asset for bot %s: %w", botID, err)
	}
	return nil
}
