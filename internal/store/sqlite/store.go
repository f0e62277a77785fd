package sqlite

import (
	"github.com/rs/zerolog"

	"github.com/coinrebalancer/engine/internal/domain"
)

// Store composes the individual repositories into domain.Store. One
// underlying *DB backs every sub-repository: every table belongs to
// the same bot-centric write path and gains nothing from a per-concern
// database split.
type Store struct {
	*BotRepository
	*AssetRepository
	*SnapshotRepository
	*UnitTrackerRepository
	*DeviationRepository
	*TradeRepository
	*MissedTradeRepository
	*LockRepository
	*PriceHistoryRepository
	*LogRepository
}

var _ domain.Store = (*Store)(nil)

// NewStore builds every repository against one *DB.
func NewStore(db *DB, log zerolog.Logger) *Store {
	return &Store{
		BotRepository:          NewBotRepository(db, log),
		AssetRepository:        NewAssetRepository(db, log),
		SnapshotRepository:     NewSnapshotRepository(db, log),
		UnitTrackerRepository:  NewUnitTrackerRepository(db, log),
		DeviationRepository:    NewDeviationRepository(db, log),
		TradeRepository:        NewTradeRepository(db, log),
		MissedTradeRepository:  NewMissedTradeRepository(db, log),
		LockRepository:         NewLockRepository(db, log),
		PriceHistoryRepository: NewPriceHistoryRepository(db, log),
		LogRepository:          NewLogRepository(db, log),
	}
}
