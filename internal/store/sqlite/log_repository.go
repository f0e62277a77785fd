package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinrebalancer/engine/internal/domain"
)

// PriceHistoryRepository appends observed prices, write-through from the
// price oracle on every successful lookup.
type PriceHistoryRepository struct {
	db  *DB
	log zerolog.Logger
}

func NewPriceHistoryRepository(db *DB, log zerolog.Logger) *PriceHistoryRepository {
	return &PriceHistoryRepository{db: db, log: log.With().Str("repo", "price_history").Logger()}
}

func (r *PriceHistoryRepository) RecordPrice(ctx context.Context, p *domain.PriceHistory) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO price_history (bot_id, coin, price, source, fetched_at)
		VALUES (?, ?, ?, ?, ?)
	`, nullString(p.BotID), p.Coin, p.Price.String(), p.Source, p.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("record price history for %s: %w", p.Coin, err)
	}
	return nil
}

// LogRepository backs the decision-log query surface.
type LogRepository struct {
	db  *DB
	log zerolog.Logger
}

func NewLogRepository(db *DB, log zerolog.Logger) *LogRepository {
	return &LogRepository{db: db, log: log.With().Str("repo", "log").Logger()}
}

func (r *LogRepository) AppendLog(ctx context.Context, e *domain.LogEntry) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO log_entries (bot_id, level, message, fields, logged_at)
		VALUES (?, ?, ?, ?, ?)
	`, nullString(e.BotID), e.Level, e.Message, nullString(e.Context), e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

func (r *LogRepository) QueryLogs(ctx context.Context, botID string, level string, limit int) ([]*domain.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT id, bot_id, level, message, fields, logged_at FROM log_entries WHERE 1=1"
	var args []interface{}
	if botID != "" {
		query += " AND bot_id = ?"
		args = append(args, botID)
	}
	if level != "" {
		query += " AND level = ?"
		args = append(args, level)
	}
	query += " ORDER BY logged_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var out []*domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var botIDVal, fields sql.NullString
		var loggedAt int64
		if err := rows.Scan(&e.ID, &botIDVal, &e.Level, &e.Message, &fields, &loggedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		if botIDVal.Valid {
			e.BotID = botIDVal.String
		}
		if fields.Valid {
			e.Context = fields.String
		}
		e.CreatedAt = time.Unix(loggedAt, 0).UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}
