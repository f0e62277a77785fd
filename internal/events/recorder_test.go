package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrebalancer/engine/internal/domain"
)

type fakeLogStore struct {
	mu   sync.Mutex
	rows []*domain.LogEntry
}

func (f *fakeLogStore) AppendLog(ctx context.Context, e *domain.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, e)
	return nil
}

func (f *fakeLogStore) QueryLogs(ctx context.Context, botID, level string, limit int) ([]*domain.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.LogEntry(nil), f.rows...), nil
}

func (f *fakeLogStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func TestRecorderPersistsDecisionEvents(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	mgr := NewManager(log)
	store := &fakeLogStore{}
	rec := NewRecorder(store, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rec.Run(ctx, mgr)

	// Subscription is registered asynchronously with Run's start.
	require.Eventually(t, func() bool {
		mgr.mu.RLock()
		defer mgr.mu.RUnlock()
		return len(mgr.subscribers) == 1
	}, time.Second, 5*time.Millisecond)

	mgr.Emit("decision", &SwapDecisionData{BotID: "bot1", FromCoin: "BTC", ToCoin: "ETH"})
	mgr.Emit("decision", &MissedTradeData{BotID: "bot1", FromCoin: "BTC", Reason: "below_threshold"})

	require.Eventually(t, func() bool { return store.count() == 2 }, time.Second, 5*time.Millisecond)

	rows, err := store.QueryLogs(ctx, "bot1", "TRADE", 10)
	require.NoError(t, err)
	assert.Equal(t, "TRADE", rows[0].Level)
	assert.Equal(t, string(SwapDecision), rows[0].Message)
	assert.Equal(t, "bot1", rows[0].BotID)
	assert.Contains(t, rows[0].Context, `"to_coin":"ETH"`)
}
