package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinrebalancer/engine/pkg/logger"
)

// Manager fans out decision events to subscribers and logs each one at
// TRADE level.
type Manager struct {
	log zerolog.Logger

	mu          sync.RWMutex
	subscribers map[int]chan *Event
	nextID      int
}

// NewManager creates an event manager scoped with a component logger.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:         log.With().Str("component", "events").Logger(),
		subscribers: make(map[int]chan *Event),
	}
}

// Subscribe registers a new listener and returns its channel along with
// an unsubscribe func. The channel is buffered; a slow subscriber drops
// events rather than blocking emitters.
func (m *Manager) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan *Event, buffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = ch
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Emit logs a decision event at TRADE level and fans it out to every
// current subscriber without blocking on a full channel.
func (m *Manager) Emit(module string, data EventData) {
	event := &Event{
		Type:      data.EventType(),
		Module:    module,
		Data:      data,
		Timestamp: time.Now(),
	}

	logger.Trade(m.log).
		Str("event_type", string(event.Type)).
		Str("module", module).
		Interface("data", data).
		Msg("decision event")

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			m.log.Warn().Str("event_type", string(event.Type)).Msg("subscriber channel full, dropping event")
		}
	}
}
