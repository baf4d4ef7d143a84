// Package events provides typed event emission for the learning engine.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	OutcomeResolved    EventType = "OUTCOME_RESOLVED"
	MinerRunStarted    EventType = "MINER_RUN_STARTED"
	MinerRunCompleted  EventType = "MINER_RUN_COMPLETED"
	MinerRunFailed     EventType = "MINER_RUN_FAILED"
	OverridesPublished EventType = "OVERRIDES_PUBLISHED"
	OverrideToggled    EventType = "OVERRIDE_TOGGLED"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
)

// Event represents a system event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// subscriberBuffer bounds how far a slow subscriber may lag before events are dropped for it
const subscriberBuffer = 64

// Manager handles event emission, logging and fan-out to subscribers.
// Emit never blocks: a full subscriber misses the event.
type Manager struct {
	log zerolog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:  log.With().Str("service", "events").Logger(),
		subs: make(map[int]chan Event),
	}
}

// EmitTyped emits an event with typed data
func (m *Manager) EmitTyped(eventType EventType, module string, data EventData) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")

	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, ch := range m.subs {
		select {
		case ch <- event:
		default:
			m.log.Warn().Int("subscriber", id).Str("event_type", string(eventType)).Msg("Subscriber lagging, event dropped")
		}
	}
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	m.EmitTyped(ErrorOccurred, module, &ErrorEventData{Error: err.Error(), Context: context})
}

// Subscribe registers a subscriber. The returned cancel func unregisters it and closes the channel.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}
