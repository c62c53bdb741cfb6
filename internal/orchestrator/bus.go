package orchestrator

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tronrun/agentruntime/pkg/protocol"
)

// Bus is the multi-producer, multi-consumer best-effort broadcast
// channel. Delivery to a lagging subscriber is dropped rather than
// blocking the producer; the event store is the durable record a
// subscriber replays from after observing a gap.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan protocol.Event
	nextID int
	buffer int
}

// NewBus creates a bus whose subscriber channels buffer up to buffer
// events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{subs: make(map[int]chan protocol.Event), buffer: buffer}
}

// Subscribe returns a new subscription id and its event channel.
func (b *Bus) Subscribe() (int, <-chan protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan protocol.Event, b.buffer)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish delivers ev to every subscriber, dropping it for any whose
// buffer is full.
func (b *Bus) Publish(ev protocol.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("bus: dropped event for lagging subscriber", "subscriber", id, "type", ev.Type)
		}
	}
}

// PublishTyped marshals data and publishes an event of the given type.
func (b *Bus) PublishTyped(eventType, sessionID, runID string, data interface{}) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			slog.Warn("bus: marshal event data", "type", eventType, "error", err)
			return
		}
		raw = encoded
	}
	b.Publish(protocol.Event{
		Type:      eventType,
		SessionID: sessionID,
		RunID:     runID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      raw,
	})
}
