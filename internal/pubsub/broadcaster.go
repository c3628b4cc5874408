// Package pubsub fans indexed-event notifications out to WebSocket
// subscribers without ever blocking the indexing path.
package pubsub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// subscriberBuffer is the per-subscriber channel depth; a subscriber that
// falls this far behind starts losing messages.
const subscriberBuffer = 256

// Message is one indexed event as delivered to subscribers.
type Message struct {
	ContractName string         `json:"contract"`
	EventName    string         `json:"event"`
	EventID      string         `json:"eventId"`
	BlockNumber  uint64         `json:"blockNumber"`
	TxHash       string         `json:"txHash"`
	LogIndex     uint           `json:"logIndex"`
	Timestamp    uint64         `json:"timestamp"`
	Data         map[string]any `json:"data"`
}

// Broadcaster delivers messages to any number of subscribers. Safe for
// concurrent use.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]chan Message
	closed bool
}

// NewBroadcaster returns a Broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]chan Message)}
}

// Subscribe registers a subscriber and returns its ID and channel. On a
// closed broadcaster the returned channel is already closed.
func (b *Broadcaster) Subscribe() (string, <-chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Message, subscriberBuffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown IDs
// are ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers msg to every subscriber. A subscriber with a full
// buffer is skipped; it keeps its place in the stream from the next
// message it can accept.
func (b *Broadcaster) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			log.Warn().
				Str("subscriber", id).
				Str("event", msg.EventID).
				Msg("subscriber buffer full, dropping message")
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel and makes future publishes no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
