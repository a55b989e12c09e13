// Package signalbus delivers BUY/SELL strategy signals from the webhook
// edge to the engine.
package signalbus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Side is the direction of a strategy signal.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Signal is a single strategy event.
type Signal struct {
	Side Side   `json:"side"`
	Raw  string `json:"raw"`
	TS   int64  `json:"ts"`
}

// Handler receives a published signal. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Signal)

// Bus is a two-topic pub/sub: BUY and SELL. Delivery is one-shot to all
// subscribers in registration order, with no buffering.
type Bus struct {
	mu   sync.RWMutex
	subs map[Side][]Handler
}

func New() *Bus {
	return &Bus{subs: make(map[Side][]Handler)}
}

// Subscribe registers a handler for one topic.
func (b *Bus) Subscribe(side Side, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[side] = append(b.subs[side], h)
}

// SubscribeAll registers a handler for both topics.
func (b *Bus) SubscribeAll(h Handler) {
	b.Subscribe(Buy, h)
	b.Subscribe(Sell, h)
}

// Publish delivers the signal to every subscriber of its topic.
func (b *Bus) Publish(sig Signal) {
	b.mu.RLock()
	handlers := b.subs[sig.Side]
	b.mu.RUnlock()

	log.Debug().Str("side", string(sig.Side)).Int("subscribers", len(handlers)).Msg("Signal published")
	for _, h := range handlers {
		h(sig)
	}
}
