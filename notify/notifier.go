// Package notify is an in-process signal hub. Capture tooling signals that
// a channel has new data, and the routing service signals that batches were
// routed. Signals are hints: a dropped signal only delays work until the
// next poll.
package notify

import (
	"sync"
	"sync/atomic"
)

// defaultSignalBufferSize is the buffer size for signal channels.
// Subscribers that can't keep up will have signals dropped (non-blocking send).
const defaultSignalBufferSize = 16

// Kind tells subscribers what happened on a channel
type Kind uint8

const (
	// KindData means new change rows were captured for the channel
	KindData Kind = iota + 1
	// KindRouted means a pass committed closed batches for the channel
	KindRouted
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindRouted:
		return "routed"
	default:
		return "unknown"
	}
}

// Signal is one notification
type Signal struct {
	Kind      Kind
	ChannelID string
	// LastDataID is the highest data id captured or routed, when known
	LastDataID int64
	// Batches is the number of batches closed by the pass (KindRouted)
	Batches int
}

// Filter selects the signals a subscriber receives. Empty fields match all.
type Filter struct {
	Channels []string
	Kinds    []Kind
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	filter Filter
	ch     chan Signal
	closed atomic.Bool
}

func (s *subscription) matches(sig Signal) bool {
	if len(s.filter.Kinds) > 0 {
		found := false
		for _, k := range s.filter.Kinds {
			if k == sig.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(s.filter.Channels) == 0 {
		return true
	}
	for _, ch := range s.filter.Channels {
		if ch == sig.ChannelID {
			return true
		}
	}
	return false
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub fans signals out to subscribers. Safe for concurrent use.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

// NewHub creates a new notification hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal sends sig to all matching subscribers (non-blocking).
func (h *Hub) Signal(sig Signal) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(sig) {
			continue
		}

		// Non-blocking send - drop if buffer full
		select {
		case sub.ch <- sig:
		default:
		}
	}
}

// DataCaptured signals that channelID has new change rows
func (h *Hub) DataCaptured(channelID string, lastDataID int64) {
	h.Signal(Signal{Kind: KindData, ChannelID: channelID, LastDataID: lastDataID})
}

// BatchesRouted signals that a pass closed batches for channelID
func (h *Hub) BatchesRouted(channelID string, batches int, lastDataID int64) {
	h.Signal(Signal{Kind: KindRouted, ChannelID: channelID, Batches: batches, LastDataID: lastDataID})
}

// Subscribe creates a new subscription and returns the signal channel and cancel function.
// The returned channel is buffered. If the subscriber cannot keep up with the signal rate,
// signals will be dropped silently by Signal(). The cancel function is idempotent.
func (h *Hub) Subscribe(filter Filter) (<-chan Signal, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan Signal, defaultSignalBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
