package engine

import (
	"sync"

	"matchbook/domain/book"
)

// Subscription receives trade events for one session. The buffer is
// bounded; when a slow consumer falls behind, the oldest pending event
// is dropped rather than growing the queue without limit.
type Subscription struct {
	owner string
	ch    chan book.Trade
}

// Events is the receive side. The channel is closed on Unsubscribe and
// on hub shutdown.
func (s *Subscription) Events() <-chan book.Trade {
	return s.ch
}

// Hub fans trades out to the sessions involved in them. Firehose
// subscribers (owner "") see every trade.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(owner string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{owner: owner, ch: make(chan book.Trade, buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers t to the buyer's and seller's subscriptions and to
// every firehose subscription. Best effort: delivery within a session's
// lifetime, drop-oldest on overflow.
func (h *Hub) Publish(t book.Trade) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.owner != "" && sub.owner != t.BuyOwner && sub.owner != t.SellOwner {
			continue
		}
		offer(sub.ch, t)
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = map[*Subscription]struct{}{}
}

func offer(ch chan book.Trade, t book.Trade) {
	select {
	case ch <- t:
		return
	default:
	}
	// full: drop the oldest pending event and retry once
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- t:
	default:
	}
}
