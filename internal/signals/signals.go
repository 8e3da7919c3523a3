// Package signals is a small in-process wakeup hub so pollers can react to
// new work immediately instead of waiting out their tick.
package signals

import (
	"math/rand"
	"sync"
)

type Signal string

const NewMessageQueued Signal = "new-message-queued"
const RetryScheduled Signal = "retry-scheduled"

// Hub is constructed once in main and injected, there is no package level
// instance.
type Hub struct {
	mu   sync.RWMutex
	sigs map[Signal][]chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		sigs: map[Signal][]chan struct{}{},
	}
}

// Notify wakes one arbitrary listener. Non blocking, a listener that is
// already signalled is not signalled twice.
func (h *Hub) Notify(channel Signal) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	chans := h.sigs[channel]
	l := len(chans)
	if l > 0 {
		select {
		case chans[rand.Intn(l)] <- struct{}{}:
		default:
		}
	}
}

// Broadcast wakes every listener. Non blocking.
func (h *Hub) Broadcast(channel Signal) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.sigs[channel] {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) Listen(channel Signal) (signal <-chan struct{}, cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := make(chan struct{}, 1)

	h.sigs[channel] = append(h.sigs[channel], c)

	return c, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		var chans []chan struct{}
		for _, cc := range h.sigs[channel] {
			if cc == c {
				continue
			}
			chans = append(chans, cc)
		}
		h.sigs[channel] = chans
	}
}
