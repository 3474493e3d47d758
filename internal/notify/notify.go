// Package notify delivers job-state change events to live clients. The
// publisher is an injected capability so the orchestrator never depends on a
// process-wide broker and tests can capture events in memory.
package notify

import (
	"sync"

	"github.com/hossjar/transcription-service/internal/models"
)

// Publisher is the capability the orchestrator publishes through.
// Delivery is best-effort: no persistence, no replay. Reconnecting clients
// must re-fetch job state through the read path.
type Publisher interface {
	Publish(channel string, event models.Notification) error
}

// Hub is an in-process publisher with per-channel subscriber fan-out,
// consumed by the SSE endpoint.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan models.Notification]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan models.Notification]struct{}{}}
}

// Publish fans the event out to every subscriber of the channel. Sends are
// non-blocking: a subscriber that is not draining its buffer loses events
// rather than stalling the pipeline.
func (h *Hub) Publish(channel string, event models.Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[channel] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered listener on the channel. The returned
// cancel function removes the subscription and closes the chan.
func (h *Hub) Subscribe(channel string) (<-chan models.Notification, func()) {
	ch := make(chan models.Notification, 16)
	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = map[chan models.Notification]struct{}{}
	}
	h.subs[channel][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[channel]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, channel)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
