package observability

import (
	"sync"
	"time"
)

// Event is one entry on the live admin feed.
type Event struct {
	Kind    string         `json:"kind"`
	ConnID  string         `json:"conn_id,omitempty"`
	Session string         `json:"session,omitempty"`
	Time    time.Time      `json:"time"`
	Fields  map[string]any `json:"fields,omitempty"`
}

const (
	EventConnectionOpened = "connection.opened"
	EventConnectionClosed = "connection.closed"
	EventSessionStarted   = "session.started"
	EventSessionStopped   = "session.stopped"
	EventLabelComputed    = "label.computed"
	EventBuildFinished    = "build.finished"
)

// Hub fans events out to subscribers. Slow subscribers miss events rather
// than stall the publisher. A nil *Hub discards everything.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	size   int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[int]chan Event), size: buffer}
}

// Subscribe returns a receive channel plus a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	if h == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	ch := make(chan Event, h.size)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
