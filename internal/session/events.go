package session

import (
	"sync"
	"time"
)

// Buffer size for per-listener event channels. A slow SSE consumer drops
// events rather than stalling the recognition worker.
const eventChannelBuffer = 32

// Event types emitted over a session's event stream.
const (
	EventStarted = "session_started"
	EventMarked  = "identity_marked"
	EventStopped = "session_stopped"
	EventError   = "error"
)

// Event is one entry on a session's event stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// StartedData announces the identities loaded into the session gallery.
type StartedData struct {
	Identities []string `json:"identities"`
	RosterSize int      `json:"roster_size"`
	Threshold  float64  `json:"threshold"`
}

// MarkedData announces a new attendance mark.
type MarkedData struct {
	Name     string    `json:"name"`
	MarkedAt time.Time `json:"marked_at"`
}

// StoppedData carries the final session tally.
type StoppedData struct {
	MarkedCount int      `json:"marked_count"`
	Marked      []string `json:"marked"`
}

// ErrorData carries a non-fatal worker error.
type ErrorData struct {
	Reason string `json:"reason"`
}

// EventBroadcaster provides listener management and event fan-out for a
// running session. Listeners with full buffers miss events.
type EventBroadcaster struct {
	mu        sync.RWMutex
	listeners []chan Event
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, eventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (b *EventBroadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}
