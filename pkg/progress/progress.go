// Package progress carries run events from the engine to whoever wants to
// render them. Emission never blocks the sync pipeline: when no one drains
// the channel fast enough, events are dropped and counted.
package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType names what happened.
type EventType string

const (
	EventCreatorStarted    EventType = "creator_started"
	EventPageFetched       EventType = "page_fetched"
	EventDownloadStarted   EventType = "download_started"
	EventDownloadCompleted EventType = "download_completed"
	EventDownloadSkipped   EventType = "download_skipped"
	EventDownloadFailed    EventType = "download_failed"
	EventRateLimitWait     EventType = "rate_limit_wait"
	EventCheckpointed      EventType = "checkpointed"
	EventCreatorFinished   EventType = "creator_finished"
)

// Event is one progress notification.
type Event struct {
	Type     EventType
	Creator  string
	Category string
	PostID   int64
	MediaID  int64
	Path     string
	Bytes    int64
	Reason   string
	// Wait is how long the run is pausing, set on rate-limit wait events.
	Wait time.Duration
	Time time.Time
}

// Emitter fans events out to a single consumer channel.
type Emitter struct {
	ch      chan Event
	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

// NewEmitter builds an emitter with the given channel buffer.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Emitter{ch: make(chan Event, buffer)}
}

// Events returns the consumer channel. Closed by Close.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Emit delivers an event without blocking. Events sent after Close or into
// a full buffer are dropped.
func (e *Emitter) Emit(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.ch <- event:
	default:
		e.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close ends the event stream.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
