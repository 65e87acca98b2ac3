// Package events provides a small in-process event bus used to observe
// the ingestion lifecycle. Delivery is asynchronous and best-effort; the
// pipeline itself never blocks on a slow subscriber.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/annovault/annovault/internal/logger"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventIngestStarted   EventType = "ingest.started"
	EventIngestCompleted EventType = "ingest.completed"
	EventIngestFailed    EventType = "ingest.failed"
	EventSplitCompleted  EventType = "ingest.split.completed"
	EventThumbnailFailed EventType = "thumbnail.failed"
	EventDatasetDeleted  EventType = "dataset.deleted"
)

// Event represents one system event.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates an event with identity and timestamp filled in.
func NewEvent(eventType EventType, title, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Handler receives delivered events.
type Handler func(event Event)

// Bus is a bounded asynchronous publish/subscribe bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	ch       chan Event
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool

	recent    []Event
	maxRecent int
}

// NewBus creates a bus with the given channel buffer size.
func NewBus(bufferSize int) *Bus {
	return &Bus{
		handlers:  make(map[EventType][]Handler),
		ch:        make(chan Event, bufferSize),
		stopCh:    make(chan struct{}),
		maxRecent: 100,
	}
}

// Start begins delivering published events.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case event := <-b.ch:
				b.deliver(event)
			case <-b.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops delivery and waits for the dispatch goroutine.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopCh)
	b.wg.Wait()
}

// Publish enqueues an event without blocking. When the buffer is full the
// event is dropped with a warning.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.ch <- event:
	default:
		logger.Warn("event bus buffer full, dropping event",
			logger.String("type", string(event.Type)))
	}
}

// Subscribe registers a handler for the given event types. An empty type
// list subscribes to everything.
func (b *Bus) Subscribe(handler Handler, types ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(types) == 0 {
		b.handlers[""] = append(b.handlers[""], handler)
		return
	}
	for _, t := range types {
		b.handlers[t] = append(b.handlers[t], handler)
	}
}

// Recent returns a copy of the most recently delivered events.
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.recent))
	copy(out, b.recent)
	return out
}

func (b *Bus) deliver(event Event) {
	b.mu.Lock()
	b.recent = append(b.recent, event)
	if len(b.recent) > b.maxRecent {
		b.recent = b.recent[len(b.recent)-b.maxRecent:]
	}
	handlers := append([]Handler{}, b.handlers[event.Type]...)
	handlers = append(handlers, b.handlers[""]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}
