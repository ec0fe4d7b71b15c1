package jobs

import (
	"sync"
	"time"

	"avsync-studio/internal/domain"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeProgress EventType = "progress"
	EventTypeResult   EventType = "result"
	EventTypeError    EventType = "error"
)

// Event is a sequenced payload consumed by subscribers.
type Event struct {
	Seq        int64              `json:"seq"`
	Timestamp  time.Time          `json:"timestamp"`
	JobID      string             `json:"jobId"`
	Type       EventType          `json:"type"`
	Status     domain.JobStatus   `json:"status,omitempty"`
	Stage      string             `json:"stage,omitempty"`
	Progress   float64            `json:"progress,omitempty"`
	Message    string             `json:"message,omitempty"`
	ErrorKind  string             `json:"errorKind,omitempty"`
	Result     *domain.SyncResult `json:"result,omitempty"`
	OutputPath string             `json:"outputPath,omitempty"`
}

// subscriber is a per-job ordered delivery channel. Events are dropped
// when the channel is full; the sequence numbers let a consumer detect
// the gap and recover through Since.
type subscriber struct {
	jobID string
	ch    chan Event
}

// EventBus stores recent events for incremental reads and fans them
// out, in publish order, to per-job subscribers.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	subs      map[*subscriber]struct{}
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[*subscriber]struct{}),
	}
}

// Publish appends one event, assigns sequence and timestamp, and
// delivers it to matching subscribers without blocking.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for sub := range b.subs {
		if sub.jobID != "" && sub.jobID != event.JobID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Subscribe returns an ordered channel of events for one job, or for
// every job when jobID is empty, plus a cancel function. The channel is
// closed by cancel.
func (b *EventBus) Subscribe(jobID string) (<-chan Event, func()) {
	sub := &subscriber{
		jobID: jobID,
		ch:    make(chan Event, 256),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}
