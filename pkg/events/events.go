package events

import (
	"sync"
	"time"
)

// Kind discriminates the lifecycle transitions of a dispatched request
type Kind string

const (
	KindSubmitted Kind = "query.submitted"
	KindCompleted Kind = "query.completed"
	KindFailed    Kind = "query.failed"
	KindCancelled Kind = "query.cancelled"
)

// Event is one lifecycle transition of a request. Exactly one payload
// field is set, matching Kind.
type Event struct {
	RequestID int64
	Kind      Kind
	At        time.Time

	Submitted *Submitted
	Completed *Completed
	Failed    *Failed
	Cancelled *Cancelled
}

// Submitted fires when the broker accepts a request, before fan-out
type Submitted struct {
	TraceID    string
	NumStages  int
	NumServers int
}

// Completed fires after the reduce stage assembles the result
type Completed struct {
	NumRows   int64
	ElapsedMs int64
}

// Failed fires when any phase of the primary path errors out
type Failed struct {
	Error string
}

// Cancelled fires after cancel signals are handed to the transport. The
// signals themselves are best-effort and not awaited.
type Cancelled struct {
	NumServers int
}

// NewSubmitted builds a submitted event
func NewSubmitted(requestID int64, p Submitted) *Event {
	return &Event{RequestID: requestID, Kind: KindSubmitted, At: time.Now(), Submitted: &p}
}

// NewCompleted builds a completed event
func NewCompleted(requestID int64, p Completed) *Event {
	return &Event{RequestID: requestID, Kind: KindCompleted, At: time.Now(), Completed: &p}
}

// NewFailed builds a failed event
func NewFailed(requestID int64, err error) *Event {
	return &Event{RequestID: requestID, Kind: KindFailed, At: time.Now(), Failed: &Failed{Error: err.Error()}}
}

// NewCancelled builds a cancelled event
func NewCancelled(requestID int64, numServers int) *Event {
	return &Event{RequestID: requestID, Kind: KindCancelled, At: time.Now(), Cancelled: &Cancelled{NumServers: numServers}}
}

// Broker fans lifecycle events out to subscribers. Publish never blocks
// the dispatch path: a subscriber whose buffer is full misses the event.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	closed      bool
}

// Subscription is one subscriber's event feed
type Subscription struct {
	broker *Broker
	ch     chan *Event
}

// Events returns the feed channel; it is closed by Cancel or Broker.Close
func (s *Subscription) Events() <-chan *Event {
	return s.ch
}

// Cancel removes the subscription and closes its channel
func (s *Subscription) Cancel() {
	s.broker.remove(s)
}

// NewBroker creates an event broker
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with the given channel buffer
func (b *Broker) Subscribe(buffer int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{broker: b, ch: make(chan *Event, buffer)}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subscribers[sub] = struct{}{}
	return sub
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub.ch)
	}
}

// Publish delivers an event to every subscriber that has buffer room
func (b *Broker) Publish(event *Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			// Full buffer drops the event for this subscriber
		}
	}
}

// Close tears down the broker and every open subscription
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = map[*Subscription]struct{}{}
}

// SubscriberCount returns the number of active subscriptions
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
