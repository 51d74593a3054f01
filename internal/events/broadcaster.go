// Package events fans catalog change notifications out to SSE clients so an
// open catalog page can refresh when a new manifest is published.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/metrics"
)

// EventManifest is published when the served manifest changes.
const EventManifest = "manifest"

// subscriberBuffer is how many events a slow client may lag behind before
// further events are dropped for it.
const subscriberBuffer = 16

// Event describes a catalog change.
type Event struct {
	Type        string    `json:"type"`
	Hash        string    `json:"hash"`
	GeneratedAt time.Time `json:"generatedAt"`
	Categories  int       `json:"categories"`
	Files       int       `json:"files"`
	Added       int       `json:"added,omitempty"`
	Removed     int       `json:"removed,omitempty"`
	Changed     int       `json:"changed,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}

// WriteTo writes e as one SSE frame.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	n, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return int64(n), err
}

// Subscription receives events on C until Close.
type Subscription struct {
	C <-chan Event

	ch   chan Event
	b    *Broadcaster
	once sync.Once
}

// Close detaches the subscription and closes C. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() { s.b.remove(s) })
}

// Broadcaster delivers each published event to every open subscription
// without blocking on any of them.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscribe opens a subscription. The caller must Close it when done.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan Event, subscriberBuffer)
	s := &Subscription{C: ch, ch: ch, b: b}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()

	metrics.SetSSEConnectionsActive(int64(n))
	return s
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	close(s.ch)
	n := len(b.subs)
	b.mu.Unlock()

	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish stamps e if needed and offers it to every subscriber. A full
// subscriber misses the event.
func (b *Broadcaster) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	b.mu.Lock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
	b.mu.Unlock()

	metrics.RecordSSEEvent(e.Type)
}

// Count returns the number of open subscriptions.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
