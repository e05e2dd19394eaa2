// Package feed fans live device readings out to streaming sessions.
package feed

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"example.com/activityrecognition/internal/domain"
)

var (
	// ErrHubClosed is returned when subscribing to a closed hub.
	ErrHubClosed = errors.New("feed hub closed")
	// ErrSubscriberExists is returned when an id is subscribed twice.
	ErrSubscriberExists = errors.New("subscriber already exists")
	// ErrSubscriberNotFound is returned for unknown subscriber ids.
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

// DeviceReading is one live accelerometer sample from a device.
type DeviceReading struct {
	DeviceID   string
	Reading    domain.Reading
	RecordedAt time.Time
}

// Stats counts readings delivered to and overwritten in a receiver.
type Stats struct {
	Delivered uint64
	Dropped   uint64
}

// Hub distributes readings to subscribers. Each subscriber holds a bounded backlog of unconsumed
// readings; once it is full a newer reading evicts the oldest one.
type Hub struct {
	mu             sync.RWMutex
	subscribers    map[string]*Receiver
	totalPublished atomic.Uint64
	closed         bool
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]*Receiver)}
}

// Subscribe registers a receiver that keeps only the latest reading. An empty deviceID receives
// readings from every device.
func (h *Hub) Subscribe(id, deviceID string) (*Receiver, error) {
	return h.SubscribeBuffered(id, deviceID, 1)
}

// SubscribeBuffered registers a receiver that keeps up to capacity unconsumed readings.
func (h *Hub) SubscribeBuffered(id, deviceID string, capacity int) (*Receiver, error) {
	if capacity < 1 {
		capacity = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if _, exists := h.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	r := &Receiver{deviceID: deviceID, backlog: make([]DeviceReading, capacity)}
	h.subscribers[id] = r
	subscribersGauge.Inc()
	return r, nil
}

// Publish hands the reading to every matching subscriber. It never blocks.
func (h *Hub) Publish(reading DeviceReading) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	h.totalPublished.Add(1)
	publishedCounter.Inc()

	for _, r := range h.subscribers {
		if r.deviceID != "" && r.deviceID != reading.DeviceID {
			continue
		}
		if r.push(reading) {
			droppedCounter.Inc()
		}
	}
}

// Unsubscribe removes a receiver and closes it.
func (h *Hub) Unsubscribe(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, exists := h.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	r.close()
	delete(h.subscribers, id)
	subscribersGauge.Dec()
	return nil
}

// Subscribers is the number of registered receivers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Published is the number of readings accepted by the hub.
func (h *Hub) Published() uint64 {
	return h.totalPublished.Load()
}

// Close shuts the hub down and closes every receiver.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, r := range h.subscribers {
		r.close()
		subscribersGauge.Dec()
	}
	h.subscribers = nil
}

// Receiver is a bounded mailbox for one subscriber, oldest reading first.
type Receiver struct {
	deviceID string

	mu      sync.Mutex
	backlog []DeviceReading
	start   int
	size    int
	closed  bool
	stats   Stats
}

// push appends the reading and reports whether the oldest unconsumed one was evicted.
func (r *Receiver) push(reading DeviceReading) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	n := len(r.backlog)
	if r.size < n {
		r.backlog[(r.start+r.size)%n] = reading
		r.size++
		return false
	}
	r.backlog[r.start] = reading
	r.start = (r.start + 1) % n
	r.stats.Dropped++
	return true
}

// Take returns the latest unconsumed reading, if any, and discards the backlog behind it.
func (r *Receiver) Take() (DeviceReading, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return DeviceReading{}, false
	}
	out := r.backlog[(r.start+r.size-1)%len(r.backlog)]
	r.stats.Delivered++
	if skipped := r.size - 1; skipped > 0 {
		r.stats.Dropped += uint64(skipped)
		droppedCounter.Add(float64(skipped))
	}
	r.start, r.size = 0, 0
	return out, true
}

// Drain returns every unconsumed reading, oldest first.
func (r *Receiver) Drain() []DeviceReading {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}
	out := make([]DeviceReading, r.size)
	for i := range out {
		out[i] = r.backlog[(r.start+i)%len(r.backlog)]
	}
	r.stats.Delivered += uint64(r.size)
	r.start, r.size = 0, 0
	return out
}

// Closed reports whether the receiver was unsubscribed or the hub closed.
func (r *Receiver) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Stats returns delivery counters for the receiver.
func (r *Receiver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Receiver) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.start, r.size = 0, 0
}
