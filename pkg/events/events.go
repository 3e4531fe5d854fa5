package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventInstanceUpdated EventType = "instance.updated"
	EventInstanceDeleted EventType = "instance.deleted"
	EventNodeUpdated     EventType = "node.updated"
	EventPeerAlive       EventType = "peer.alive"
	EventPeerStale       EventType = "peer.stale"
	EventPeerDown        EventType = "peer.down"
	EventFullResync      EventType = "peer.full_resync"
	EventMonitorChanged  EventType = "monitor.changed"
	EventActionFailed    EventType = "action.failed"
)

// Event represents a change in the cluster dataset or in a local component
type Event struct {
	Type      EventType
	Timestamp time.Time
	Node      string
	Path      string
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

type subscription struct {
	// nil accepts every type
	types map[EventType]bool
}

func (s subscription) accepts(t EventType) bool {
	return s.types == nil || s.types[t]
}

// Broker fans events out to subscribers from a single goroutine. Publish
// never blocks on a slow subscriber: a full subscriber buffer drops the event
// and counts it.
type Broker struct {
	mu      sync.RWMutex
	subs    map[Subscriber]subscription
	queue   chan *Event
	done    chan struct{}
	stop    sync.Once
	dropped atomic.Uint64
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subs:  make(map[Subscriber]subscription),
		queue: make(chan *Event, 256),
		done:  make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go func() {
		for {
			select {
			case ev := <-b.queue:
				b.deliver(ev)
			case <-b.done:
				return
			}
		}
	}()
}

// Stop stops the broker. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stop.Do(func() { close(b.done) })
}

// Subscribe returns a channel receiving the events of the given types, or
// every event when none is given
func (b *Broker) Subscribe(only ...EventType) Subscriber {
	var s subscription
	if len(only) > 0 {
		s.types = make(map[EventType]bool, len(only))
		for _, t := range only {
			s.types[t] = true
		}
	}

	sub := make(Subscriber, 128)
	b.mu.Lock()
	b.subs[sub] = s
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
}

// Publish queues an event for delivery. Events published after Stop are
// dropped.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.queue <- event:
	case <-b.done:
	}
}

func (b *Broker) deliver(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub, s := range b.subs {
		if !s.accepts(event.Type) {
			continue
		}
		select {
		case sub <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events lost to full subscriber buffers
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
