// Package events is the completion-observer hub of SPEC_FULL.md §S:
// CHECKPOINT_END and RESTART_END notifications, fanned out to every
// registered observer. Grounded on the teacher's pkg/events Broker
// (buffered event channel, per-subscriber buffered channel, broadcast
// loop that drops rather than blocks a slow subscriber), re-themed from
// cluster lifecycle events to the two completion events spec.md §4.1
// defines.
package events

import (
	"sync"
	"time"

	"github.com/cuemby/strata/pkg/types"
)

// Event is one completion notification.
type Event struct {
	Kind      types.CompletionEvent
	Name      string
	Version   int
	Timestamp time.Time
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans completion events out to subscribers without letting a slow
// subscriber stall the publisher.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker builds a Broker. Call Start before publishing.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's dispatch loop.
func (b *Broker) Start() { go b.run() }

// Stop stops the dispatch loop.
func (b *Broker) Stop() { close(b.stopCh) }

// Subscribe returns a new channel that receives every event published
// from this point on.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues ev for broadcast, stamping its Timestamp if unset.
func (b *Broker) Publish(ev *Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- ev:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case ev := <-b.eventCh:
			b.broadcast(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- ev:
		default:
			// subscriber buffer full, drop rather than block the broker
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Observe adapts a types.ObserverFunc callback (the client API's
// register_observer) onto the broker: it subscribes and invokes fn for
// every event delivered, until the returned unsubscribe func is called.
func (b *Broker) Observe(fn types.ObserverFunc) (unsubscribe func()) {
	sub := b.Subscribe()
	go func() {
		for ev := range sub {
			fn(ev.Name, ev.Version)
		}
	}()
	return func() { b.Unsubscribe(sub) }
}
