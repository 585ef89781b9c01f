// Package pubsub provides the in-process event bus used to coordinate
// components that react to state changes they did not cause.
//
// Delivery to handlers is synchronous on the publisher's goroutine, in
// registration order. Channel subscribers (used for streaming to websocket
// clients) are fed without blocking after the handlers that precede them.
package pubsub

import (
	"strconv"
	"sync"
)

// Topic represents a subscription topic.
type Topic string

const (
	// TopicChangeConfigButtons signals that admin-mode control visibility toggled.
	TopicChangeConfigButtons Topic = "changeConfigButtons"
	// TopicSelectingNewGame opens a game-selection edit session.
	TopicSelectingNewGame Topic = "selectingNewGame"
	// TopicSelectedNewGame closes a game-selection edit session.
	TopicSelectedNewGame Topic = "selectedNewGame"
	// TopicChangeCabinetType signals that a cabinet's target changed and
	// target-dependent caches must be refetched. The filter is the cabinet IP.
	TopicChangeCabinetType Topic = "changeCabinetType"
	// TopicCabinetsUpdated carries a fresh cabinet list after a registry mutation.
	TopicCabinetsUpdated Topic = "cabinetsUpdated"
)

// Event is what handlers receive.
type Event struct {
	Topic   Topic
	Filter  string
	Payload interface{}
}

// Handler is invoked synchronously for each matching event.
type Handler func(Event)

// Subscriber represents a subscription. Exactly one of Handler or Channel is set.
type Subscriber struct {
	ID      string
	Topic   Topic
	Filter  string // Optional filter value (e.g., cabinet ip)
	Handler Handler
	Channel chan interface{}

	closed bool // guarded by PubSub.mu
}

func (s *Subscriber) matches(filter string) bool {
	return s.Filter == "" || filter == "" || s.Filter == filter
}

// PubSub manages subscriptions and message distribution.
type PubSub struct {
	mu          sync.RWMutex
	subscribers map[Topic][]*Subscriber
	nextID      int
}

// New creates a new PubSub instance.
func New() *PubSub {
	return &PubSub{
		subscribers: make(map[Topic][]*Subscriber),
	}
}

// Handle registers a synchronous handler for a topic.
func (ps *PubSub) Handle(topic Topic, filter string, handler Handler) *Subscriber {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	sub := &Subscriber{
		ID:      ps.newID(),
		Topic:   topic,
		Filter:  filter,
		Handler: handler,
	}
	ps.subscribers[topic] = append(ps.subscribers[topic], sub)
	return sub
}

// Subscribe creates a new channel subscription for a topic.
func (ps *PubSub) Subscribe(topic Topic, filter string, bufferSize int) *Subscriber {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	sub := &Subscriber{
		ID:      ps.newID(),
		Topic:   topic,
		Filter:  filter,
		Channel: make(chan interface{}, bufferSize),
	}
	ps.subscribers[topic] = append(ps.subscribers[topic], sub)
	return sub
}

func (ps *PubSub) newID() string {
	ps.nextID++
	return strconv.Itoa(ps.nextID)
}

// Unsubscribe removes a subscription.
func (ps *PubSub) Unsubscribe(sub *Subscriber) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	subs := ps.subscribers[sub.Topic]
	for i, s := range subs {
		if s.ID == sub.ID {
			s.closed = true
			if s.Channel != nil {
				close(s.Channel)
			}
			// Copy so that a Publish iterating the old slice is unaffected.
			remaining := make([]*Subscriber, 0, len(subs)-1)
			remaining = append(remaining, subs[:i]...)
			remaining = append(remaining, subs[i+1:]...)
			ps.subscribers[sub.Topic] = remaining
			return
		}
	}
}

// Publish delivers a message to all subscribers of a topic in registration order.
// If filter is non-empty, only subscribers with a matching or empty filter receive it.
// Handlers may publish or (un)subscribe re-entrantly.
func (ps *PubSub) Publish(topic Topic, filter string, message interface{}) {
	ps.mu.RLock()
	subs := ps.subscribers[topic]
	ps.mu.RUnlock()

	event := Event{Topic: topic, Filter: filter, Payload: message}
	for _, sub := range subs {
		if !sub.matches(filter) {
			continue
		}
		if sub.Handler != nil {
			if ps.active(sub) {
				sub.Handler(event)
			}
			continue
		}
		ps.send(sub, message)
	}
}

func (ps *PubSub) active(sub *Subscriber) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return !sub.closed
}

// send feeds a channel subscriber without blocking. The read lock keeps
// Unsubscribe from closing the channel mid-send.
func (ps *PubSub) send(sub *Subscriber, message interface{}) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if sub.closed {
		return
	}
	select {
	case sub.Channel <- message:
	default:
		// Channel full, skip (non-blocking)
	}
}

// SubscriberCount returns the number of subscribers for a topic.
func (ps *PubSub) SubscriberCount(topic Topic) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}
