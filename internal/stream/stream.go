package stream

import (
	"context"
	"sync"
	"time"

	"pricetrail.io/internal/obs"
)

// Topic names a watched table or the auth session channel.
type Topic string

const (
	TopicProduct   Topic = "product"
	TopicPriceHist Topic = "pricehist"
	TopicAudit     Topic = "product_audit"
	TopicAuth      Topic = "auth"
)

// Table operations carried in Event.Op for table topics.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Event is a change notification. Subscribers re-fetch rather than patch.
type Event struct {
	Topic   Topic     `json:"topic"`
	Op      string    `json:"op"`
	Key     string    `json:"key,omitempty"`
	Subject string    `json:"subject,omitempty"`
	At      time.Time `json:"at"`
	Origin  string    `json:"origin,omitempty"`
}

// Publisher accepts change events.
type Publisher interface {
	Publish(evt Event)
}

// Subscriber hands out event channels scoped to a context.
type Subscriber interface {
	Subscribe(ctx context.Context, topics ...Topic) <-chan Event
}

type subscription struct {
	ch     chan Event
	topics map[Topic]struct{}
}

func (s subscription) wants(t Topic) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[t]
	return ok
}

// Hub fans events out to all active subscribers (SSE clients, view invalidators).
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscription
	next int
}

// New initialises an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[int]subscription)}
}

// Subscribe registers a subscriber for topics (all topics when none are given).
// The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, topics ...Topic) <-chan Event {
	sub := subscription{ch: make(chan Event, 16)}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(sub.ch)
		h.mu.Unlock()
	}()

	return sub.ch
}

// Publish fans the event out without blocking; slow subscribers miss it.
func (h *Hub) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.wants(evt.Topic) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			obs.ChangeEventsDropped.Inc()
		}
	}
}

// Subscribers reports the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(Event) {}
