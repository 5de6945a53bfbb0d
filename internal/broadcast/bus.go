// Package broadcast fans state changes out to per-site and global topics.
// Delivery is best-effort and at-most-once: nothing is queued for
// subscribers that join later and a full subscriber buffer drops the event.
package broadcast

import (
	"strings"
	"sync"
	"sync/atomic"

	"temple-safety/internal/status"
	"temple-safety/models"
	"temple-safety/monitoring"
)

const (
	GlobalTopic     = "global"
	siteTopicPrefix = "site:"

	defaultBuffer = 64
)

func SiteTopic(siteID string) string {
	return siteTopicPrefix + siteID
}

// TopicKind reports "site" or "global" for metric labels.
func TopicKind(topic string) string {
	if strings.HasPrefix(topic, siteTopicPrefix) {
		return "site"
	}
	return GlobalTopic
}

// Envelope is what subscribers receive: the event and the topic it arrived on.
type Envelope struct {
	Topic string       `json:"topic"`
	Event models.Event `json:"data"`
}

type Subscription struct {
	bus     *Bus
	ch      chan Envelope
	topics  map[string]struct{}
	all     bool
	dropped atomic.Uint64
}

func (s *Subscription) Events() <-chan Envelope {
	return s.ch
}

// Dropped is the number of events this subscriber missed because its
// buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

func (s *Subscription) wants(topic string) bool {
	if s.all {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	monitor *monitoring.Monitor
	closed  bool
}

func NewBus(buffer int, monitor *monitoring.Monitor) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		subs:    make(map[*Subscription]struct{}),
		buffer:  buffer,
		monitor: monitor,
	}
}

// Subscribe attaches to the given topics. A subscription with no topics
// receives nothing until it is closed.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		bus:    b,
		ch:     make(chan Envelope, b.buffer),
		topics: make(map[string]struct{}, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}
	b.add(sub)
	return sub
}

// SubscribeAll receives every topic. Used by relays that mirror the bus.
func (b *Bus) SubscribeAll() *Subscription {
	sub := &Subscription{bus: b, ch: make(chan Envelope, b.buffer), all: true}
	b.add(sub)
	return sub
}

func (b *Bus) add(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return
	}
	b.subs[sub] = struct{}{}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers event to the current subscribers of topic and returns
// how many received it. It never blocks.
func (b *Bus) Publish(topic string, event models.Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.monitor.TrackBroadcast(event.Name, TopicKind(topic))

	delivered := 0
	env := Envelope{Topic: topic, Event: event}
	for sub := range b.subs {
		if !sub.wants(topic) {
			continue
		}
		select {
		case sub.ch <- env:
			delivered++
		default:
			sub.dropped.Add(1)
			b.monitor.TrackBroadcastDrop(event.Name)
		}
	}
	return delivered
}

// Dispatch routes event through the policy table: always to its site topic
// and, for dual-published events, once more to the global topic under the
// global event name.
func (b *Bus) Dispatch(event models.Event) error {
	route, ok := RouteFor(event.Name)
	if !ok {
		return status.Invalid("no broadcast route for event %q", event.Name)
	}
	if event.SiteID == "" {
		return status.Invalid("event %q has no site", event.Name)
	}

	b.Publish(SiteTopic(event.SiteID), event)
	if route.Global != "" {
		global := event
		global.Name = route.Global
		b.Publish(GlobalTopic, global)
	}
	return nil
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches every subscriber. Later publishes reach nobody.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
	b.closed = true
}
