package events

import (
	"sync"
	"sync/atomic"
)

const defaultBuffer = 64

// Broker is an in-process Emitter. Subscribers that fall behind lose events
// instead of blocking the emitter.
type Broker struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	dropped atomic.Uint64
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{subs: map[*Subscription]struct{}{}, buffer: buffer}
}

type Subscription struct {
	C <-chan Event

	ch      chan Event
	broker  *Broker
	mu      sync.Mutex
	orderID string
	once    sync.Once
}

// Subscribe registers a subscriber. An empty orderID receives every event.
func (b *Broker) Subscribe(orderID string) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, broker: b, orderID: orderID}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Broker) Emit(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.matches(ev.OrderID) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every open subscription so streaming handlers return.
func (b *Broker) Close() {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		sub.Close()
	}
}

func (s *Subscription) SetFilter(orderID string) {
	s.mu.Lock()
	s.orderID = orderID
	s.mu.Unlock()
}

func (s *Subscription) matches(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderID == "" || s.orderID == orderID
}

// Close unregisters the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
		close(s.ch)
	})
}

// Multi emits to every wrapped emitter in order.
type Multi []Emitter

func (m Multi) Emit(ev Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}
