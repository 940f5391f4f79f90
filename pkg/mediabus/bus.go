// Package mediabus fans a live transport stream out to segment encoders.
//
// Delivery is non-blocking: a subscriber whose buffer is full loses the packet
// and the drop is counted, so one slow encoder never stalls the capture
// device or its siblings.
//
// Packets published while nobody is subscribed are held in a backlog of at
// most buffer packets and handed to the next subscriber, so the gap between
// one encoder detaching and the next attaching loses no media.
package mediabus

import (
	"errors"
	"sync"
)

var (
	ErrBusClosed        = errors.New("media bus closed")
	ErrSubscriberExists = errors.New("subscriber already registered")
)

// Subscription receives packets until it is unsubscribed or the bus closes,
// at which point C is closed.
type Subscription struct {
	ID string
	C  <-chan []byte

	ch chan []byte
}

type Bus struct {
	buffer int

	mu          sync.RWMutex
	closed      bool
	subscribers map[string]*Subscription
	published   uint64
	dropped     map[string]uint64
	backlog     [][]byte
	overflow    uint64
}

func New(buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{
		buffer:      buffer,
		subscribers: make(map[string]*Subscription),
		dropped:     make(map[string]uint64),
	}
}

func (b *Bus) Subscribe(id string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.subscribers[id]; ok {
		return nil, ErrSubscriberExists
	}

	ch := make(chan []byte, b.buffer)
	for _, packet := range b.backlog {
		ch <- packet
	}
	b.backlog = nil
	sub := &Subscription{ID: id, C: ch, ch: ch}
	b.subscribers[id] = sub
	b.dropped[id] = 0
	return sub, nil
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	delete(b.dropped, id)
	close(sub.ch)
}

// Publish hands packet to every subscriber. The packet must not be modified afterwards.
func (b *Bus) Publish(packet []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.published++
	if len(b.subscribers) == 0 {
		if len(b.backlog) == b.buffer {
			b.backlog = b.backlog[1:]
			b.overflow++
		}
		b.backlog = append(b.backlog, packet)
		return nil
	}
	for id, sub := range b.subscribers {
		select {
		case sub.ch <- packet:
		default:
			b.dropped[id]++
		}
	}
	return nil
}

// Close closes every subscription. Further publishes fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.backlog = nil
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

type Stats struct {
	Subscribers int
	Published   uint64
	Dropped     map[string]uint64
	// Backlog is the number of packets waiting for the next subscriber.
	Backlog int
	// Overflow counts backlog packets discarded to make room for newer ones.
	Overflow uint64
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := make(map[string]uint64, len(b.dropped))
	for k, v := range b.dropped {
		dropped[k] = v
	}
	return Stats{
		Subscribers: len(b.subscribers),
		Published:   b.published,
		Dropped:     dropped,
		Backlog:     len(b.backlog),
		Overflow:    b.overflow,
	}
}
