// Package eventbus implements the fan-out Event Bus (C9, spec §4.7): the
// only path by which the non-core HTTP/WS surface observes swap, risk, and
// price progress. Grounded on the teacher's mutex-guarded lifecycle idiom
// (pkg/batch/confirmation_tracker.go's stopCh/doneCh + sync.RWMutex shape),
// generalized from a single tracker goroutine into a topic-keyed registry of
// bounded per-subscriber channels.
package eventbus

import (
	"context"
	"log"
	"sync"
	"time"
)

// Event is the envelope published on every topic.
type Event struct {
	Subject string      // e.g. a swap ID, for per-swap subscriptions
	Topic   string      // e.g. "swap.state", "risk.decision", "price.quote"
	Seq     uint64      // monotonically increasing per Subject (spec §8 property 10)
	At      time.Time
	Payload interface{}
}

// Lagged is delivered in place of an Event when a subscriber's buffer
// overflowed and events were dropped — seq then jumps by more than one
// (spec §8 property 10: "strictly increasing and dense modulo explicit
// lagged notices").
type Lagged struct {
	Subject  string
	Dropped  int
	LastSeq  uint64
}

// Subscription is a bounded, ordered stream of Events (and occasional
// Lagged notices) for one subject.
type Subscription struct {
	C      <-chan interface{} // delivers *Event or *Lagged
	cancel func()
}

// Close ends the subscription. Safe to call multiple times.
func (s *Subscription) Close() { s.cancel() }

// Bus is the C9 fan-out hub.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]chan interface{}
	nextID      int
	seq         map[string]uint64
	bufferSize  int
	logger      *log.Logger
}

// New creates a Bus. bufferSize bounds each subscriber's channel (spec §4.7
// "bounded per-subscriber buffering").
func New(bufferSize int, logger *log.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EventBus] ", log.LstdFlags)
	}
	return &Bus{
		subscribers: make(map[string]map[int]chan interface{}),
		seq:         make(map[string]uint64),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe opens a bounded stream for all events on subject. The
// subscription is automatically closed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, subject string) *Subscription {
	// One slot beyond bufferSize is held back so a Lagged notice always fits.
	ch := make(chan interface{}, b.bufferSize+1)

	b.mu.Lock()
	if _, ok := b.subscribers[subject]; !ok {
		b.subscribers[subject] = make(map[int]chan interface{})
	}
	id := b.nextID
	b.nextID++
	b.subscribers[subject][id] = ch
	b.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		C: ch,
		cancel: func() {
			cancel()
			b.mu.Lock()
			if subs, ok := b.subscribers[subject]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.subscribers, subject)
				}
			}
			b.mu.Unlock()
		},
	}

	go func() {
		<-sctx.Done()
		sub.Close()
	}()

	return sub
}

// Publish emits an event to every subscriber of topic/subject, assigning the
// next sequence number for that subject. A subscriber whose buffer is full
// receives a Lagged notice instead of blocking the publisher — publishers
// are never blocked by a slow subscriber (spec §4.7 "bounded... buffering
// with lagged notices").
func (b *Bus) Publish(subject, topic string, payload interface{}) {
	b.mu.Lock()
	b.seq[subject]++
	seq := b.seq[subject]
	subs := make([]chan interface{}, 0, len(b.subscribers[subject]))
	for _, ch := range b.subscribers[subject] {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	evt := &Event{Subject: subject, Topic: topic, Seq: seq, At: time.Now(), Payload: payload}

	for _, ch := range subs {
		if len(ch) < b.bufferSize {
			select {
			case ch <- evt:
				continue
			default:
			}
		}
		select {
		case ch <- &Lagged{Subject: subject, Dropped: 1, LastSeq: seq}:
		default:
			b.logger.Printf("⚠️ subscriber to %s fully stalled, dropping lagged notice too", subject)
		}
	}
}

// CurrentSeq returns the last sequence number assigned to subject (0 if
// none yet), useful for resuming a subscription after a reconnect.
func (b *Bus) CurrentSeq(subject string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq[subject]
}
