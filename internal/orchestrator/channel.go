package orchestrator

import (
	"fmt"
	"log"
	"sync"
)

// EventChannel is the ordered, lossless, multi-subscriber stream of one job.
//
// Publish appends to a retained log and hands the event to every subscriber's
// private queue; each subscriber drains its queue on its own goroutine, so a
// slow subscriber delays only itself and never the publisher. The log is kept
// until every subscriber present at the terminal event has received it.
type EventChannel struct {
	mu       sync.Mutex
	log      []Event
	lastSeq  uint64
	terminal *Event
	closed   bool

	subs    map[uint64]*Subscription
	nextID  uint64
	pending int // subscribers still owed the terminal event

	released bool
	drained  chan struct{}

	onFault func(*SubscriberFault)
}

// NewEventChannel creates an open channel. onFault, when non-nil, is called
// from the faulting subscriber's goroutine after a callback panics.
func NewEventChannel(onFault func(*SubscriberFault)) *EventChannel {
	return &EventChannel{
		subs:    make(map[uint64]*Subscription),
		drained: make(chan struct{}),
		onFault: onFault,
	}
}

// Publish appends ev to the stream. Seq must be exactly one past the last
// published event. After a terminal event, Publish returns ErrChannelClosed.
func (c *EventChannel) Publish(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	if ev.Seq != c.lastSeq+1 {
		return &InvariantError{Reason: fmt.Sprintf("publish seq %d after %d", ev.Seq, c.lastSeq)}
	}
	c.lastSeq = ev.Seq
	c.log = append(c.log, ev)
	for _, s := range c.subs {
		s.enqueue(ev)
	}

	if ev.IsTerminal() {
		t := ev
		c.terminal = &t
		c.closed = true
		for _, s := range c.subs {
			s.owesTerminal = true
		}
		c.pending = len(c.subs)
		if c.pending == 0 {
			c.release()
		}
	}
	return nil
}

// Subscribe registers fn for every event of the job, starting from the first
// one still retained. Passing kinds restricts delivery to those kinds; the
// terminal event is delivered regardless.
func (c *EventChannel) Subscribe(fn func(Event), kinds ...EventKind) *Subscription {
	return c.SubscribeFrom(1, fn, kinds...)
}

// SubscribeFrom is Subscribe starting at sequence number from. Events that
// have already been released are not replayed; a subscriber arriving after
// release receives only the terminal event.
func (c *EventChannel) SubscribeFrom(from uint64, fn func(Event), kinds ...EventKind) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	s := newSubscription(c, c.nextID, fn, kinds)

	switch {
	case c.released:
		if c.terminal != nil && c.terminal.Seq >= from {
			s.enqueue(*c.terminal)
		} else {
			s.close()
		}
	default:
		for _, ev := range c.log {
			if ev.Seq >= from {
				s.enqueue(ev)
			}
		}
		c.subs[s.id] = s
		if c.closed {
			if c.terminal.Seq >= from {
				s.owesTerminal = true
				c.pending++
			} else {
				delete(c.subs, s.id)
				s.close()
			}
		}
	}

	go s.run()
	return s
}

// Unsubscribe removes s. Events still queued for s are dropped. It is safe to
// call more than once and from within the subscriber's own callback.
func (c *EventChannel) Unsubscribe(s *Subscription) {
	c.mu.Lock()
	if _, ok := c.subs[s.id]; ok {
		delete(c.subs, s.id)
		c.settle(s)
	}
	c.mu.Unlock()
	s.close()
}

// ack records that s has received the terminal event.
func (c *EventChannel) ack(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[s.id]; ok {
		delete(c.subs, s.id)
		c.settle(s)
	}
}

// settle clears a departing subscriber's terminal debt. Caller holds c.mu.
func (c *EventChannel) settle(s *Subscription) {
	if !s.owesTerminal {
		return
	}
	s.owesTerminal = false
	c.pending--
	if c.pending == 0 {
		c.release()
	}
}

// release drops the retained log. Caller holds c.mu.
func (c *EventChannel) release() {
	if c.released {
		return
	}
	c.released = true
	c.log = nil
	close(c.drained)
}

func (c *EventChannel) fault(f *SubscriberFault) {
	if c.onFault != nil {
		c.onFault(f)
		return
	}
	log.Printf("channel: %v", f)
}

// Drained is closed once the channel has delivered its terminal event to
// every subscriber and released the retained log.
func (c *EventChannel) Drained() <-chan struct{} {
	return c.drained
}

// Closed reports whether a terminal event has been published.
func (c *EventChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastSeq returns the sequence number of the last published event.
func (c *EventChannel) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Retained returns a copy of the retained log.
func (c *EventChannel) Retained() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.log))
	copy(out, c.log)
	return out
}

// Subscription is one consumer of an EventChannel.
type Subscription struct {
	ch    *EventChannel
	id    uint64
	fn    func(Event)
	kinds map[EventKind]bool

	// owesTerminal is guarded by ch.mu.
	owesTerminal bool

	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newSubscription(c *EventChannel, id uint64, fn func(Event), kinds []EventKind) *Subscription {
	s := &Subscription{
		ch:   c,
		id:   id,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if len(kinds) > 0 {
		s.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	return s
}

// ID returns the subscription's identifier, unique within its channel.
func (s *Subscription) ID() uint64 { return s.id }

// Done is closed once the subscription stops delivering, either after the
// terminal event or after Unsubscribe.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe is shorthand for removing s from its channel.
func (s *Subscription) Unsubscribe() {
	if s.ch != nil {
		s.ch.Unsubscribe(s)
	}
}

// Backlog returns the number of events queued but not yet delivered.
func (s *Subscription) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.mu.Unlock()
			<-s.wake
			s.mu.Lock()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.deliver(ev)
		if ev.IsTerminal() {
			s.ch.ack(s)
			s.close()
			return
		}
	}
}

func (s *Subscription) deliver(ev Event) {
	if s.kinds != nil && !s.kinds[ev.Kind] && !ev.IsTerminal() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.ch.fault(&SubscriberFault{
				Subscription: s.id,
				Seq:          ev.Seq,
				Kind:         ev.Kind,
				Stage:        ev.Stage,
				Value:        r,
			})
		}
	}()
	s.fn(ev)
}
