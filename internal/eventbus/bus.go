// Package eventbus delivers typed lifecycle events to in-process
// subscribers. Each subscriber owns an unbounded FIFO queue drained by a
// dedicated goroutine: publishing never blocks and never drops, and a slow
// subscriber cannot delay the others.
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
)

// Handler receives events. It runs on the subscription's own goroutine.
type Handler func(event.TaskEvent)

// Bus is a publish/subscribe hub for event.TaskEvent.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup
	name   string
	buffer int
}

// New creates a bus. name is used only for logging; buffer is the initial
// capacity of each subscriber queue, which still grows past it.
func New(name string, buffer int) *Bus {
	if buffer < 0 {
		buffer = 0
	}
	return &Bus{subs: make(map[uint64]*subscription), name: name, buffer: buffer}
}

type subscription struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []event.TaskEvent
	stopped bool // unsubscribed: pending events are discarded
	closing bool // bus closed: pending events are drained first
	types   map[event.Type]bool
	fn      Handler
}

// Subscribe registers fn for the given event types, or for every type when
// none are given. The returned function removes the subscription; events
// still queued for it are discarded.
func (b *Bus) Subscribe(fn Handler, types ...event.Type) (unsubscribe func()) {
	s := &subscription{fn: fn, queue: make([]event.TaskEvent, 0, b.buffer)}
	s.cond = sync.NewCond(&s.mu)
	if len(types) > 0 {
		s.types = make(map[event.Type]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(s)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()

			s.mu.Lock()
			s.stopped = true
			s.queue = nil
			s.cond.Signal()
			s.mu.Unlock()
		})
	}
}

// Publish enqueues e for every matching subscriber. It never blocks on
// handler execution. Events published after Close are ignored.
func (b *Bus) Publish(e event.TaskEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.types != nil && !s.types[e.Type] {
			continue
		}
		s.mu.Lock()
		if !s.stopped {
			s.queue = append(s.queue, e)
			s.cond.Signal()
		}
		s.mu.Unlock()
	}
}

// Close stops accepting events and waits until every subscriber has drained
// what was already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.mu.Lock()
		s.closing = true
		s.cond.Signal()
		s.mu.Unlock()
		delete(b.subs, id)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) run(s *subscription) {
	defer b.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped && !s.closing {
			s.cond.Wait()
		}
		if s.stopped || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue[0] = event.TaskEvent{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		b.deliver(s.fn, e)
	}
}

func (b *Bus) deliver(fn Handler, e event.TaskEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "bus", b.name, "event", e.Type, "task_id", e.TaskID, "panic", r)
		}
	}()
	fn(e)
}
