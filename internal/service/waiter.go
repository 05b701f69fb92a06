package service

import (
	"sync"
)

// terminalWaiter fans a terminal snapshot out to every caller blocked on
// the same id. Unlike a one-shot correlation waiter, any number of callers
// may wait on one id and each gets its own buffered channel.
type terminalWaiter[T any] struct {
	mu      sync.Mutex
	waiters map[string]map[uint64]chan T
	next    uint64
}

func newTerminalWaiter[T any]() *terminalWaiter[T] {
	return &terminalWaiter[T]{waiters: make(map[string]map[uint64]chan T)}
}

// register returns a channel that receives the snapshot delivered for id
// and a function that abandons the wait.
func (w *terminalWaiter[T]) register(id string) (<-chan T, func()) {
	ch := make(chan T, 1)
	w.mu.Lock()
	token := w.next
	w.next++
	set, ok := w.waiters[id]
	if !ok {
		set = make(map[uint64]chan T)
		w.waiters[id] = set
	}
	set[token] = ch
	w.mu.Unlock()

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if set, ok := w.waiters[id]; ok {
			delete(set, token)
			if len(set) == 0 {
				delete(w.waiters, id)
			}
		}
	}
}

// deliver hands v to every waiter registered for id and forgets them.
// Returns how many were woken.
func (w *terminalWaiter[T]) deliver(id string, v T) int {
	w.mu.Lock()
	set := w.waiters[id]
	delete(w.waiters, id)
	w.mu.Unlock()

	for _, ch := range set {
		ch <- v
	}
	return len(set)
}

// pending reports how many callers are waiting on id.
func (w *terminalWaiter[T]) pending(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiters[id])
}
