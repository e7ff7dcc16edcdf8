// Package observer is a typed subscriber registry. Subscribers hold an
// explicit Subscription handle and must Unsubscribe when disposed; events are
// delivered inline on the notifier's goroutine or through a Queue.
package observer

import (
	"sync"
)

// Dispatcher runs a delivery. Inline dispatch calls fn directly.
type Dispatcher interface {
	Dispatch(fn func())
}

type inline struct{}

func (inline) Dispatch(fn func()) { fn() }

// Inline delivers on the caller's goroutine.
var Inline Dispatcher = inline{}

// Registry fans values of type T out to subscribers in subscription order.
// It is safe for concurrent use.
type Registry[T any] struct {
	mu       sync.RWMutex
	next     uint64
	order    []uint64
	subs     map[uint64]func(T)
	dispatch Dispatcher
}

// New returns a Registry delivering through d (Inline when nil).
func New[T any](d Dispatcher) *Registry[T] {
	if d == nil {
		d = Inline
	}
	return &Registry[T]{subs: make(map[uint64]func(T)), dispatch: d}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe stops delivery to the subscriber. It is idempotent.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Subscribe registers fn and returns its handle.
func (r *Registry[T]) Subscribe(fn func(T)) *Subscription {
	r.mu.Lock()
	r.next++
	id := r.next
	r.subs[id] = fn
	r.order = append(r.order, id)
	r.mu.Unlock()

	return &Subscription{cancel: func() { r.remove(id) }}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of live subscriptions.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Notify delivers v to every current subscriber. The subscriber set is
// snapshotted first, so subscribers may unsubscribe during delivery.
func (r *Registry[T]) Notify(v T) {
	r.mu.RLock()
	fns := make([]func(T), 0, len(r.order))
	for _, id := range r.order {
		fns = append(fns, r.subs[id])
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn := fn
		r.dispatch.Dispatch(func() { fn(v) })
	}
}

// Queue is a Dispatcher backed by one worker goroutine, preserving
// delivery order. Close drains pending deliveries and stops the worker.
type Queue struct {
	ch     chan func()
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewQueue starts a queue with the given buffer size.
func NewQueue(buffer int) *Queue {
	q := &Queue{ch: make(chan func(), buffer), done: make(chan struct{})}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for fn := range q.ch {
		fn()
	}
}

// Dispatch enqueues fn; after Close it is dropped.
func (q *Queue) Dispatch(fn func()) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	q.ch <- fn
}

// Close stops accepting work and waits for queued deliveries to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
}
