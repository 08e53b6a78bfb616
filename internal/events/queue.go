package events

import "sync"

// Queue is an Emitter whose Emit never waits for the consumer. Events are
// buffered without bound and delivered in order on the channel returned
// by Events. The channel is closed after Close once the buffer drains.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	closed  bool
	out     chan Event
}

// NewQueue starts a queue and its delivery goroutine.
func NewQueue() *Queue {
	q := &Queue{out: make(chan Event)}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

// Emit buffers e. Events emitted after Close are dropped.
func (q *Queue) Emit(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, e)
	q.cond.Signal()
}

// Close stops accepting events. Buffered events are still delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
}

// Events returns the delivery channel.
func (q *Queue) Events() <-chan Event {
	return q.out
}

func (q *Queue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		for _, e := range batch {
			q.out <- e
		}
	}
}
