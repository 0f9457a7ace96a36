package dispatch

import (
	"context"
	"sync"
)

// queue is a FIFO shared by all workers with in-flight accounting. pop hands
// ownership of an item to the caller until done is called.
type queue struct {
	mu       sync.Mutex
	items    []string
	inFlight int
	stopped  bool
	changed  chan struct{}
}

func newQueue(items []string) *queue {
	q := &queue{
		items:   make([]string, len(items)),
		changed: make(chan struct{}),
	}
	copy(q.items, items)
	return q
}

// pop blocks while the queue is empty but other items are in flight, since
// they may be requeued. It returns false once the queue is drained, stopped or
// ctx is done.
func (q *queue) pop(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return "", false
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.inFlight++
			q.mu.Unlock()
			return item, true
		}
		if q.inFlight == 0 {
			q.mu.Unlock()
			return "", false
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return "", false
		}
	}
}

// done releases an item; requeue appends it to the back.
func (q *queue) done(item string, requeue bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight--
	if requeue {
		q.items = append(q.items, item)
	}
	q.broadcastLocked()
}

// stop prevents further pops. In-flight items may still be released.
func (q *queue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.broadcastLocked()
}

// drain removes and returns everything still queued.
func (q *queue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
