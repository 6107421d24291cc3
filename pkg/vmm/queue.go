package vmm

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Queue is a serialized execution context in the style of a libdispatch
// serial queue: work items run one at a time, in FIFO order, on a
// single dedicated goroutine. The virtualization framework requires all
// machine calls to happen on one such queue.
type Queue struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
}

// NewQueue creates a new serial queue and starts its worker goroutine.
func NewQueue(name string) *Queue {
	q := &Queue{name: name}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		item()
	}
}

func (q *Queue) dispatch(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, fn)
	q.cond.Signal()
	return true
}

// Dispatch enqueues fn and returns immediately. Work dispatched to a
// closed queue is dropped.
func (q *Queue) Dispatch(fn func()) {
	if !q.dispatch(fn) {
		log.Debugf("dispatch on closed queue %s dropped", q.name)
	}
}

// DispatchSync enqueues fn and waits for it to finish. It returns
// immediately without running fn when the queue is closed.
func (q *Queue) DispatchSync(fn func()) {
	done := make(chan struct{})
	if !q.dispatch(func() {
		fn()
		close(done)
	}) {
		return
	}
	<-done
}

// Await enqueues an asynchronous operation and blocks the caller until
// its completion callback fires. The queue itself always waits for the
// completion before moving to the next item, so two operations can
// never overlap inside the engine; the timeout only bounds the caller's
// wait. A zero or negative timeout waits forever.
func (q *Queue) Await(timeout time.Duration, op func(complete func(error))) error {
	result := make(chan error, 1)
	if !q.dispatch(func() {
		completion := make(chan error, 1)
		op(func(err error) {
			completion <- err
		})
		err := <-completion
		result <- err
	}) {
		return fmt.Errorf("queue %s is closed", q.name)
	}

	if timeout <= 0 {
		return <-result
	}
	select {
	case err := <-result:
		return err
	case <-time.After(timeout):
		log.Warnf("operation on queue %s still in flight after %v, abandoning wait", q.name, timeout)
		return ErrTimeout
	}
}

// Close stops the queue once all queued items have run. Pending
// DispatchSync and Await callers are still served.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Signal()
}
