package pool

import (
	"sync/atomic"
	"time"
)

// delivery is what a waiter eventually receives: either a connection or a
// terminal error (PoolClosed / ConnectionCreateFailed). A timeout is not
// delivered: the waiter's own timer marks it dead instead.
type delivery struct {
	conn *Conn
	err  error
}

// waiter is one acquirer blocked on capacity. It is spec §4.2's "Waiter
// Queue (B)" entry: a one-shot delivery slot, a deadline, and a dead flag
// that makes timeout/cancel/delivery mutually exclusive.
//
// A waiter is owned by the goroutine that enrolled it; the pool holds only
// a plain pointer in its queue, marked dead the moment the waiter is done
// and dropped when dequeueLive or drainAll next passes it, so there is no
// cyclic ownership to worry about.
type waiter struct {
	ch       chan delivery // buffered 1: exactly one send ever succeeds
	deadline time.Time
	dead     atomic.Bool
}

func newWaiter(deadline time.Time) *waiter {
	return &waiter{
		ch:       make(chan delivery, 1),
		deadline: deadline,
	}
}

// tryDeliver hands conn to the waiter if it hasn't already timed out, been
// cancelled, or been delivered to. Returns false if the waiter was already
// dead — in which case the caller (the pool, under its lock) is
// responsible for returning conn to idle instead.
func (w *waiter) tryDeliver(conn *Conn) bool {
	if !w.dead.CompareAndSwap(false, true) {
		return false
	}
	w.ch <- delivery{conn: conn}
	return true
}

// tryFail completes the waiter with a terminal error (PoolClosed, or a
// propagated ConnectionCreateFailed). Returns false if the
// waiter was already completed by someone else.
func (w *waiter) tryFail(err error) bool {
	if !w.dead.CompareAndSwap(false, true) {
		return false
	}
	w.ch <- delivery{err: err}
	return true
}

// markDead marks the waiter dead without delivering anything — used when
// the waiter's own timer or context fires first. Returns true if this call
// won the race (i.e., no delivery/failure had landed yet).
func (w *waiter) markDead() bool {
	return w.dead.CompareAndSwap(false, true)
}

func (w *waiter) isDead() bool {
	return w.dead.Load()
}

// waiterQueue is the FIFO of pending acquirers. Enqueue/dequeue are O(1)
// amortized: dead entries are dropped as they're encountered at the head,
// never scanned again.
type waiterQueue struct {
	items []*waiter
}

func (q *waiterQueue) enqueue(w *waiter) {
	q.items = append(q.items, w)
}

// dequeueLive pops and returns the first live waiter, discarding any dead
// ones it passes over. Returns nil if no live waiter remains.
func (q *waiterQueue) dequeueLive() *waiter {
	for len(q.items) > 0 {
		w := q.items[0]
		q.items = q.items[1:]
		if !w.isDead() {
			return w
		}
	}
	return nil
}

// len reports the queue's raw length, dead entries included; it does not
// count only live waiters.
func (q *waiterQueue) len() int {
	return len(q.items)
}

func (q *waiterQueue) empty() bool {
	return len(q.items) == 0
}

// drainAll fails every remaining waiter (live or already dead — tryFail is
// a no-op on dead ones) and empties the queue. Used by Close.
func (q *waiterQueue) drainAll(err error) {
	for _, w := range q.items {
		w.tryFail(err)
	}
	q.items = nil
}
