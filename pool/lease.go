package pool

import (
	"context"
	"sync/atomic"

	"github.com/cdfmlr/graphpool/transport"
)

// Lease is the guard returned by Acquire: a borrowed Conn plus a release
// handle. Per spec §9 ("Dynamic acquire context"), callers are expected to
// defer lease.Release(...) on every exit path; a Lease whose Release is
// never called leaks the connection for the lifetime of the pool.
type Lease struct {
	pool *Pool
	conn *Conn

	released atomic.Bool
}

// Conn returns the borrowed connection.
func (l *Lease) Conn() *Conn {
	return l.conn
}

// Release returns the connection to the pool, reporting outcome so the
// pool can decide whether to reuse or retire it. Calling Release more than
// once returns ErrAlreadyReleased and has no further effect.
func (l *Lease) Release(outcome Outcome) error {
	if !l.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	return l.pool.release(l.conn, outcome)
}

// Do is the closure-accepting convenience wrapper named in spec §9: it
// acquires a connection, runs fn, and guarantees release on every exit
// path, including panics (which it retires the connection for, then
// re-raises).
func (p *Pool) Do(ctx context.Context, fn func(session transport.Session) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	outcome := OutcomeOK
	defer func() {
		if r := recover(); r != nil {
			lease.Release(OutcomeFailed)
			panic(r)
		}
	}()

	err = fn(lease.Conn().Session())
	if err != nil {
		outcome = OutcomeFailed
	}

	if rerr := lease.Release(outcome); rerr != nil && err == nil {
		err = rerr
	}
	return err
}
