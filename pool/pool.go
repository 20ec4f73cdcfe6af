// Package pool implements the concurrency core of a connection pool for a
// document/graph database reached over a WebSocket-RPC protocol: the
// idle/in-use/broken state machine, the FIFO waiter queue, elastic sizing,
// and the background health maintainer. See SPEC_FULL.md for the full
// design this package implements.
package pool

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"github.com/cdfmlr/graphpool/transport"
)

// Outcome is the caller-reported result of a connection's use, reported
// back to Release.
type Outcome int

const (
	// OutcomeOK means the connection behaved; it is a candidate to return
	// to idle.
	OutcomeOK Outcome = iota
	// OutcomeFailed means the caller observed the session misbehave; the
	// connection is retired unconditionally.
	OutcomeFailed
)

// Pool is spec §3/§4.4's Pool Core (D): the state machine tracking live
// connections, the idle set, and the waiter queue, under a single mutex.
// Network I/O (dialing, probing, resetting) never happens while that mutex
// is held.
type Pool struct {
	cfg       Config
	connector transport.Connector
	logger    *slog.Logger

	mu          sync.Mutex
	connections map[*Conn]struct{}
	idle        []*Conn // LIFO: push/pop at the tail (most-recently-used order)
	waiters     waiterQueue
	creating    int
	closed      bool
	stats       recorder

	maintainer *maintainer
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithLogger overrides the pool's structured logger (default: a
// slog.TextHandler on stderr at Warn level, matching the teacher's
// wsforwarder package init pattern).
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

func defaultLogger() *slog.Logger {
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).WithGroup("pool")
}

// New validates cfg, constructs min_size connections concurrently (each
// under the retry policy), optionally runs SchemaBootstrap on the first
// one, starts the health maintainer, and returns a ready Pool.
//
// If any initial connection fails after exhausting retries, New tears
// down whatever it already built and returns ErrConnectionCreateFailed.
func New(ctx context.Context, cfg Config, connector transport.Connector, opts ...Option) (*Pool, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:         cfg,
		connector:   connector,
		logger:      defaultLogger(),
		connections: make(map[*Conn]struct{}, cfg.MaxSize),
	}
	for _, opt := range opts {
		opt(p)
	}

	conns, err := p.buildInitial(ctx)
	if err != nil {
		for _, c := range conns {
			c.close()
		}
		return nil, err
	}

	p.mu.Lock()
	for _, c := range conns {
		p.connections[c] = struct{}{}
		p.stats.connCreated()
		p.idle = append(p.idle, c)
	}
	p.mu.Unlock()

	p.maintainer = startMaintainer(p)

	return p, nil
}

// buildInitial constructs min_size connections concurrently, applying the
// retry policy to each, and runs SchemaBootstrap on the first one to
// succeed. It does no locking: the pool isn't published yet.
func (p *Pool) buildInitial(ctx context.Context) ([]*Conn, error) {
	type built struct {
		conn *Conn
		err  error
	}

	results := make([]built, p.cfg.MinSize)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.MinSize; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := createWithRetry(ctx, p.connector, p.cfg)
			results[i] = built{conn: c, err: err}
		}(i)
	}
	wg.Wait()

	var conns []*Conn
	var firstErr error
	for _, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		conns = append(conns, r.conn)
	}

	if firstErr != nil {
		return conns, firstErr
	}

	if p.cfg.SchemaBootstrap != "" && len(conns) > 0 {
		if _, err := conns[0].session.Execute(ctx, p.cfg.SchemaBootstrap, nil); err != nil {
			return conns, fmt.Errorf("%w: schema bootstrap: %v", ErrConnectionCreateFailed, err)
		}
	}

	return conns, nil
}

// Acquire borrows a connection, enrolling as a waiter if none is
// immediately available and the pool is at capacity. ctx's deadline (if
// any) and cfg.AcquisitionTimeout both bound the wait; whichever is
// sooner wins.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	deadline := time.Now().Add(p.cfg.AcquisitionTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if conn := p.popLiveIdleLocked(); conn != nil {
			p.handOutLocked(conn)
			p.mu.Unlock()
			return &Lease{pool: p, conn: conn}, nil
		}

		if len(p.connections)+p.creating < p.cfg.MaxSize {
			p.creating++
			p.mu.Unlock()

			conn, err := createWithRetry(ctx, p.connector, p.cfg)

			p.mu.Lock()
			p.creating--
			if err != nil {
				p.stats.errored()
				p.mu.Unlock()
				return nil, err
			}
			p.connections[conn] = struct{}{}
			p.stats.connCreated()
			p.handOutLocked(conn)
			p.mu.Unlock()
			return &Lease{pool: p, conn: conn}, nil
		}

		w := newWaiter(deadline)
		p.waiters.enqueue(w)
		p.stats.waiterEnqueued()
		p.mu.Unlock()

		conn, err := p.awaitWaiter(ctx, w, deadline)
		if err != nil {
			return nil, err
		}
		// A delivered connection from the waiter path is already
		// marked used/counted by whoever delivered it.
		return &Lease{pool: p, conn: conn}, nil
	}
}

// awaitWaiter blocks until w is delivered a connection, times out, is
// cancelled via ctx, or the pool closes.
func (p *Pool) awaitWaiter(ctx context.Context, w *waiter, deadline time.Time) (*Conn, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case d := <-w.ch:
		p.mu.Lock()
		p.stats.waiterDequeued()
		p.mu.Unlock()
		if d.err != nil {
			return nil, d.err
		}
		return d.conn, nil

	case <-timer.C:
		if w.markDead() {
			p.mu.Lock()
			p.stats.waiterDequeued()
			p.stats.timeout()
			p.mu.Unlock()
			return nil, ErrAcquireTimeout
		}
		// Lost the race: a delivery or close landed first.
		d := <-w.ch
		p.mu.Lock()
		p.stats.waiterDequeued()
		p.mu.Unlock()
		if d.err != nil {
			return nil, d.err
		}
		return d.conn, nil

	case <-ctx.Done():
		if w.markDead() {
			p.mu.Lock()
			p.stats.waiterDequeued()
			p.mu.Unlock()
			return nil, ctx.Err()
		}
		d := <-w.ch
		p.mu.Lock()
		p.stats.waiterDequeued()
		p.mu.Unlock()
		if d.err != nil {
			return nil, d.err
		}
		return d.conn, nil
	}
}

// popLiveIdleLocked pops idle connections from the tail (LIFO/MRU) until
// it finds one that doesn't need retiring, retiring the rest along the
// way. Caller holds p.mu; retirement I/O (conn.close) happens with the
// lock released and reacquired around it.
func (p *Pool) popLiveIdleLocked() *Conn {
	for len(p.idle) > 0 {
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		if conn.isHealthy() && !conn.exceedsRetirement(p.cfg) {
			return conn
		}

		p.retireLocked(conn, false)
	}
	return nil
}

// retireLocked removes conn from the live set and closes it outside the
// lock, then reacquires the lock. unhealthy controls whether
// UnhealthyDetected is incremented. Caller holds p.mu on entry and exit.
func (p *Pool) retireLocked(conn *Conn, unhealthy bool) {
	delete(p.connections, conn)
	p.stats.connClosed()
	if unhealthy {
		p.stats.unhealthyDetected()
	}

	p.mu.Unlock()
	conn.close()
	p.mu.Lock()
}

// handOutLocked marks conn used and updates stats. Caller holds p.mu.
func (p *Pool) handOutLocked(conn *Conn) {
	conn.markUsed()
	p.stats.acquired()
}

// release implements spec §4.4 "Release". It is called by Lease.Release.
func (p *Pool) release(conn *Conn, outcome Outcome) error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		conn.close()
		return nil
	}

	if outcome == OutcomeFailed || !conn.isHealthy() {
		conn.markUnhealthy()
		p.retireLocked(conn, true)
		p.stats.released()
		p.refillAndServeLocked()
		p.mu.Unlock()
		return nil
	}

	if conn.exceedsRetirement(p.cfg) {
		p.retireLocked(conn, false)
		p.stats.released()
		p.refillAndServeLocked()
		p.mu.Unlock()
		return nil
	}

	if p.cfg.ResetOnReturn {
		p.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
		err := conn.session.Use(ctx, p.cfg.Namespace, p.cfg.Database)
		cancel()

		p.mu.Lock()
		if err != nil {
			conn.markUnhealthy()
			p.retireLocked(conn, true)
			p.stats.released()
			p.refillAndServeLocked()
			p.mu.Unlock()
			return nil
		}
	}

	conn.markFree()
	p.stats.released()
	p.idle = append(p.idle, conn)
	p.serveWaitersFromIdleLocked()
	p.mu.Unlock()
	return nil
}

// serveWaitersFromIdleLocked hands idle connections to waiting acquirers,
// in FIFO waiter order, for as long as both are non-empty. Caller holds
// p.mu.
func (p *Pool) serveWaitersFromIdleLocked() {
	for len(p.idle) > 0 && !p.waiters.empty() {
		w := p.waiters.dequeueLive()
		if w == nil {
			break
		}
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		p.handOutLocked(conn)
		if !w.tryDeliver(conn) {
			// Raced with a timeout/cancel: the handout never
			// happened from the waiter's perspective. Undo it and
			// put the connection back, then try the next waiter.
			conn.markFree()
			p.stats.released() // released() balances the speculative acquired()
			p.idle = append(p.idle, conn)
		}
	}
}

// refillAndServeLocked is called after a retirement. It first tries to
// satisfy the head waiter (if any) by constructing a fresh connection in
// its place, then separately tops the pool back up toward min_size.
// Caller holds p.mu; releases and reacquires it around I/O.
func (p *Pool) refillAndServeLocked() {
	if !p.waiters.empty() && len(p.connections)+p.creating < p.cfg.MaxSize {
		w := p.waiters.dequeueLive()
		if w != nil {
			p.creating++
			p.mu.Unlock()
			conn, err := createWithRetry(context.Background(), p.connector, p.cfg)
			p.mu.Lock()
			p.creating--

			if err != nil {
				p.stats.errored()
				w.tryFail(err)
			} else {
				p.connections[conn] = struct{}{}
				p.stats.connCreated()
				p.handOutLocked(conn)
				if !w.tryDeliver(conn) {
					conn.markFree()
					p.stats.released()
					p.idle = append(p.idle, conn)
					p.serveWaitersFromIdleLocked()
				}
			}
		}
	}

	p.refillToMinLocked()
}

// refillToMinLocked constructs connections one at a time, synchronously in
// the calling goroutine (releasing p.mu around each dial), until
// connections+creating reaches min_size or a construction fails. It
// starts no background goroutine: a caller such as release returns only
// after the refill is done. Caller holds p.mu.
func (p *Pool) refillToMinLocked() {
	for !p.closed && len(p.connections)+p.creating < p.cfg.MinSize {
		p.creating++
		p.mu.Unlock()
		conn, err := createWithRetry(context.Background(), p.connector, p.cfg)
		p.mu.Lock()
		p.creating--

		if err != nil {
			p.stats.errored()
			if p.maintainer != nil {
				p.maintainer.logDeduped(err.Error(), "refill to min_size failed", "err", err)
			} else {
				p.logger.Warn("refill to min_size failed", "err", err)
			}
			break
		}
		if p.closed {
			// Close ran while this connection was being dialed; it
			// never belonged to the set Close swept, so close it here
			// instead of handing it to idle or a waiter.
			p.mu.Unlock()
			conn.close()
			p.mu.Lock()
			break
		}
		p.connections[conn] = struct{}{}
		p.stats.connCreated()
		p.idle = append(p.idle, conn)
		p.serveWaitersFromIdleLocked()
	}
}

// Close is idempotent. It marks the pool closed, then stops the health
// maintainer and joins it, so any tick already in flight runs to
// completion before Close takes its snapshot; such a tick sees the pool
// closed and retires the connections it was probing or dialing itself
// instead of returning them to p.idle — otherwise a racing tick could
// hand a connection to an already-closed pool, leaking it forever (spec
// §8 property 6: every connection is closed exactly once). It then fails
// every pending waiter with ErrPoolClosed, closes every idle connection
// (in-use connections are closed when their lease is released, per spec
// §4.4), and makes all future operations fail ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.maintainer != nil {
		p.maintainer.stop()
	}

	p.mu.Lock()
	p.waiters.drainAll(ErrPoolClosed)

	toClose := make([]*Conn, 0, len(p.idle))
	toClose = append(toClose, p.idle...)
	p.idle = nil
	p.mu.Unlock()

	for _, c := range toClose {
		c.close()
	}

	p.mu.Lock()
	for _, c := range toClose {
		delete(p.connections, c)
		p.stats.connClosed()
	}
	p.mu.Unlock()

	return nil
}

// Stats returns a consistent snapshot of the pool's counters and gauges.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshot()
}
