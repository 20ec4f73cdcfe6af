package pool

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"
)

// maintainer is spec §4.5's Health Maintainer (E): a single background
// task, started with the pool and stopped on Close, that probes idle
// connections, reaps stale ones, and refills toward min_size. It never
// holds the pool lock across network I/O.
//
// It either ticks on a fixed time.Ticker (the default), or on a cron
// schedule when Config.HealthCheckSchedule is set, so a
// deployment can park its probes outside a known traffic peak instead of
// hammering the backend every HealthCheckInterval around the clock.
//
// errLog is a small LRU of recently logged probe/refill failure strings:
// a backend outage otherwise produces one Warn line per tick per
// connection, which is exactly the kind of log flood an operator mutes
// the pool's logger over. Re-logging the same failure is downgraded to
// Debug until it falls out of the cache.
type maintainer struct {
	pool      *Pool
	ticker    *time.Ticker
	cronSched *cron.Cron
	cronID    cron.EntryID
	stopCh    chan struct{}
	doneCh    chan struct{}

	errLog *lru.Cache[string, int]
}

func startMaintainer(p *Pool) *maintainer {
	cache, _ := lru.New[string, int](64)
	m := &maintainer{
		pool:   p,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		errLog: cache,
	}

	if p.cfg.HealthCheckSchedule != "" {
		m.cronSched = cron.New()
		id, err := m.cronSched.AddFunc(p.cfg.HealthCheckSchedule, m.tick)
		if err != nil {
			p.logger.Warn("invalid health_check_schedule, falling back to fixed interval",
				"schedule", p.cfg.HealthCheckSchedule, "err", err)
			m.cronSched = nil
		} else {
			m.cronID = id
			m.cronSched.Start()
		}
	}

	if m.cronSched == nil {
		m.ticker = time.NewTicker(p.cfg.HealthCheckInterval)
	}
	go m.run()
	return m
}

// run idles when a cron schedule drives ticks (cron has its own internal
// goroutine); it only has to wait for stop in that case.
func (m *maintainer) run() {
	defer close(m.doneCh)

	if m.cronSched != nil {
		<-m.stopCh
		return
	}

	defer m.ticker.Stop()
	for {
		select {
		case <-m.ticker.C:
			m.tick()
		case <-m.stopCh:
			return
		}
	}
}

// logDeduped logs msg at Warn the first time key is seen, and at Debug on
// every repeat while it stays in the cache.
func (m *maintainer) logDeduped(key, msg string, args ...any) {
	n, seen := m.errLog.Get(key)
	m.errLog.Add(key, n+1)
	if !seen {
		m.pool.logger.Warn(msg, args...)
		return
	}
	m.pool.logger.Debug(msg, append(args, "repeat", n+1)...)
}

// stop cancels the maintainer and blocks until its goroutine has exited.
// The maintainer holds no reference that would keep the pool alive on its
// own (spec §9): it is explicitly joined here, during Close.
func (m *maintainer) stop() {
	if m.cronSched != nil {
		// Stop returns a context that is done once any running job has
		// finished; waiting on it joins a tick already in flight.
		<-m.cronSched.Stop().Done()
	}
	close(m.stopCh)
	<-m.doneCh
}

func (m *maintainer) tick() {
	p := m.pool

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for _, c := range p.snapshotProbeCandidates() {
		p.probeOne(c)
	}

	p.reapIdle()

	p.mu.Lock()
	if !p.closed {
		p.refillToMinLocked()
	}
	p.mu.Unlock()
}

// snapshotProbeCandidates pulls candidates for a liveness probe out of
// idle — per spec §4.5, connections idle for at least half the check
// interval, or old enough to be within one interval of max_lifetime — and
// marks them "checking" so they're neither idle nor in_use while the probe
// runs outside the lock.
func (p *Pool) snapshotProbeCandidates() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates, keep []*Conn
	for _, c := range p.idle {
		dueForProbe := c.idleDuration() >= p.cfg.HealthCheckInterval/2
		nearingExpiry := p.cfg.MaxLifetime > 0 && c.age() >= p.cfg.MaxLifetime-p.cfg.HealthCheckInterval

		if dueForProbe || nearingExpiry {
			c.checking = true
			candidates = append(candidates, c)
		} else {
			keep = append(keep, c)
		}
	}
	p.idle = keep
	return candidates
}

// probeOne executes a bounded ping against conn outside the lock, then
// returns it to idle on success or retires it on failure.
func (p *Pool) probeOne(conn *Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
	err := conn.session.Ping(ctx)
	cancel()

	p.mu.Lock()
	p.stats.healthCheck()
	conn.checking = false

	if p.closed {
		// Close began while this probe was in flight. This connection
		// is not in p.idle, so Close's sweep of idle will not see it —
		// retire it here instead of handing it back to idle or a
		// waiter, neither of which a closed pool will ever service.
		p.retireLocked(conn, false)
		p.mu.Unlock()
		return
	}

	if err != nil {
		if p.maintainer != nil {
			p.maintainer.logDeduped(err.Error(), "health probe failed, retiring connection",
				"conn", conn.id, "err", fmt.Errorf("%w: %v", errProbeFailed, err))
		}
		conn.markUnhealthy()
		p.retireLocked(conn, true)
		p.refillAndServeLocked()
		p.mu.Unlock()
		return
	}

	p.idle = append(p.idle, conn)
	p.serveWaitersFromIdleLocked()
	p.mu.Unlock()
}

// reapIdle closes idle connections that have sat unused for at least
// max_idle_time, as long as doing so wouldn't take the pool below
// min_size (spec §3 lifecycle (e)).
func (p *Pool) reapIdle() {
	for {
		p.mu.Lock()
		victimIdx := -1
		for i, c := range p.idle {
			if len(p.connections) > p.cfg.MinSize && c.exceedsIdleRetirement(p.cfg) {
				victimIdx = i
				break
			}
		}
		if victimIdx < 0 {
			p.mu.Unlock()
			return
		}
		victim := p.idle[victimIdx]
		p.idle = append(p.idle[:victimIdx], p.idle[victimIdx+1:]...)
		p.retireLocked(victim, false)
		p.mu.Unlock()
	}
}
