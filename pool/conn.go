package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cdfmlr/graphpool/transport"
)

// Conn wraps one live transport session with the bookkeeping the pool
// needs: usage count, timestamps, and health. It is spec §3's "Pooled
// Connection (A)".
//
// The bookkeeping fields below are mutated only while the owning Pool's
// mutex is held. healthy is an atomic.Bool, so reading or setting it does
// not depend on that lock, and closeOnce/closeErr are set by close, which
// the pool calls with the lock released.
type Conn struct {
	id      string
	session transport.Session

	createdAt  time.Time
	lastUsedAt time.Time
	usageCount int
	inUse      bool

	// checking is true while the health maintainer has pulled this
	// connection out of idle to probe it. A checking connection is
	// neither idle nor in_use.
	checking bool

	healthy   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newConn(session transport.Session) *Conn {
	c := &Conn{
		id:         uuid.NewString(),
		session:    session,
		createdAt:  time.Now(),
		lastUsedAt: time.Now(),
	}
	c.healthy.Store(true)
	return c
}

// ID is the stable identifier used in logs and metrics.
func (c *Conn) ID() string { return c.id }

// Session exposes the underlying transport session to the caller holding
// the connection.
func (c *Conn) Session() transport.Session { return c.session }

// markUsed records a new acquisition: in_use=true, usage_count++,
// last_used_at stamped. Caller must hold the pool lock.
func (c *Conn) markUsed() {
	c.inUse = true
	c.usageCount++
	c.lastUsedAt = time.Now()
}

// markFree records a release: in_use=false, last_used_at restamped.
// Caller must hold the pool lock.
func (c *Conn) markFree() {
	c.inUse = false
	c.lastUsedAt = time.Now()
}

// markUnhealthy is idempotent. It is an atomic store, so it does not
// depend on the pool lock; the pool's own callers hold it.
func (c *Conn) markUnhealthy() {
	c.healthy.Store(false)
}

func (c *Conn) isHealthy() bool {
	return c.healthy.Load()
}

// age is the time since creation.
func (c *Conn) age() time.Duration {
	return time.Since(c.createdAt)
}

// idleDuration is the time since the connection was last released. It is
// meaningless while in_use.
func (c *Conn) idleDuration() time.Duration {
	return time.Since(c.lastUsedAt)
}

// usage returns the current usage count.
func (c *Conn) usage() int {
	return c.usageCount
}

// close terminates the underlying session exactly once, regardless of how
// many times close is called or from how many goroutines.
func (c *Conn) close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

// exceedsRetirement reports whether cfg's usage/lifetime limits require
// this connection to be retired on its next release.
func (c *Conn) exceedsRetirement(cfg Config) bool {
	if cfg.MaxUsageCount > 0 && c.usageCount >= cfg.MaxUsageCount {
		return true
	}
	if cfg.MaxLifetime > 0 && c.age() >= cfg.MaxLifetime {
		return true
	}
	return false
}

// exceedsIdleRetirement reports whether this idle connection has sat long
// enough to be reaped, assuming the pool still has spare capacity above
// min_size (checked by the caller).
func (c *Conn) exceedsIdleRetirement(cfg Config) bool {
	return cfg.MaxIdleTime > 0 && c.idleDuration() >= cfg.MaxIdleTime
}
