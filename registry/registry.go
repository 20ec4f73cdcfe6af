// Package registry provides a process-scoped mapping from a pool name to a
// *pool.Pool, per spec §4.6. It is a thin, trivial layer: all the
// interesting concurrency lives in pool.Pool itself.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cdfmlr/graphpool/pool"
	"github.com/cdfmlr/graphpool/transport"
)

var ErrAlreadyExists = errors.New("registry: a pool with this name already exists")
var ErrNotFound = errors.New("registry: no pool with this name")

// Registry serializes name -> pool bookkeeping with a single mutex.
// Registry mutations never block a pool's own operations: the mutex here
// guards only the map, not any individual Pool.
type Registry struct {
	mu    sync.Mutex
	pools map[string]*pool.Pool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{pools: make(map[string]*pool.Pool)}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns a package-level Registry instance, for hosts that want a
// singleton instead of threading an explicit *Registry through their code
// (spec §9 "Singleton registry").
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = New() })
	return defaultReg
}

// Create builds a new pool under name and registers it. It fails if name
// is already taken, or if pool.New itself fails (in which case nothing is
// registered).
func (r *Registry) Create(ctx context.Context, name string, cfg pool.Config, connector transport.Connector, opts ...pool.Option) (*pool.Pool, error) {
	r.mu.Lock()
	if _, exists := r.pools[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}
	// Reserve the name with a nil placeholder while we build, so a
	// concurrent Create for the same name fails fast instead of racing
	// pool.New twice.
	r.pools[name] = nil
	r.mu.Unlock()

	p, err := pool.New(ctx, cfg, connector, opts...)
	if err != nil {
		r.mu.Lock()
		delete(r.pools, name)
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	r.pools[name] = p
	r.mu.Unlock()

	return p, nil
}

// Get returns the pool registered under name.
func (r *Registry) Get(name string) (*pool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pools[name]
	if !exists || p == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p, nil
}

// Close closes and forgets the pool registered under name.
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	p, exists := r.pools[name]
	delete(r.pools, name)
	r.mu.Unlock()

	if !exists || p == nil {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p.Close()
}

// CloseAll closes every registered pool, best-effort and in parallel, and
// empties the registry. Errors are joined, not short-circuited: a failure
// closing one pool doesn't stop the others from being closed.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	pools := make([]*pool.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		if p != nil {
			pools = append(pools, p)
		}
	}
	r.pools = make(map[string]*pool.Pool)
	r.mu.Unlock()

	errs := make([]error, len(pools))
	var wg sync.WaitGroup
	for i, p := range pools {
		wg.Add(1)
		go func(i int, p *pool.Pool) {
			defer wg.Done()
			errs[i] = p.Close()
		}(i, p)
	}
	wg.Wait()

	return errors.Join(errs...)
}
