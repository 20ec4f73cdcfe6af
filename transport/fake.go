package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// FakeConnector is an in-memory Connector for tests: it hands out
// FakeSessions without touching the network, optionally failing or
// delaying according to the script the test installs.
type FakeConnector struct {
	mu sync.Mutex

	// ConnectErr, when non-nil, is returned by the next N calls to Connect
	// (N = FailNext; a negative FailNext means fail forever until cleared,
	// and 0 means Connect does not fail).
	ConnectErr error
	FailNext   int

	created atomic.Int64
}

func NewFakeConnector() *FakeConnector {
	return &FakeConnector{}
}

// FailNextConnect makes the next n Connect calls fail with err.
func (c *FakeConnector) FailNextConnect(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FailNext = n
	c.ConnectErr = err
}

func (c *FakeConnector) Connect(ctx context.Context) (Session, error) {
	c.mu.Lock()
	if c.ConnectErr != nil && c.FailNext != 0 {
		err := c.ConnectErr
		if c.FailNext > 0 {
			c.FailNext--
			if c.FailNext == 0 {
				c.ConnectErr = nil
			}
		}
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := c.created.Add(1)
	return &FakeSession{id: id}, nil
}

func (c *FakeConnector) Created() int64 {
	return c.created.Load()
}

// FakeSession is a scriptable, in-memory Session. Tests flip PingErr /
// ExecuteErr to simulate a connection going bad mid-flight.
type FakeSession struct {
	id int64

	mu        sync.Mutex
	closed    bool
	closeN    int
	PingErr   error
	ExecuteErr error
}

var ErrFakeClosed = errors.New("transport: fake session closed")

func (s *FakeSession) Authenticate(ctx context.Context, creds Credentials) error {
	return nil
}

func (s *FakeSession) Use(ctx context.Context, namespace, database string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrFakeClosed
	}
	return nil
}

func (s *FakeSession) Execute(ctx context.Context, statement string, params map[string]any) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Result{}, ErrFakeClosed
	}
	if s.ExecuteErr != nil {
		return Result{}, s.ExecuteErr
	}
	return Result{Raw: []byte(statement)}, nil
}

func (s *FakeSession) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrFakeClosed
	}
	return s.PingErr
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeN++
	return nil
}

// CloseCount returns how many times Close was called (used to assert
// single-close behavior from the pool's side).
func (s *FakeSession) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeN
}

// SetPingErr arms the next Ping calls to fail.
func (s *FakeSession) SetPingErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PingErr = err
}

// SetExecuteErr arms Execute to fail, simulating a QueryFailed/broken
// session observed by the caller.
func (s *FakeSession) SetExecuteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExecuteErr = err
}
