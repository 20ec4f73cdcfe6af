package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"
)

// wsConnector dials a document/graph database's WebSocket-RPC endpoint.
//
// It is the concrete Connector the pool uses in production; tests use
// FakeConnector instead (see fake.go) so the concurrency core can be
// exercised without a live server.
type wsConnector struct {
	cfg Config
}

// NewWSConnector builds a Connector bound to cfg. The pool calls Connect on
// it once per connection it needs to create.
func NewWSConnector(cfg Config) Connector {
	return &wsConnector{cfg: cfg}
}

func (c *wsConnector) Connect(ctx context.Context) (Session, error) {
	wsCfg, err := websocket.NewConfig(c.cfg.URI, "http://localhost")
	if err != nil {
		return nil, fmt.Errorf("transport: bad uri %q: %w", c.cfg.URI, err)
	}
	wsCfg.TlsConfig = c.cfg.TLSConfig
	if c.cfg.TLSConfig != nil && wsCfg.Location.Scheme == "ws" {
		wsCfg.Location.Scheme = "wss"
	}
	wsCfg.Dialer = &net.Dialer{Timeout: c.cfg.ConnectionTimeout}

	conn, err := websocket.DialConfig(wsCfg)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %q: %w", c.cfg.URI, err)
	}

	s := &wsSession{conn: conn}

	if creds := c.cfg.Credentials; creds != (Credentials{}) {
		if err := s.Authenticate(ctx, creds); err != nil {
			conn.Close()
			return nil, &AuthenticationFailedError{Err: err}
		}
	}
	if c.cfg.Namespace != "" || c.cfg.Database != "" {
		if err := s.Use(ctx, c.cfg.Namespace, c.cfg.Database); err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: use namespace=%q database=%q: %w", c.cfg.Namespace, c.cfg.Database, err)
		}
	}

	return s, nil
}

// wireRequest/wireResponse is a minimal request/response envelope for the
// RPC calls a Session makes. The real wire protocol of the target server is
// out of scope here (spec §1): this is just enough framing to exercise a
// WebSocket round-trip.
type wireRequest struct {
	Op     string            `json:"op"`
	Params map[string]any    `json:"params,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

type wireResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Raw    []byte `json:"raw,omitempty"`
	Column []string `json:"columns,omitempty"`
}

// wsSession is a single WebSocket connection to the server. Round trips
// are serialized by mu. Close does not take mu: it flips closed, which
// roundTrip checks before sending, and closes the socket at most once.
type wsSession struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func (s *wsSession) roundTrip(ctx context.Context, req wireRequest) (wireResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return wireResponse{}, fmt.Errorf("transport: session closed")
	}

	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetDeadline(deadline)
		defer s.conn.SetDeadline(time.Time{})
	}

	if err := websocket.JSON.Send(s.conn, req); err != nil {
		return wireResponse{}, fmt.Errorf("transport: send %s: %w", req.Op, err)
	}

	var resp wireResponse
	if err := websocket.JSON.Receive(s.conn, &resp); err != nil {
		return wireResponse{}, fmt.Errorf("transport: recv %s: %w", req.Op, err)
	}
	if !resp.OK {
		return wireResponse{}, fmt.Errorf("transport: %s failed: %s", req.Op, resp.Error)
	}
	return resp, nil
}

func (s *wsSession) Authenticate(ctx context.Context, creds Credentials) error {
	_, err := s.roundTrip(ctx, wireRequest{
		Op: "authenticate",
		Meta: map[string]string{
			"username": creds.Username,
			"token":    creds.Token,
		},
		Params: map[string]any{"password": creds.Password},
	})
	return err
}

func (s *wsSession) Use(ctx context.Context, namespace, database string) error {
	_, err := s.roundTrip(ctx, wireRequest{
		Op:     "use",
		Params: map[string]any{"namespace": namespace, "database": database},
	})
	return err
}

func (s *wsSession) Execute(ctx context.Context, statement string, params map[string]any) (Result, error) {
	resp, err := s.roundTrip(ctx, wireRequest{Op: "execute", Params: mergeParams(statement, params)})
	if err != nil {
		return Result{}, err
	}
	return Result{Raw: resp.Raw, Columns: resp.Column}, nil
}

func (s *wsSession) Ping(ctx context.Context) error {
	_, err := s.roundTrip(ctx, wireRequest{Op: "ping"})
	return err
}

func (s *wsSession) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

func mergeParams(statement string, params map[string]any) map[string]any {
	merged := make(map[string]any, len(params)+1)
	merged["statement"] = statement
	for k, v := range params {
		merged[k] = v
	}
	return merged
}
