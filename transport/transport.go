// Package transport pins the contract between the connection pool and the
// underlying WebSocket-RPC driver. The pool only ever talks to a Session
// through this interface; it never assumes anything about how the session
// is actually wired to the wire protocol.
package transport

import (
	"context"
	"crypto/tls"
	"time"
)

// Credentials authenticate a Session against the remote server.
type Credentials struct {
	Username string
	Password string
	Token    string // alternative to Username/Password, server-dependent
}

// Result is the opaque response of a statement execution. The pool never
// looks inside it; callers decode it however the server encodes responses.
type Result struct {
	Raw     []byte
	Columns []string
}

// Session is one live RPC channel to the database server. A Session is
// owned exclusively by whoever holds it: the pool during construction and
// reset, the caller during use.
type Session interface {
	// Authenticate exchanges credentials for an authorized session.
	Authenticate(ctx context.Context, creds Credentials) error

	// Use selects the active namespace/database for subsequent statements.
	Use(ctx context.Context, namespace, database string) error

	// Execute runs a statement and returns its result.
	Execute(ctx context.Context, statement string, params map[string]any) (Result, error)

	// Ping is a short, bounded liveness probe used by the health maintainer.
	Ping(ctx context.Context) error

	// Close is idempotent and best-effort.
	Close() error
}

// Connector constructs new Sessions. A Connector is bound to one
// destination (uri, credentials, namespace/database, TLS config); the pool
// calls Connect once per connection it needs to create.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// Config bundles the construction parameters a Connector needs to dial and
// prepare a session: open the socket, authenticate, and select the
// namespace/database. It mirrors the "Construction parameters" of spec §6.
type Config struct {
	URI               string
	Credentials       Credentials
	Namespace         string
	Database          string
	TLSConfig         *tls.Config
	ConnectionTimeout time.Duration
}

// AuthenticationFailedError wraps an authentication failure so the pool can
// recognize it as non-retriable (spec §7: "AuthenticationFailed — never
// retried").
type AuthenticationFailedError struct {
	Err error
}

func (e *AuthenticationFailedError) Error() string {
	return "transport: authentication failed: " + e.Err.Error()
}

func (e *AuthenticationFailedError) Unwrap() error {
	return e.Err
}
