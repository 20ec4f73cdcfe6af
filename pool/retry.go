package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cdfmlr/graphpool/transport"
)

// createWithRetry builds one connection, applying the retry policy of
// spec §4.4: up to cfg.RetryAttempts tries, each bounded by
// cfg.ConnectionTimeout, at least cfg.RetryDelay apart. Authentication
// failures are never retried (spec §7).
//
// It must be called without the pool lock held: it does network I/O.
func createWithRetry(ctx context.Context, connector transport.Connector, cfg Config) (*Conn, error) {
	var lastErr error

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionCreateFailed, err)
		}

		session, err := dialOnce(ctx, connector, cfg.ConnectionTimeout)
		if err == nil {
			return newConn(session), nil
		}

		var authErr *transport.AuthenticationFailedError
		if errors.As(err, &authErr) {
			return nil, fmt.Errorf("%w: %v", ErrConnectionCreateFailed, err)
		}

		lastErr = err
		if attempt < attempts-1 {
			select {
			case <-time.After(cfg.RetryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrConnectionCreateFailed, ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrConnectionCreateFailed, lastErr)
}

func dialOnce(ctx context.Context, connector transport.Connector, timeout time.Duration) (transport.Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		session transport.Session
		err     error
	}

	done := make(chan result, 1)
	go func() {
		session, err := connector.Connect(dialCtx)
		done <- result{session, err}
	}()

	select {
	case r := <-done:
		return r.session, r.err
	case <-dialCtx.Done():
		return nil, fmt.Errorf("connect: %w", dialCtx.Err())
	}
}
