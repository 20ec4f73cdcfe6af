package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cdfmlr/graphpool/pool"
	"github.com/cdfmlr/graphpool/transport"
)

func smallConfig() pool.Config {
	return pool.Config{
		MinSize:             1,
		MaxSize:             2,
		ConnectionTimeout:   time.Second,
		AcquisitionTimeout:  time.Second,
		HealthCheckInterval: time.Hour,
		RetryAttempts:       1,
		RetryDelay:          time.Millisecond,
	}
}

func TestCreateGetClose(t *testing.T) {
	ctx := context.Background()
	r := New()

	_, err := r.Create(ctx, "main", smallConfig(), transport.NewFakeConnector())
	require.NoError(t, err)

	_, err = r.Create(ctx, "main", smallConfig(), transport.NewFakeConnector())
	require.ErrorIs(t, err, ErrAlreadyExists)

	p, err := r.Get("main")
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NoError(t, r.Close("main"))
	_, err = r.Get("main")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCloseAll(t *testing.T) {
	ctx := context.Background()
	r := New()

	_, err := r.Create(ctx, "a", smallConfig(), transport.NewFakeConnector())
	require.NoError(t, err)
	_, err = r.Create(ctx, "b", smallConfig(), transport.NewFakeConnector())
	require.NoError(t, err)

	require.NoError(t, r.CloseAll())

	_, err = r.Get("a")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get("b")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDefaultIsSingleton(t *testing.T) {
	require.Same(t, Default(), Default())
}
