package transport

import (
	"context"
	"errors"
	"testing"
)

func TestFakeConnectorFailNextConnect(t *testing.T) {
	c := NewFakeConnector()
	c.FailNextConnect(2, errors.New("down"))

	ctx := context.Background()
	if _, err := c.Connect(ctx); err == nil {
		t.Fatalf("Connect() 1st call: want error, got nil")
	}
	if _, err := c.Connect(ctx); err == nil {
		t.Fatalf("Connect() 2nd call: want error, got nil")
	}
	if _, err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() 3rd call: want nil, got %v", err)
	}
	if c.Created() != 1 {
		t.Fatalf("Created() = %d, want 1", c.Created())
	}
}

func TestFakeSessionCloseIsIdempotent(t *testing.T) {
	c := NewFakeConnector()
	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	fs := s.(*FakeSession)

	if err := fs.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if fs.CloseCount() != 2 {
		t.Fatalf("CloseCount() = %d, want 2 (CloseCount counts every call; the pool is responsible for calling Close once)", fs.CloseCount())
	}

	if err := fs.Ping(context.Background()); !errors.Is(err, ErrFakeClosed) {
		t.Fatalf("Ping() after close = %v, want ErrFakeClosed", err)
	}
}
