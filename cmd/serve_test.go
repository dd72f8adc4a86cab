package cmd

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	started  atomic.Bool
	shutdown atomic.Bool
	done     chan struct{}
}

func newFakeServer() *fakeServer { return &fakeServer{done: make(chan struct{})} }

func (s *fakeServer) Start() error {
	s.started.Store(true)
	<-s.done
	return nil
}

func (s *fakeServer) Shutdown(context.Context) error {
	if s.shutdown.CompareAndSwap(false, true) {
		close(s.done)
	}
	return nil
}

func TestRunServicesQueueFailureNeverStartsServer(t *testing.T) {
	server := newFakeServer()
	queueErr := errors.New("connection refused")

	err := runServices(context.Background(), server, func(context.Context) error { return queueErr }, nil)
	require.ErrorIs(t, err, queueErr)
	assert.Contains(t, err.Error(), "failed to start job queue")
	assert.False(t, server.started.Load())
}

func TestRunServicesStopsOnCancel(t *testing.T) {
	server := newFakeServer()
	var queueStarted, backgroundRan atomic.Bool

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- runServices(ctx, server,
			func(context.Context) error { queueStarted.Store(true); return nil },
			func(ctx context.Context) error { backgroundRan.Store(true); <-ctx.Done(); return nil },
		)
	}()

	require.Eventually(t, server.started.Load, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runServices did not return after cancel")
	}
	assert.True(t, queueStarted.Load())
	assert.True(t, backgroundRan.Load())
	assert.True(t, server.shutdown.Load())
}
