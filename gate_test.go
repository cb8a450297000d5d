package mcpgateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestGate_ReadyFastPath(t *testing.T) {
	state := newTestState(t)
	gate := NewRequestGate(state, 4)
	driveToReady(t, state, V20250618)

	require.NoError(t, gate.Wait(context.Background()))
	assert.Equal(t, 0, gate.QueueLen())
}

func TestRequestGate_ReleasesQueueOnReady(t *testing.T) {
	state := newTestState(t)
	gate := NewRequestGate(state, 8)

	var wg sync.WaitGroup
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- gate.Wait(context.Background())
		}()
	}

	// Give the waiters time to park before the handshake completes.
	require.Eventually(t, func() bool {
		return gate.QueueLen() == 5
	}, time.Second, 5*time.Millisecond)

	driveToReady(t, state, V20241105)
	wg.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}
}

func TestRequestGate_ReleasesQueueWithHandshakeError(t *testing.T) {
	state := newTestState(t)
	gate := NewRequestGate(state, 8)

	done := make(chan error, 1)
	go func() {
		done <- gate.Wait(context.Background())
	}()

	require.Eventually(t, func() bool {
		return gate.QueueLen() == 1
	}, time.Second, 5*time.Millisecond)

	cause := errors.New("backend rejected initialize")
	state.MarkFailed(cause)

	err := <-done
	var closed *ConnectionClosedError
	require.Error(t, err)
	require.True(t, errors.As(err, &closed))
	assert.Equal(t, PhaseFailed, closed.Phase)
	assert.True(t, errors.Is(err, cause))
}

func TestRequestGate_RejectsAfterFailure(t *testing.T) {
	state := newTestState(t)
	gate := NewRequestGate(state, 4)
	state.MarkFailed(errors.New("gone"))

	err := gate.Wait(context.Background())
	var closed *ConnectionClosedError
	require.Error(t, err)
	assert.True(t, errors.As(err, &closed))
}

func TestRequestGate_QueueBound(t *testing.T) {
	state := newTestState(t)
	gate := NewRequestGate(state, 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		go func() { _ = gate.Wait(ctx) }()
	}
	require.Eventually(t, func() bool {
		return gate.QueueLen() == 2
	}, time.Second, 5*time.Millisecond)

	err := gate.Wait(ctx)
	var full *QueueFullError
	require.Error(t, err)
	require.True(t, errors.As(err, &full))
	assert.Equal(t, 2, full.Depth)
	assert.Equal(t, "test-server", full.ServerName)

	state.BeginClose()
}

func TestRequestGate_ContextCancellation(t *testing.T) {
	state := newTestState(t)
	gate := NewRequestGate(state, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- gate.Wait(ctx)
	}()

	require.Eventually(t, func() bool {
		return gate.QueueLen() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))

	// The abandoned waiter no longer occupies queue space.
	assert.Equal(t, 0, gate.QueueLen())

	state.BeginClose()
}
