package mcpgateway

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *ConnectionState {
	t.Helper()
	return NewConnectionState("test-server", NewHandshakeRecord(time.Second), NewNullLogger())
}

func driveToReady(t *testing.T, state *ConnectionState, version ProtocolVersion) {
	t.Helper()
	require.NoError(t, state.StartInitialization())
	adapter := NewAdapter(LatestProtocolVersion, version, nil, nil)
	require.NoError(t, state.ReceivedInitializeResponse(version, adapter))
	require.NoError(t, state.CompleteInitialization())
}

func TestConnectionState_HappyPath(t *testing.T) {
	state := newTestState(t)
	assert.Equal(t, PhaseConnecting, state.Phase())
	assert.False(t, state.IsReady())

	_, negotiated := state.ProtocolVersion()
	assert.False(t, negotiated)
	assert.Nil(t, state.Adapter())

	require.NoError(t, state.StartInitialization())
	assert.Equal(t, PhaseInitializing, state.Phase())

	adapter := NewAdapter(LatestProtocolVersion, V20250326, nil, nil)
	require.NoError(t, state.ReceivedInitializeResponse(V20250326, adapter))
	assert.Equal(t, PhaseSendingInitialized, state.Phase())

	version, negotiated := state.ProtocolVersion()
	assert.True(t, negotiated)
	assert.Equal(t, V20250326, version)
	assert.Same(t, adapter, state.Adapter())

	require.NoError(t, state.CompleteInitialization())
	assert.Equal(t, PhaseReady, state.Phase())
	assert.True(t, state.IsReady())
}

func TestConnectionState_OutOfOrderTransitions(t *testing.T) {
	adapter := NewAdapter(LatestProtocolVersion, V20241105, nil, nil)

	tests := []struct {
		name  string
		setup func(s *ConnectionState)
		act   func(s *ConnectionState) error
	}{
		{
			name:  "response before initialize sent",
			setup: func(s *ConnectionState) {},
			act: func(s *ConnectionState) error {
				return s.ReceivedInitializeResponse(V20241105, adapter)
			},
		},
		{
			name:  "complete before response",
			setup: func(s *ConnectionState) { _ = s.StartInitialization() },
			act: func(s *ConnectionState) error {
				return s.CompleteInitialization()
			},
		},
		{
			name: "start twice",
			setup: func(s *ConnectionState) {
				_ = s.StartInitialization()
			},
			act: func(s *ConnectionState) error {
				return s.StartInitialization()
			},
		},
		{
			name: "start after failure",
			setup: func(s *ConnectionState) {
				s.MarkFailed(errors.New("transport broke"))
			},
			act: func(s *ConnectionState) error {
				return s.StartInitialization()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := newTestState(t)
			tt.setup(state)

			err := tt.act(state)
			var transition *InvalidStateTransitionError
			require.Error(t, err)
			assert.True(t, errors.As(err, &transition))
		})
	}
}

func TestConnectionState_MarkFailed(t *testing.T) {
	state := newTestState(t)
	require.NoError(t, state.StartInitialization())

	cause := errors.New("backend exited")
	state.MarkFailed(cause)

	assert.Equal(t, PhaseFailed, state.Phase())
	assert.Same(t, cause, state.Err())
	assert.False(t, state.IsReady())

	// The first failure wins.
	state.MarkFailed(errors.New("later failure"))
	assert.Same(t, cause, state.Err())

	// Closing does not overwrite a terminal failure either.
	state.BeginClose()
	assert.Equal(t, PhaseFailed, state.Phase())
}

func TestConnectionState_CanSendRequest(t *testing.T) {
	state := newTestState(t)

	// Connecting: only initialize may go out.
	assert.True(t, state.CanSendRequest(MethodInitialize))
	assert.False(t, state.CanSendRequest(MethodToolsList))

	require.NoError(t, state.StartInitialization())
	assert.False(t, state.CanSendRequest(MethodInitialize))
	assert.False(t, state.CanSendRequest(MethodToolsList))

	adapter := NewAdapter(LatestProtocolVersion, V20241105, nil, nil)
	require.NoError(t, state.ReceivedInitializeResponse(V20241105, adapter))
	assert.False(t, state.CanSendRequest(MethodToolsCall))

	require.NoError(t, state.CompleteInitialization())
	assert.True(t, state.CanSendRequest(MethodToolsList))
	assert.True(t, state.CanSendRequest(MethodPing))
	assert.False(t, state.CanSendRequest(MethodInitialize))

	state.BeginClose()
	assert.False(t, state.CanSendRequest(MethodToolsList))
}

func TestConnectionState_SettledSignal(t *testing.T) {
	state := newTestState(t)

	select {
	case <-state.Settled():
		t.Fatal("settled before the handshake finished")
	default:
	}

	driveToReady(t, state, V20250618)

	select {
	case <-state.Settled():
	case <-time.After(time.Second):
		t.Fatal("settled channel did not close on Ready")
	}
}

func TestConnectionState_ConcurrentReads(t *testing.T) {
	state := newTestState(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = state.Phase()
				_ = state.IsReady()
				_, _ = state.ProtocolVersion()
				_ = state.Adapter()
				_ = state.CanSendRequest(MethodToolsList)
			}
		}()
	}

	driveToReady(t, state, V20250326)
	wg.Wait()

	assert.True(t, state.IsReady())
	version, _ := state.ProtocolVersion()
	assert.Equal(t, V20250326, version)
}

func TestHandshakeRecord_Timings(t *testing.T) {
	record := NewHandshakeRecord(50 * time.Millisecond)
	assert.False(t, record.TimedOut())

	_, done := record.TotalDuration()
	assert.False(t, done)

	record.MarkInitializeSent()
	record.MarkInitializeReceived()
	record.MarkInitializedSent()
	record.MarkCompleted()

	total, done := record.TotalDuration()
	assert.True(t, done)
	assert.GreaterOrEqual(t, total, time.Duration(0))

	timings := record.Timings()
	assert.GreaterOrEqual(t, timings.SendInitialize, time.Duration(0))
	assert.GreaterOrEqual(t, timings.WaitForResponse, time.Duration(0))
}
