package mcpgateway

import "sync"

// ConnectionPhase is the handshake phase of one backend connection. Phases
// only move forward, except that Failed is reachable from any non-terminal
// phase and Closing is entered on shutdown.
type ConnectionPhase int

const (
	// PhaseConnecting - the transport is up, nothing has been sent.
	PhaseConnecting ConnectionPhase = iota
	// PhaseInitializing - initialize was sent, awaiting the response.
	PhaseInitializing
	// PhaseSendingInitialized - the response was accepted, the initialized
	// notification is on its way out.
	PhaseSendingInitialized
	// PhaseReady - the handshake completed, normal traffic may flow.
	PhaseReady
	// PhaseFailed - the handshake failed; terminal for this connection.
	PhaseFailed
	// PhaseClosing - the connection is shutting down; terminal.
	PhaseClosing
)

func (p ConnectionPhase) String() string {
	switch p {
	case PhaseConnecting:
		return "Connecting"
	case PhaseInitializing:
		return "Initializing"
	case PhaseSendingInitialized:
		return "SendingInitialized"
	case PhaseReady:
		return "Ready"
	case PhaseFailed:
		return "Failed"
	case PhaseClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// ConnectionState tracks the handshake phase, negotiated revision and adapter
// of one backend connection. Each connection has its own state with its own
// mutex; nothing here is shared across connections, so backends negotiate
// fully in parallel.
//
// Invariant: protocolVersion and adapter are set together, exactly once, and
// never change afterwards.
type ConnectionState struct {
	mu         sync.Mutex
	serverName string
	phase      ConnectionPhase

	protocolVersion ProtocolVersion
	adapter         Adapter

	record  *HandshakeRecord
	failure error

	// settled closes when the connection reaches Ready, Failed or Closing,
	// waking anything queued on the request gate.
	settled     chan struct{}
	settledOnce sync.Once

	logger Logger
}

// NewConnectionState creates the state for a freshly connected backend, in
// phase Connecting.
func NewConnectionState(serverName string, record *HandshakeRecord, logger Logger) *ConnectionState {
	if logger == nil {
		logger = NewNullLogger()
	}
	return &ConnectionState{
		serverName: serverName,
		phase:      PhaseConnecting,
		record:     record,
		settled:    make(chan struct{}),
		logger:     logger,
	}
}

// ServerName returns the backend's name, used in errors and diagnostics.
func (s *ConnectionState) ServerName() string {
	return s.serverName
}

// Phase returns the current handshake phase.
func (s *ConnectionState) Phase() ConnectionPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// IsReady reports whether normal traffic may flow.
func (s *ConnectionState) IsReady() bool {
	return s.Phase() == PhaseReady
}

// ProtocolVersion returns the negotiated revision. The second return is false
// until the initialize response has been accepted.
func (s *ConnectionState) ProtocolVersion() (ProtocolVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion, s.protocolVersion != ""
}

// Adapter returns the installed adapter, or nil before negotiation finished.
func (s *ConnectionState) Adapter() Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter
}

// Err returns the error that moved the connection to Failed, if any.
func (s *ConnectionState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Record returns the handshake timing record for diagnostics.
func (s *ConnectionState) Record() *HandshakeRecord {
	return s.record
}

// StartInitialization moves Connecting to Initializing. Called when the
// initialize request goes out.
func (s *ConnectionState) StartInitialization() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseConnecting {
		return &InvalidStateTransitionError{Attempted: PhaseInitializing.String(), CurrentPhase: s.phase}
	}
	s.phase = PhaseInitializing
	s.record.MarkInitializeSent()
	return nil
}

// ReceivedInitializeResponse moves Initializing to SendingInitialized and
// installs the negotiated revision and its adapter. This is the only place
// either is ever written.
func (s *ConnectionState) ReceivedInitializeResponse(version ProtocolVersion, adapter Adapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseInitializing {
		return &InvalidStateTransitionError{Attempted: PhaseSendingInitialized.String(), CurrentPhase: s.phase}
	}
	s.phase = PhaseSendingInitialized
	s.protocolVersion = version
	s.adapter = adapter
	s.record.MarkInitializeReceived()
	return nil
}

// CompleteInitialization moves SendingInitialized to Ready and opens the
// connection for traffic.
func (s *ConnectionState) CompleteInitialization() error {
	s.mu.Lock()

	if s.phase != PhaseSendingInitialized {
		phase := s.phase
		s.mu.Unlock()
		return &InvalidStateTransitionError{Attempted: PhaseReady.String(), CurrentPhase: phase}
	}
	s.phase = PhaseReady
	s.record.MarkCompleted()
	version := s.protocolVersion
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"server":          s.serverName,
		"protocolVersion": version.String(),
	}).Info("protocol version negotiated")

	if version.IsDeprecated() {
		s.logger.WithFields(map[string]interface{}{
			"server":          s.serverName,
			"protocolVersion": version.String(),
		}).Warn("backend speaks a deprecated protocol version, consider upgrading it")
	}

	s.settle()
	return nil
}

// MarkFailed forces the connection into the terminal Failed phase from any
// non-terminal phase, recording the cause. Calling it on an already terminal
// connection keeps the first failure.
func (s *ConnectionState) MarkFailed(cause error) {
	s.mu.Lock()
	if s.phase == PhaseFailed || s.phase == PhaseClosing {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseFailed
	s.failure = cause
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"server": s.serverName,
	}).WithErr(cause).Error("backend connection failed")

	s.settle()
}

// BeginClose moves the connection into the terminal Closing phase. Queued
// requests fail fast rather than hang.
func (s *ConnectionState) BeginClose() {
	s.mu.Lock()
	if s.phase == PhaseFailed || s.phase == PhaseClosing {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseClosing
	s.mu.Unlock()

	s.settle()
}

// CanSendRequest reports whether a method may go out right now: only
// initialize while Connecting, anything once Ready, nothing otherwise.
func (s *ConnectionState) CanSendRequest(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case method == MethodInitialize:
		return s.phase == PhaseConnecting
	case s.phase == PhaseReady:
		return true
	default:
		return false
	}
}

// Settled returns a channel that closes once the connection reaches a settled
// phase: Ready, Failed or Closing.
func (s *ConnectionState) Settled() <-chan struct{} {
	return s.settled
}

func (s *ConnectionState) settle() {
	s.settledOnce.Do(func() { close(s.settled) })
}
