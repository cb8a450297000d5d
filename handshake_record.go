package mcpgateway

import "time"

// HandshakeRecord captures when each handshake step happened on a connection.
// It exists for timeout detection and diagnostics only; translation
// correctness never depends on it. The record is written by the single
// goroutine driving the handshake (via the state transitions) and may be read
// afterwards.
type HandshakeRecord struct {
	StartedAt            time.Time
	InitializeSentAt     time.Time
	InitializeReceivedAt time.Time
	InitializedSentAt    time.Time
	CompletedAt          time.Time
	Timeout              time.Duration
}

// NewHandshakeRecord starts a record clocked from now.
func NewHandshakeRecord(timeout time.Duration) *HandshakeRecord {
	return &HandshakeRecord{
		StartedAt: time.Now(),
		Timeout:   timeout,
	}
}

func (r *HandshakeRecord) MarkInitializeSent()     { r.InitializeSentAt = time.Now() }
func (r *HandshakeRecord) MarkInitializeReceived() { r.InitializeReceivedAt = time.Now() }
func (r *HandshakeRecord) MarkInitializedSent()    { r.InitializedSentAt = time.Now() }
func (r *HandshakeRecord) MarkCompleted()          { r.CompletedAt = time.Now() }

// TimedOut reports whether the overall handshake budget has elapsed.
func (r *HandshakeRecord) TimedOut() bool {
	return time.Since(r.StartedAt) > r.Timeout
}

// TotalDuration returns the full handshake wall time once completed.
func (r *HandshakeRecord) TotalDuration() (time.Duration, bool) {
	if r.CompletedAt.IsZero() {
		return 0, false
	}
	return r.CompletedAt.Sub(r.StartedAt), true
}

// PhaseTimings breaks the handshake into per-step durations. Steps that never
// happened are zero.
type PhaseTimings struct {
	SendInitialize  time.Duration
	WaitForResponse time.Duration
	SendInitialized time.Duration
	MarkReady       time.Duration
}

// Timings computes the per-step durations from the recorded timestamps.
func (r *HandshakeRecord) Timings() PhaseTimings {
	var t PhaseTimings
	if !r.InitializeSentAt.IsZero() {
		t.SendInitialize = r.InitializeSentAt.Sub(r.StartedAt)
	}
	if !r.InitializeReceivedAt.IsZero() && !r.InitializeSentAt.IsZero() {
		t.WaitForResponse = r.InitializeReceivedAt.Sub(r.InitializeSentAt)
	}
	if !r.InitializedSentAt.IsZero() && !r.InitializeReceivedAt.IsZero() {
		t.SendInitialized = r.InitializedSentAt.Sub(r.InitializeReceivedAt)
	}
	if !r.CompletedAt.IsZero() && !r.InitializedSentAt.IsZero() {
		t.MarkReady = r.CompletedAt.Sub(r.InitializedSentAt)
	}
	return t
}
