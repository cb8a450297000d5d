package mcpgateway

import (
	"context"
	"sync"
)

// DefaultQueueDepth bounds how many calls may queue behind an in-progress
// handshake before new ones are rejected outright.
const DefaultQueueDepth = 64

// RequestGate holds outbound traffic back until its connection's handshake
// settles. Calls arriving while the handshake runs queue up to a bounded
// depth and are released in arrival order once the connection is Ready, or
// failed with the handshake's own error if it is not. On a Failed or Closing
// connection, calls are rejected immediately.
type RequestGate struct {
	state *ConnectionState
	depth int

	mu    sync.Mutex
	queue []chan error
}

// NewRequestGate creates the gate for one connection. depth <= 0 uses
// DefaultQueueDepth.
func NewRequestGate(state *ConnectionState, depth int) *RequestGate {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	g := &RequestGate{state: state, depth: depth}
	go g.watch()
	return g
}

// Wait blocks until the connection may carry a normal (non-initialize) call.
// It returns nil once Ready, the handshake's error if the connection settled
// in Failed or Closing, a QueueFullError when the queue bound is hit, or the
// context's error if the caller gives up first.
func (g *RequestGate) Wait(ctx context.Context) error {
	if g.state.IsReady() {
		return nil
	}
	if err, terminal := g.terminalErr(); terminal {
		return err
	}

	w := make(chan error, 1)
	g.mu.Lock()
	if len(g.queue) >= g.depth {
		g.mu.Unlock()
		return &QueueFullError{ServerName: g.state.ServerName(), Depth: g.depth}
	}
	g.queue = append(g.queue, w)
	g.mu.Unlock()

	select {
	case err := <-w:
		return err
	case <-g.state.Settled():
		// The drain may have run before this call enqueued; resolve from
		// the settled phase directly.
		select {
		case err := <-w:
			return err
		default:
		}
		g.remove(w)
		if err, terminal := g.terminalErr(); terminal {
			return err
		}
		return nil
	case <-ctx.Done():
		g.remove(w)
		return ctx.Err()
	}
}

// QueueLen reports how many calls are currently parked behind the handshake.
func (g *RequestGate) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// watch releases the queue, in arrival order, once the connection settles.
func (g *RequestGate) watch() {
	<-g.state.Settled()

	var result error
	if err, terminal := g.terminalErr(); terminal {
		result = err
	}

	g.mu.Lock()
	queue := g.queue
	g.queue = nil
	g.mu.Unlock()

	for _, w := range queue {
		select {
		case w <- result:
		default:
		}
	}
}

func (g *RequestGate) terminalErr() (error, bool) {
	switch phase := g.state.Phase(); phase {
	case PhaseFailed, PhaseClosing:
		return &ConnectionClosedError{
			ServerName: g.state.ServerName(),
			Phase:      phase,
			Cause:      g.state.Err(),
		}, true
	default:
		return nil, false
	}
}

func (g *RequestGate) remove(w chan error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, q := range g.queue {
		if q == w {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			return
		}
	}
}
