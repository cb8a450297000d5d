package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultClientName    = "mcp-gateway"
	defaultClientVersion = "1.0.0"
)

// Config holds the gateway's configuration. The zero value works; defaults
// are filled in by NewGateway.
type Config struct {
	Logger  Logger
	Metrics Metrics
	Tracer  trace.Tracer

	// HandshakeTimeout bounds each backend's whole initialize exchange.
	HandshakeTimeout time.Duration
	// QueueDepth bounds how many calls may queue per connection while its
	// handshake runs.
	QueueDepth int

	// ClientName and ClientVersion populate clientInfo in the initialize
	// request.
	ClientName    string
	ClientVersion string
	// Capabilities is the client capability object declared to backends.
	// It is filtered per backend revision before it is ever surfaced.
	Capabilities map[string]any

	// OnNotification receives translated backend notifications. Nil means
	// backend notifications are logged and discarded.
	OnNotification NotificationHandler
}

// Gateway is the negotiation and translation core. It owns one
// ConnectionState per backend, each independently guarded, so any number of
// backends negotiate and translate in parallel without shared locks.
type Gateway struct {
	config  Config
	logger  Logger
	metrics Metrics

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewGateway creates a gateway with the given configuration.
func NewGateway(config Config) *Gateway {
	if config.Logger == nil {
		config.Logger = NewNullLogger()
	}
	if config.Metrics == nil {
		config.Metrics = NoopMetrics{}
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = DefaultQueueDepth
	}
	if config.ClientName == "" {
		config.ClientName = defaultClientName
	}
	if config.ClientVersion == "" {
		config.ClientVersion = defaultClientVersion
	}

	return &Gateway{
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
		conns:   make(map[string]*Connection),
	}
}

// Connection is the gateway's handle to one negotiated backend. It owns the
// connection state, the request gate, and the pending-request table that maps
// response ids back to the method that produced them.
type Connection struct {
	id        string
	name      string
	transport Transport
	state     *ConnectionState
	gate      *RequestGate

	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*pendingCall

	initResult *InitializeResult

	readCancel context.CancelFunc
	readDone   chan struct{}

	logger Logger
}

// pendingCall remembers the method of an outstanding request so its response
// can be shaped by the right rule. Responses do not self-identify; this table
// is how the inferred method reaches TranslateResponse.
type pendingCall struct {
	method string
	ch     chan *Response
}

// ID returns the gateway-assigned connection identifier.
func (c *Connection) ID() string { return c.id }

// Name returns the backend's configured name.
func (c *Connection) Name() string { return c.name }

// State returns the connection's state machine.
func (c *Connection) State() *ConnectionState { return c.state }

// InitializeResult returns the backend's initialize result once negotiated,
// or nil.
func (c *Connection) InitializeResult() *InitializeResult { return c.initResult }

// Negotiate connects a named backend: it runs the handshake on the given
// transport and returns a Ready connection. On failure the connection is left
// in the Failed phase, registered for inspection, and the error describes the
// cause; the gateway never retries or renegotiates on its own.
func (g *Gateway) Negotiate(ctx context.Context, name string, transport Transport) (*Connection, error) {
	record := NewHandshakeRecord(g.config.HandshakeTimeout)
	state := NewConnectionState(name, record, g.logger)

	readCtx, readCancel := context.WithCancel(context.Background())
	conn := &Connection{
		id:         uuid.NewString(),
		name:       name,
		transport:  transport,
		state:      state,
		gate:       NewRequestGate(state, g.config.QueueDepth),
		pending:    make(map[string]*pendingCall),
		readCancel: readCancel,
		readDone:   make(chan struct{}),
		logger:     g.logger,
	}

	g.mu.Lock()
	g.conns[conn.id] = conn
	g.mu.Unlock()

	go conn.readLoop(readCtx, g)

	coordinator := &HandshakeCoordinator{
		conn: conn,
		params: InitializeParams{
			ProtocolVersion: LatestProtocolVersion.String(),
			Capabilities:    g.config.Capabilities,
			ClientInfo:      ClientInfo{Name: g.config.ClientName, Version: g.config.ClientVersion},
		},
		timeout: g.config.HandshakeTimeout,
		logger:  g.logger,
		metrics: g.metrics,
		tracer:  g.config.Tracer,
	}

	result, err := coordinator.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("negotiating with backend %q: %w", name, err)
	}
	conn.initResult = result
	return conn, nil
}

// NegotiateAll runs Negotiate against every named backend in parallel. Each
// backend succeeds or fails on its own; the returned map holds the
// connections that reached Ready and the error joins the failures.
func (g *Gateway) NegotiateAll(ctx context.Context, backends map[string]Transport) (map[string]*Connection, error) {
	var (
		mu    sync.Mutex
		conns = make(map[string]*Connection)
		errs  []error
		eg    errgroup.Group
	)

	for name, transport := range backends {
		name, transport := name, transport
		eg.Go(func() error {
			conn, err := g.Negotiate(ctx, name, transport)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			conns[name] = conn
			return nil
		})
	}

	_ = eg.Wait()
	return conns, errors.Join(errs...)
}

// IsReady reports whether a connection can carry traffic.
func (g *Gateway) IsReady(conn *Connection) bool {
	return conn.state.IsReady()
}

// ProtocolVersionOf returns the revision a backend negotiated, for status
// reporting. The second return is false until negotiation succeeded.
func (g *Gateway) ProtocolVersionOf(conn *Connection) (ProtocolVersion, bool) {
	return conn.state.ProtocolVersion()
}

// Dispatch sends a request to a backend and returns its translated response.
// The request gate holds the call while the handshake is still running;
// afterwards the installed adapter reshapes the request for the backend's
// revision and its response back. Translation failures are local to the call,
// never to the connection.
func (g *Gateway) Dispatch(ctx context.Context, conn *Connection, req *Request) (*Response, error) {
	ctx, span := StartSpan(ctx, "mcpgateway.dispatch",
		trace.WithAttributes(
			attribute.String("server", conn.name),
			attribute.String("method", req.Method),
		))
	defer span.End()

	if err := conn.gate.Wait(ctx); err != nil {
		return nil, err
	}

	// The handshake owns initialize; a second one on a negotiated connection
	// is a protocol violation, not traffic to forward.
	if !conn.state.CanSendRequest(req.Method) {
		return nil, &InvalidStateTransitionError{Attempted: req.Method, CurrentPhase: conn.state.Phase()}
	}

	adapter := conn.state.Adapter()
	translated, err := adapter.TranslateRequest(req)
	if err != nil {
		return nil, fmt.Errorf("backend %q (%s -> %s): %w",
			conn.name, adapter.SourceVersion(), adapter.TargetVersion(), err)
	}

	if translated.ID == nil {
		raw := json.RawMessage(fmt.Sprintf("%q", uuid.NewString()))
		clone := *translated
		clone.ID = &raw
		translated = &clone
	}

	resp, err := conn.roundTrip(ctx, translated)
	if err != nil {
		return nil, fmt.Errorf("dispatching %s to backend %q: %w", req.Method, conn.name, err)
	}

	out, err := adapter.TranslateResponse(resp, req.Method)
	if err != nil {
		return nil, fmt.Errorf("backend %q (%s -> %s): %w",
			conn.name, adapter.TargetVersion(), adapter.SourceVersion(), err)
	}
	return out, nil
}

// Notify sends a notification to a backend. Outbound notifications carry no
// version-specific fields in any of the three revisions, so they go out
// unmodified once the gate clears.
func (g *Gateway) Notify(ctx context.Context, conn *Connection, n *Notification) error {
	if err := conn.gate.Wait(ctx); err != nil {
		return err
	}
	return conn.sendNotification(ctx, n)
}

// Ping issues the version-invariant ping request and waits for the empty
// response.
func (g *Gateway) Ping(ctx context.Context, conn *Connection) error {
	req, err := NewRequest(uuid.NewString(), MethodPing, map[string]any{})
	if err != nil {
		return err
	}
	resp, err := g.Dispatch(ctx, conn, req)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("backend %q failed ping: %w", conn.name, resp.Error)
	}
	return nil
}

// Close shuts one connection down. Queued requests fail fast; the transport
// is closed and the connection removed from the gateway.
func (g *Gateway) Close(conn *Connection) error {
	conn.state.BeginClose()
	conn.readCancel()
	err := conn.transport.Close()
	<-conn.readDone

	conn.failPending(&ConnectionClosedError{ServerName: conn.name, Phase: PhaseClosing})

	g.mu.Lock()
	delete(g.conns, conn.id)
	g.mu.Unlock()
	return err
}

// Shutdown closes every connection.
func (g *Gateway) Shutdown() error {
	g.mu.RLock()
	conns := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	var errs []error
	for _, c := range conns {
		if err := g.Close(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connections snapshots the registered connections, Ready or not.
func (g *Gateway) Connections() []*Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		out = append(out, c)
	}
	return out
}

// roundTrip sends a request and blocks for its response, matching on id.
func (c *Connection) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	key := idKey(req.ID)
	call := &pendingCall{method: req.Method, ch: make(chan *Response, 1)}

	c.pendingMu.Lock()
	if _, exists := c.pending[key]; exists {
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("duplicate in-flight request id %s", key)
	}
	c.pending[key] = call
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
	}()

	if err := c.send(ctx, req); err != nil {
		return nil, err
	}

	select {
	case resp := <-call.ch:
		if resp == nil {
			return nil, &ConnectionClosedError{ServerName: c.name, Phase: c.state.Phase(), Cause: c.state.Err()}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connection) send(ctx context.Context, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.transport.Send(ctx, payload)
}

func (c *Connection) sendNotification(ctx context.Context, n *Notification) error {
	return c.send(ctx, n)
}

// readLoop is the single reader of the transport. It routes responses to
// their pending calls and hands notifications to the gateway's handler after
// translation.
func (c *Connection) readLoop(ctx context.Context, g *Gateway) {
	defer close(c.readDone)

	for {
		payload, err := c.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && c.state.Phase() != PhaseClosing {
				// Backend went away mid-flight. During the handshake this
				// fails the negotiation; afterwards it fails in-flight calls.
				c.state.MarkFailed(fmt.Errorf("backend %q closed the connection: %w", c.name, err))
			}
			c.failPending(nil)
			return
		}

		var probe struct {
			ID     *json.RawMessage `json:"id"`
			Method string           `json:"method"`
		}
		if err := json.Unmarshal(payload, &probe); err != nil {
			c.logger.WithFields(map[string]interface{}{
				"server": c.name,
			}).WithErr(err).Warn("discarding unparseable message from backend")
			continue
		}

		switch {
		case probe.ID != nil && probe.Method == "":
			var resp Response
			if err := json.Unmarshal(payload, &resp); err != nil {
				c.logger.WithFields(map[string]interface{}{"server": c.name}).
					WithErr(err).Warn("discarding malformed response from backend")
				continue
			}
			c.deliverResponse(&resp)

		case probe.ID == nil && probe.Method != "":
			var n Notification
			if err := json.Unmarshal(payload, &n); err != nil {
				c.logger.WithFields(map[string]interface{}{"server": c.name}).
					WithErr(err).Warn("discarding malformed notification from backend")
				continue
			}
			c.deliverNotification(&n, g)

		default:
			// Backend-originated requests (sampling, roots) belong to the
			// surrounding gateway, not the negotiation core.
			c.logger.WithFields(map[string]interface{}{
				"server": c.name,
				"method": probe.Method,
			}).Debug("ignoring backend-originated request")
		}
	}
}

func (c *Connection) deliverResponse(resp *Response) {
	key := idKey(resp.ID)

	c.pendingMu.Lock()
	call, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.WithFields(map[string]interface{}{
			"server": c.name,
			"id":     key,
		}).Warn("dropping response with no matching request")
		return
	}
	call.ch <- resp
}

func (c *Connection) deliverNotification(n *Notification, g *Gateway) {
	adapter := c.state.Adapter()
	if adapter == nil {
		// Backends must not notify before the handshake installs an adapter;
		// the initialized notification is gateway-to-backend only.
		c.logger.WithFields(map[string]interface{}{
			"server": c.name,
			"method": n.Method,
		}).Warn("dropping notification received before negotiation finished")
		return
	}

	translated, err := adapter.TranslateNotification(n)
	if err != nil {
		if errors.Is(err, ErrDropNotification) {
			return
		}
		c.logger.WithFields(map[string]interface{}{
			"server": c.name,
			"method": n.Method,
		}).WithErr(err).Warn("failed to translate backend notification")
		return
	}

	if g.config.OnNotification != nil {
		g.config.OnNotification(c.name, translated)
		return
	}
	c.logger.WithFields(map[string]interface{}{
		"server": c.name,
		"method": translated.Method,
	}).Debug("no notification handler configured, discarding")
}

// failPending releases every in-flight call. A nil response makes roundTrip
// surface the connection's failure.
func (c *Connection) failPending(_ error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.pendingMu.Unlock()

	for _, call := range pending {
		select {
		case call.ch <- nil:
		default:
		}
	}
}
