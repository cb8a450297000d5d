package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport scripted by onSend: every payload
// the gateway sends is handed to the script, which may queue replies for the
// gateway's read loop via deliver.
type fakeTransport struct {
	mu        sync.Mutex
	sent      [][]byte
	incoming  chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	onSend func(f *fakeTransport, payload []byte)
}

func newFakeTransport(onSend func(f *fakeTransport, payload []byte)) *fakeTransport {
	return &fakeTransport{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
		onSend:   onSend,
	}
}

func (f *fakeTransport) Send(_ context.Context, payload []byte) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	f.mu.Lock()
	f.sent = append(f.sent, buf)
	f.mu.Unlock()

	if f.onSend != nil {
		f.onSend(f, buf)
	}
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-f.incoming:
		return msg, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) deliver(msg []byte) {
	f.incoming <- msg
}

func (f *fakeTransport) sentMessages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// newFakeBackend scripts a well-behaved backend on the given revision: it
// answers initialize, accepts the initialized notification, and serves a
// small fixed tool and resource catalog shaped for its revision.
func newFakeBackend(version ProtocolVersion) *fakeTransport {
	return newFakeTransport(func(f *fakeTransport, payload []byte) {
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return
		}
		if req.ID == nil {
			// Notification; nothing to answer.
			return
		}

		reply := func(result any) {
			raw, _ := json.Marshal(result)
			resp, _ := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: raw})
			f.deliver(resp)
		}

		switch req.Method {
		case MethodInitialize:
			reply(map[string]any{
				"protocolVersion": version.String(),
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": "fake-backend", "version": "0.1.0"},
			})
		case MethodPing:
			reply(map[string]any{})
		case MethodToolsList:
			reply(map[string]any{
				"tools": []any{
					map[string]any{
						"name":        "echo",
						"description": "Echoes its input",
						"inputSchema": map[string]any{"type": "object"},
					},
				},
			})
		case MethodResourcesRead:
			reply(map[string]any{
				"contents": []any{
					map[string]any{"uri": "file:///home/user/document.txt", "text": "hello"},
				},
			})
		default:
			raw, _ := json.Marshal(Response{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &Error{Code: ErrorCodeMethodNotFound, Message: "method not found"},
			})
			f.deliver(raw)
		}
	})
}

func newTestGateway(config Config) *Gateway {
	if config.Logger == nil {
		config.Logger = NewNullLogger()
	}
	return NewGateway(config)
}

func TestHandshake_NegotiatesEachRevision(t *testing.T) {
	for _, version := range []ProtocolVersion{V20241105, V20250326, V20250618} {
		t.Run(version.String(), func(t *testing.T) {
			g := newTestGateway(Config{})
			backend := newFakeBackend(version)

			conn, err := g.Negotiate(context.Background(), "backend", backend)
			require.NoError(t, err)
			defer func() { _ = g.Close(conn) }()

			assert.True(t, g.IsReady(conn))
			negotiated, ok := g.ProtocolVersionOf(conn)
			require.True(t, ok)
			assert.Equal(t, version, negotiated)

			result := conn.InitializeResult()
			require.NotNil(t, result)
			assert.Equal(t, version.String(), result.ProtocolVersion)
			assert.Equal(t, "fake-backend", result.ServerInfo.Name)
		})
	}
}

func TestHandshake_OrderingOnTheWire(t *testing.T) {
	g := newTestGateway(Config{})
	backend := newFakeBackend(V20250326)

	conn, err := g.Negotiate(context.Background(), "backend", backend)
	require.NoError(t, err)
	defer func() { _ = g.Close(conn) }()

	messages := backend.sentMessages()
	require.GreaterOrEqual(t, len(messages), 2)

	var first Request
	require.NoError(t, json.Unmarshal(messages[0], &first))
	assert.Equal(t, MethodInitialize, first.Method)
	require.NotNil(t, first.ID)

	var params InitializeParams
	require.NoError(t, json.Unmarshal(first.Params, &params))
	assert.Equal(t, LatestProtocolVersion.String(), params.ProtocolVersion)

	var second Notification
	require.NoError(t, json.Unmarshal(messages[1], &second))
	assert.Equal(t, NotificationInitialized, second.Method)
}

func TestHandshake_UnsupportedVersionFailsConnection(t *testing.T) {
	g := newTestGateway(Config{})
	backend := newFakeBackend(ProtocolVersion("2023-05-01"))

	conn, err := g.Negotiate(context.Background(), "backend", backend)
	require.Error(t, err)
	assert.Nil(t, conn)

	var unsupported *UnsupportedVersionError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "2023-05-01", unsupported.Reported)
}

func TestHandshake_MalformedInitializeResponse(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
		check  func(t *testing.T, err error)
	}{
		{
			name:   "missing protocolVersion",
			result: map[string]any{"capabilities": map[string]any{}},
			check: func(t *testing.T, err error) {
				var missing *MissingRequiredFieldError
				require.True(t, errors.As(err, &missing))
				assert.Equal(t, "protocolVersion", missing.Field)
			},
		},
		{
			name:   "protocolVersion is a number",
			result: map[string]any{"protocolVersion": 20250618},
			check: func(t *testing.T, err error) {
				var badType *InvalidFieldTypeError
				require.True(t, errors.As(err, &badType))
				assert.Equal(t, "protocolVersion", badType.Field)
				assert.Equal(t, "string", badType.Expected)
				assert.Equal(t, "number", badType.Actual)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeTransport(func(f *fakeTransport, payload []byte) {
				var req Request
				if json.Unmarshal(payload, &req) != nil || req.ID == nil {
					return
				}
				raw, _ := json.Marshal(tt.result)
				resp, _ := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: raw})
				f.deliver(resp)
			})

			g := newTestGateway(Config{})
			_, err := g.Negotiate(context.Background(), "backend", backend)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestHandshake_BackendErrorResponse(t *testing.T) {
	backend := newFakeTransport(func(f *fakeTransport, payload []byte) {
		var req Request
		if json.Unmarshal(payload, &req) != nil || req.ID == nil {
			return
		}
		raw, _ := json.Marshal(Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &Error{Code: ErrorCodeInvalidParams, Message: "unacceptable client"},
		})
		f.deliver(raw)
	})

	g := newTestGateway(Config{})
	_, err := g.Negotiate(context.Background(), "backend", backend)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unacceptable client")
}

func TestHandshake_Timeout(t *testing.T) {
	// Backend that never answers initialize.
	backend := newFakeTransport(nil)

	g := newTestGateway(Config{HandshakeTimeout: 50 * time.Millisecond})
	_, err := g.Negotiate(context.Background(), "slow-backend", backend)
	require.Error(t, err)

	var timeout *InitializationTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "slow-backend", timeout.ServerName)
	assert.GreaterOrEqual(t, timeout.Elapsed, 50*time.Millisecond)
}

func TestHandshake_FailureIsTerminal(t *testing.T) {
	g := newTestGateway(Config{})
	backend := newFakeBackend(ProtocolVersion("1999-01-01"))

	_, err := g.Negotiate(context.Background(), "backend", backend)
	require.Error(t, err)

	// The failed connection is still registered and permanently unusable.
	conns := g.Connections()
	require.Len(t, conns, 1)
	failed := conns[0]
	assert.Equal(t, PhaseFailed, failed.State().Phase())

	dispatchErr := func() error {
		req, err := NewRequest("1", MethodToolsList, nil)
		require.NoError(t, err)
		_, err = g.Dispatch(context.Background(), failed, req)
		return err
	}()
	var closed *ConnectionClosedError
	require.Error(t, dispatchErr)
	assert.True(t, errors.As(dispatchErr, &closed))
}
