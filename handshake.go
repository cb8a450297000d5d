package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHandshakeTimeout bounds the whole initialize exchange, measured from
// the moment the initialize request goes out.
const DefaultHandshakeTimeout = 30 * time.Second

// HandshakeCoordinator drives the fixed initialization sequence on one
// backend connection: send initialize, await the response, detect the
// backend's revision, install the adapter, send the initialized notification,
// mark the connection Ready. Every failure is terminal for the connection -
// there is no silent fallback and no automatic renegotiation.
type HandshakeCoordinator struct {
	conn    *Connection
	params  InitializeParams
	timeout time.Duration
	logger  Logger
	metrics Metrics
	tracer  trace.Tracer
}

// Run executes the handshake. On success the connection is Ready with its
// adapter installed and the backend's initialize result is returned. On any
// failure the connection is Failed with the cause recorded, and queued
// requests are released with that same error.
func (h *HandshakeCoordinator) Run(ctx context.Context) (*InitializeResult, error) {
	state := h.conn.State()
	record := state.Record()

	if h.tracer != nil {
		var span trace.Span
		ctx, span = h.tracer.Start(ctx, "mcpgateway.handshake",
			trace.WithAttributes(attribute.String("server", state.ServerName())))
		defer span.End()
		defer func() {
			if err := state.Err(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result, err := h.run(ctx, state, record)

	elapsed := time.Since(record.StartedAt)
	h.metrics.ObserveHandshakeDuration(state.ServerName(), elapsed)

	if err != nil {
		if isTimeout(ctx, err) {
			err = &InitializationTimeoutError{ServerName: state.ServerName(), Elapsed: elapsed}
		}
		state.MarkFailed(err)
		h.metrics.IncHandshakeFailure(state.ServerName(), failureReason(err))
		return nil, err
	}

	version, _ := state.ProtocolVersion()
	h.metrics.SetActiveProtocolVersion(state.ServerName(), version)
	return result, nil
}

func (h *HandshakeCoordinator) run(ctx context.Context, state *ConnectionState, record *HandshakeRecord) (*InitializeResult, error) {
	if !state.CanSendRequest(MethodInitialize) {
		return nil, &InvalidStateTransitionError{Attempted: PhaseInitializing.String(), CurrentPhase: state.Phase()}
	}

	req, err := NewRequest(uuid.NewString(), MethodInitialize, h.params)
	if err != nil {
		return nil, fmt.Errorf("encoding initialize request: %w", err)
	}

	if err := state.StartInitialization(); err != nil {
		return nil, err
	}

	h.logger.WithFields(map[string]interface{}{
		"server":          state.ServerName(),
		"protocolVersion": h.params.ProtocolVersion,
	}).Debug("sending initialize request")

	resp, err := h.conn.roundTrip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("initialize exchange with %q: %w", state.ServerName(), err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("backend %q rejected initialize: %w", state.ServerName(), resp.Error)
	}

	result, version, err := parseInitializeResult(resp.Result)
	if err != nil {
		return nil, err
	}

	adapter := NewAdapter(LatestProtocolVersion, version, h.logger, h.metrics)
	if err := state.ReceivedInitializeResponse(version, adapter); err != nil {
		return nil, err
	}

	// The initialized notification is identical across all three revisions;
	// it goes out untranslated.
	initialized, err := NewNotification(NotificationInitialized, nil)
	if err != nil {
		return nil, fmt.Errorf("encoding initialized notification: %w", err)
	}
	if err := h.conn.sendNotification(ctx, initialized); err != nil {
		return nil, fmt.Errorf("sending initialized notification to %q: %w", state.ServerName(), err)
	}
	record.MarkInitializedSent()

	if err := state.CompleteInitialization(); err != nil {
		return nil, err
	}
	return result, nil
}

// parseInitializeResult validates and parses the typed fields of an
// initialize response. protocolVersion is required, must be a string, and
// must be one of the supported literals; each violation has its own error.
func parseInitializeResult(raw json.RawMessage) (*InitializeResult, ProtocolVersion, error) {
	const messageKind = "initialize response"

	obj, err := decodeObject(raw)
	if err != nil || obj == nil {
		return nil, "", &MissingRequiredFieldError{Field: "result", MessageKind: messageKind}
	}

	reported, present := obj["protocolVersion"]
	if !present {
		return nil, "", &MissingRequiredFieldError{Field: "protocolVersion", MessageKind: messageKind}
	}
	versionString, ok := reported.(string)
	if !ok {
		return nil, "", &InvalidFieldTypeError{
			Field:    "protocolVersion",
			Expected: "string",
			Actual:   jsonTypeName(reported),
		}
	}

	version, err := ParseProtocolVersion(versionString)
	if err != nil {
		return nil, "", err
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, "", fmt.Errorf("decoding %s: %w", messageKind, err)
	}
	return &result, version, nil
}

// jsonTypeName names the JSON type of a decoded value for error messages.
func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// failureReason buckets handshake errors for the failure counter.
func failureReason(err error) string {
	var (
		unsupported *UnsupportedVersionError
		missing     *MissingRequiredFieldError
		badType     *InvalidFieldTypeError
		timeout     *InitializationTimeoutError
		transition  *InvalidStateTransitionError
	)
	switch {
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &unsupported):
		return "unsupported_version"
	case errors.As(err, &missing), errors.As(err, &badType):
		return "invalid_response"
	case errors.As(err, &transition):
		return "invalid_state"
	default:
		return "transport"
	}
}
