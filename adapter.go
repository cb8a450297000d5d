package mcpgateway

// Adapter translates traffic for one connection between the revision the
// gateway's clients speak (source) and the revision the backend negotiated
// (target). Requests translate source to target; responses and notifications
// travel the other way. Adapters are immutable once built and safe for
// concurrent use by any number of in-flight translations.
type Adapter interface {
	SourceVersion() ProtocolVersion
	TargetVersion() ProtocolVersion

	// TranslateRequest reshapes an outbound request for the backend's
	// revision.
	TranslateRequest(req *Request) (*Request, error)

	// TranslateResponse reshapes a backend response for the source
	// revision. inferredMethod is the method of the originating request,
	// tracked by the caller since responses do not self-identify; when
	// empty, the result shape decides which rule applies.
	TranslateResponse(resp *Response, inferredMethod string) (*Response, error)

	// TranslateNotification reshapes a backend notification for the source
	// revision. It returns ErrDropNotification when the notification has no
	// equivalent there and must be discarded.
	TranslateNotification(n *Notification) (*Notification, error)
}

// PassThroughAdapter is the identity adapter used whenever source and target
// revisions match. Messages are returned unmodified, without copying; this is
// the common case and costs nothing beyond the interface call.
type PassThroughAdapter struct {
	version ProtocolVersion
}

// NewPassThroughAdapter creates the identity adapter for one revision.
func NewPassThroughAdapter(version ProtocolVersion) *PassThroughAdapter {
	return &PassThroughAdapter{version: version}
}

func (a *PassThroughAdapter) SourceVersion() ProtocolVersion { return a.version }
func (a *PassThroughAdapter) TargetVersion() ProtocolVersion { return a.version }

func (a *PassThroughAdapter) TranslateRequest(req *Request) (*Request, error) {
	return req, nil
}

func (a *PassThroughAdapter) TranslateResponse(resp *Response, _ string) (*Response, error) {
	return resp, nil
}

func (a *PassThroughAdapter) TranslateNotification(n *Notification) (*Notification, error) {
	return n, nil
}

// bridge holds the shared machinery of the six cross-revision adapters. Each
// concrete pair type is a thin wrapper; the behavior differences live in the
// version predicates the translation rules consult.
type bridge struct {
	source  ProtocolVersion
	target  ProtocolVersion
	logger  Logger
	metrics Metrics
}

func (b bridge) SourceVersion() ProtocolVersion { return b.source }
func (b bridge) TargetVersion() ProtocolVersion { return b.target }

// requestContext translates source to target (gateway toward backend).
func (b bridge) requestContext() translationContext {
	return translationContext{from: b.source, to: b.target, logger: b.logger, metrics: b.metrics}
}

// responseContext translates target to source (backend toward gateway).
func (b bridge) responseContext() translationContext {
	return translationContext{from: b.target, to: b.source, logger: b.logger, metrics: b.metrics}
}

func (b bridge) TranslateRequest(req *Request) (*Request, error) {
	// Requests carry no version-specific fields across the three revisions,
	// with one exception: the initialize request's client capability object
	// must not surface flags the backend's revision has never heard of.
	if req.Method != MethodInitialize {
		return req, nil
	}

	params, err := decodeObject(req.Params)
	if err != nil {
		return nil, &TranslationError{
			From: b.source, To: b.target,
			MessageKind: "request/" + req.Method,
			Detail:      "params is not a JSON object",
			Err:         err,
		}
	}
	if params == nil {
		return req, nil
	}

	tc := b.requestContext()
	tc.translateInitializeParams(params)

	encoded, err := encodeObject(params)
	if err != nil {
		return nil, &TranslationError{
			From: b.source, To: b.target,
			MessageKind: "request/" + req.Method,
			Detail:      "re-encoding translated params failed",
			Err:         err,
		}
	}
	b.metrics.IncTranslation(b.source, b.target, "request")

	out := *req
	out.Params = encoded
	return &out, nil
}

func (b bridge) TranslateResponse(resp *Response, inferredMethod string) (*Response, error) {
	// Error responses are version-invariant.
	if resp.Error != nil || len(resp.Result) == 0 {
		return resp, nil
	}

	result, err := decodeObject(resp.Result)
	if err != nil || result == nil {
		// Non-object results exist (and are legal JSON-RPC); no rule
		// applies to them.
		return resp, nil
	}

	tc := b.responseContext()
	tc.translateResult(inferredMethod, result)

	encoded, err := encodeObject(result)
	if err != nil {
		return nil, &TranslationError{
			From: b.target, To: b.source,
			MessageKind: "response/" + inferredMethod,
			Detail:      "re-encoding translated result failed",
			Err:         err,
		}
	}
	b.metrics.IncTranslation(b.target, b.source, "response")

	out := *resp
	out.Result = encoded
	return &out, nil
}

func (b bridge) TranslateNotification(n *Notification) (*Notification, error) {
	if n.Method == NotificationResourceUpdated && !b.source.SupportsResourceUpdatedNotification() {
		b.logger.WithFields(map[string]interface{}{
			"method": n.Method,
			"to":     b.source.String(),
		}).Debug("dropping notification with no equivalent in target protocol version")
		b.metrics.IncNotificationDropped(n.Method, b.source)
		return nil, ErrDropNotification
	}
	return n, nil
}
