package mcpgateway

import "fmt"

// The six cross-revision adapters, one per ordered pair. They share one
// implementation; keeping a named type per pair keeps the 3x3 matrix explicit
// and lets each pair be constructed and tested on its own.

type adapterV20241105ToV20250326 struct{ bridge }
type adapterV20241105ToV20250618 struct{ bridge }
type adapterV20250326ToV20241105 struct{ bridge }
type adapterV20250326ToV20250618 struct{ bridge }
type adapterV20250618ToV20241105 struct{ bridge }
type adapterV20250618ToV20250326 struct{ bridge }

// NewAdapter returns the adapter for an ordered (source, target) revision
// pair. Equal revisions get the pass-through adapter. All nine ordered pairs
// of supported revisions are constructible; anything else is a programming
// error and panics. logger and metrics may be nil.
func NewAdapter(source, target ProtocolVersion, logger Logger, metrics Metrics) Adapter {
	if logger == nil {
		logger = NewNullLogger()
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	if source == target {
		switch source {
		case V20241105, V20250326, V20250618:
			return NewPassThroughAdapter(source)
		}
		panic(fmt.Sprintf("mcpgateway: no adapter for protocol version %q", source))
	}

	b := bridge{source: source, target: target, logger: logger, metrics: metrics}

	switch {
	case source == V20241105 && target == V20250326:
		return &adapterV20241105ToV20250326{b}
	case source == V20241105 && target == V20250618:
		return &adapterV20241105ToV20250618{b}
	case source == V20250326 && target == V20241105:
		return &adapterV20250326ToV20241105{b}
	case source == V20250326 && target == V20250618:
		return &adapterV20250326ToV20250618{b}
	case source == V20250618 && target == V20241105:
		return &adapterV20250618ToV20241105{b}
	case source == V20250618 && target == V20250326:
		return &adapterV20250618ToV20250326{b}
	}
	panic(fmt.Sprintf("mcpgateway: no adapter for version pair (%q, %q)", source, target))
}
