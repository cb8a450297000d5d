package mcpgateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives the gateway's operational counters and gauges. The
// negotiation core emits into this interface; collection and exposition
// belong to the surrounding process.
type Metrics interface {
	// ObserveHandshakeDuration records the wall time of a completed
	// handshake, successful or not.
	ObserveHandshakeDuration(serverName string, d time.Duration)
	// IncHandshakeFailure counts a terminal handshake failure.
	IncHandshakeFailure(serverName string, reason string)
	// SetActiveProtocolVersion records the revision a backend settled on.
	SetActiveProtocolVersion(serverName string, version ProtocolVersion)
	// IncTranslation counts one translated message.
	IncTranslation(from, to ProtocolVersion, messageKind string)
	// IncFieldStripped counts a field discarded during downgrade. Only
	// fields that held non-empty data are counted.
	IncFieldStripped(entity, field string)
	// IncNotificationDropped counts a notification discarded because the
	// target revision has no equivalent.
	IncNotificationDropped(method string, version ProtocolVersion)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) ObserveHandshakeDuration(string, time.Duration)          {}
func (NoopMetrics) IncHandshakeFailure(string, string)                      {}
func (NoopMetrics) SetActiveProtocolVersion(string, ProtocolVersion)        {}
func (NoopMetrics) IncTranslation(ProtocolVersion, ProtocolVersion, string) {}
func (NoopMetrics) IncFieldStripped(string, string)                         {}
func (NoopMetrics) IncNotificationDropped(string, ProtocolVersion)          {}

// PrometheusMetrics implements Metrics on top of prometheus collectors.
type PrometheusMetrics struct {
	handshakeDuration    *prometheus.HistogramVec
	handshakeFailures    *prometheus.CounterVec
	activeVersion        *prometheus.GaugeVec
	translations         *prometheus.CounterVec
	strippedFields       *prometheus.CounterVec
	droppedNotifications *prometheus.CounterVec
}

// NewPrometheusMetrics creates the gateway collectors and registers them on
// the given registerer. A nil registerer uses the default registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &PrometheusMetrics{
		handshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpgateway_handshake_duration_seconds",
			Help:    "Wall time of backend initialization handshakes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server"}),
		handshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpgateway_handshake_failures_total",
			Help: "Terminal handshake failures by reason.",
		}, []string{"server", "reason"}),
		activeVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcpgateway_active_protocol_version",
			Help: "Protocol revision negotiated per backend (1 for the active revision).",
		}, []string{"server", "version"}),
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpgateway_translations_total",
			Help: "Messages translated between protocol revisions.",
		}, []string{"from", "to", "kind"}),
		strippedFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpgateway_stripped_fields_total",
			Help: "Non-empty fields discarded during protocol downgrade.",
		}, []string{"entity", "field"}),
		droppedNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpgateway_dropped_notifications_total",
			Help: "Notifications dropped because the target revision lacks them.",
		}, []string{"method", "version"}),
	}

	reg.MustRegister(
		m.handshakeDuration,
		m.handshakeFailures,
		m.activeVersion,
		m.translations,
		m.strippedFields,
		m.droppedNotifications,
	)
	return m
}

func (m *PrometheusMetrics) ObserveHandshakeDuration(serverName string, d time.Duration) {
	m.handshakeDuration.WithLabelValues(serverName).Observe(d.Seconds())
}

func (m *PrometheusMetrics) IncHandshakeFailure(serverName string, reason string) {
	m.handshakeFailures.WithLabelValues(serverName, reason).Inc()
}

func (m *PrometheusMetrics) SetActiveProtocolVersion(serverName string, version ProtocolVersion) {
	m.activeVersion.WithLabelValues(serverName, version.String()).Set(1)
}

func (m *PrometheusMetrics) IncTranslation(from, to ProtocolVersion, messageKind string) {
	m.translations.WithLabelValues(from.String(), to.String(), messageKind).Inc()
}

func (m *PrometheusMetrics) IncFieldStripped(entity, field string) {
	m.strippedFields.WithLabelValues(entity, field).Inc()
}

func (m *PrometheusMetrics) IncNotificationDropped(method string, version ProtocolVersion) {
	m.droppedNotifications.WithLabelValues(method, version.String()).Inc()
}
