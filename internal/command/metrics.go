package command

import (
	"bytes"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/reiase/probing/internal/extension"
	"github.com/reiase/probing/internal/proto"
)

// Metrics holds the command server's prometheus collectors. Each server
// owns its own registry so tests can run several servers in one process
// without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeSessions  prometheus.Gauge
}

// NewMetrics builds and registers the server's collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probing_requests_total",
			Help: "Requests handled by the command server, by path and outcome.",
		}, []string{"path", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "probing_request_duration_seconds",
			Help:    "Request handling latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "probing_active_sessions",
			Help: "Currently open command sessions.",
		}),
	}
	m.registry.MustRegister(m.requestsTotal, m.requestDuration, m.activeSessions)
	return m
}

// ObserveRequest records one handled request.
func (m *Metrics) ObserveRequest(path, outcome string, d time.Duration) {
	m.requestsTotal.WithLabelValues(path, outcome).Inc()
	m.requestDuration.WithLabelValues(path).Observe(d.Seconds())
}

// SessionOpened increments the active-session gauge.
func (m *Metrics) SessionOpened() { m.activeSessions.Inc() }

// SessionClosed decrements the active-session gauge.
func (m *Metrics) SessionClosed() { m.activeSessions.Dec() }

// --- CommandExtension: the /metrics call endpoint ---

// Name implements extension.Extension.
func (m *Metrics) Name() string { return "metrics" }

// Options implements extension.Extension; the metrics extension owns
// none.
func (m *Metrics) Options() []extension.Option { return nil }

func (m *Metrics) SetOption(string, string) error {
	return proto.NewError(proto.ErrNotFound, "metrics: extension owns no options")
}

func (m *Metrics) GetOption(string) (string, error) {
	return "", proto.NewError(proto.ErrNotFound, "metrics: extension owns no options")
}

func (m *Metrics) PathPrefixes() []string { return []string{"/metrics"} }

// HandleCall renders the registry in the prometheus text exposition
// format.
func (m *Metrics) HandleCall(path string, params map[string]string, body []byte) ([]byte, error) {
	if !strings.HasPrefix(path, "/metrics") {
		return nil, proto.NewError(proto.ErrNotFound, "metrics: unknown path %q", path)
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, proto.NewError(proto.ErrRuntimeFault, "metrics: gather: %v", err)
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, proto.NewError(proto.ErrRuntimeFault, "metrics: encode: %v", err)
		}
	}
	return buf.Bytes(), nil
}
