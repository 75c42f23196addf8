package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors shared by the relay components.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	queueDepth     prometheus.Gauge       // Frames waiting in the bridge queue
	queueHighWater prometheus.Counter     // Times the queue crossed its high-water mark
	bridgeHandled  prometheus.Counter     // Frames handed to the bridge callback
	bridgeErrors   prometheus.Counter     // Bridge callback failures
	published      *prometheus.CounterVec // Messages published (by topic)
	dropped        *prometheus.CounterVec // Messages dropped by a full subscriber buffer (by topic)
	delivered      *prometheus.CounterVec // Messages delivered to subscriber callbacks (by topic)
	relayReceived  prometheus.Counter     // Frames received by the relay
	parseErrors    prometheus.Counter     // Frames the parser rejected
	reports        *prometheus.CounterVec // Parsed reports (by downlink format)
	paramSets      *prometheus.CounterVec // Parameter writes (by name, result)
	sinkWrites     *prometheus.CounterVec // Reports written by sinks (by sink, result)
}

// New creates the collectors on a private registry so several instances can
// coexist in one process (tests, multiple relays).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "modes_queue_depth",
			Help: "Decoded frames waiting in the bridge queue",
		}),
		queueHighWater: f.NewCounter(prometheus.CounterOpts{
			Name: "modes_queue_high_water_total",
			Help: "Number of times the bridge queue crossed its high-water mark",
		}),
		bridgeHandled: f.NewCounter(prometheus.CounterOpts{
			Name: "modes_bridge_messages_total",
			Help: "Frames drained from the queue and handed to the bridge callback",
		}),
		bridgeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "modes_bridge_errors_total",
			Help: "Bridge callback failures",
		}),
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modes_transport_published_total",
			Help: "Messages published on the transport",
		}, []string{"topic"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modes_transport_dropped_total",
			Help: "Messages dropped because a subscriber buffer was full",
		}, []string{"topic"}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modes_transport_delivered_total",
			Help: "Messages delivered to subscriber callbacks",
		}, []string{"topic"}),
		relayReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "modes_relay_frames_total",
			Help: "Frames received by the relay from all subscribed addresses",
		}),
		parseErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "modes_relay_parse_errors_total",
			Help: "Frames the report parser rejected",
		}),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modes_relay_reports_total",
			Help: "Parsed reports republished by the relay",
		}, []string{"df"}),
		paramSets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modes_parameter_sets_total",
			Help: "Parameter bus writes",
		}, []string{"name", "result"}),
		sinkWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modes_sink_writes_total",
			Help: "Reports written by output sinks",
		}, []string{"sink", "result"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Value sums every series of the named metric. It returns 0 when the
// metric has not been recorded.
func (m *Metrics) Value(name string) float64 {
	if m == nil {
		return 0
	}
	families, err := m.registry.Gather()
	if err != nil {
		return 0
	}
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				sum += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				sum += metric.GetGauge().GetValue()
			}
		}
	}
	return sum
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) QueueHighWater() {
	if m == nil {
		return
	}
	m.queueHighWater.Inc()
}

func (m *Metrics) BridgeHandled(err error) {
	if m == nil {
		return
	}
	m.bridgeHandled.Inc()
	if err != nil {
		m.bridgeErrors.Inc()
	}
}

func (m *Metrics) Published(topic string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic).Inc()
}

func (m *Metrics) Dropped(topic string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(topic).Inc()
}

func (m *Metrics) Delivered(topic string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(topic).Inc()
}

func (m *Metrics) RelayReceived() {
	if m == nil {
		return
	}
	m.relayReceived.Inc()
}

func (m *Metrics) ParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

func (m *Metrics) Report(df int) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(strconv.Itoa(df)).Inc()
}

func (m *Metrics) ParameterSet(name string, err error) {
	if m == nil {
		return
	}
	m.paramSets.WithLabelValues(name, result(err)).Inc()
}

func (m *Metrics) SinkWrite(sink string, err error) {
	if m == nil {
		return
	}
	m.sinkWrites.WithLabelValues(sink, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
