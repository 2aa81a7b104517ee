package eventsub

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts stream activity on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	FramesTotal     *prometheus.CounterVec
	ReconnectsTotal *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	DecodeErrors    prometheus.Counter
	RefreshesTotal  *prometheus.CounterVec
	State           prometheus.Gauge
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventsub_relay",
			Name:      "frames_total",
			Help:      "Frames received by message type",
		}, []string{"message_type"}),
		ReconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventsub_relay",
			Name:      "reconnects_total",
			Help:      "Reconnects by reason",
		}, []string{"reason"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventsub_relay",
			Name:      "events_published_total",
			Help:      "Decoded events published to consumers",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventsub_relay",
			Name:      "events_dropped_total",
			Help:      "Events dropped from full consumer buffers",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventsub_relay",
			Name:      "decode_errors_total",
			Help:      "Notification frames that could not be decoded",
		}),
		RefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventsub_relay",
			Name:      "credential_refreshes_total",
			Help:      "Credential refreshes by outcome",
		}, []string{"outcome"}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventsub_relay",
			Name:      "stream_state",
			Help:      "Current stream loop state (0 connecting, 1 awaiting welcome, 2 streaming, 3 reconnecting, 4 failed)",
		}),
	}
	r.MustRegister(m.FramesTotal, m.ReconnectsTotal, m.EventsPublished, m.EventsDropped, m.DecodeErrors, m.RefreshesTotal, m.State)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) frame(kind MessageType) {
	if m != nil {
		m.FramesTotal.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) reconnect(reason string) {
	if m != nil {
		m.ReconnectsTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) published(eventType string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.DecodeErrors.Inc()
	}
}

func (m *Metrics) state(s State) {
	if m != nil {
		m.State.Set(float64(s))
	}
}

// Refresh records a credential refresh outcome; it matches auth.Store.OnRefresh.
func (m *Metrics) Refresh(outcome string) {
	if m != nil {
		m.RefreshesTotal.WithLabelValues(outcome).Inc()
	}
}
