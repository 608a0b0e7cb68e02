// Package metrics exposes fallguard counters on a dedicated Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	Registry *prometheus.Registry

	samplesAccepted *prometheus.CounterVec
	samplesRejected *prometheus.CounterVec
	fallEvents      prometheus.Counter
	droppedEvents   prometheus.Counter
	escalations     *prometheus.CounterVec
	channelFailures *prometheus.CounterVec
	streamStale     *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		samplesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fallguard",
			Name:      "samples_accepted_total",
			Help:      "Sensor samples recorded per stream.",
		}, []string{"stream"}),
		samplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fallguard",
			Name:      "samples_rejected_total",
			Help:      "Sensor samples dropped per stream and reason.",
		}, []string{"stream", "reason"}),
		fallEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fallguard",
			Name:      "fall_events_total",
			Help:      "Fall events emitted by the detector.",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fallguard",
			Name:      "fall_events_dropped_total",
			Help:      "Fall events dropped because an escalation was in progress.",
		}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fallguard",
			Name:      "escalations_total",
			Help:      "Escalations by terminal stage.",
		}, []string{"outcome"}),
		channelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fallguard",
			Name:      "escalation_failures_total",
			Help:      "Recorded escalation failures by stage and channel.",
		}, []string{"stage", "channel"}),
		streamStale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fallguard",
			Name:      "stream_stale",
			Help:      "1 when a sensor stream has gone silent.",
		}, []string{"stream"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.samplesAccepted,
		m.samplesRejected,
		m.fallEvents,
		m.droppedEvents,
		m.escalations,
		m.channelFailures,
		m.streamStale,
	)
	return m
}

func (m *Metrics) SampleAccepted(stream string) {
	if m == nil {
		return
	}
	m.samplesAccepted.WithLabelValues(stream).Inc()
}

func (m *Metrics) SampleRejected(stream, reason string) {
	if m == nil {
		return
	}
	m.samplesRejected.WithLabelValues(stream, reason).Inc()
}

func (m *Metrics) FallEvent() {
	if m == nil {
		return
	}
	m.fallEvents.Inc()
}

func (m *Metrics) FallEventDropped() {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}

func (m *Metrics) EscalationFinished(outcome string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EscalationFailure(stage, channel string) {
	if m == nil {
		return
	}
	m.channelFailures.WithLabelValues(stage, channel).Inc()
}

func (m *Metrics) StreamStale(stream string, stale bool) {
	if m == nil {
		return
	}
	v := 0.0
	if stale {
		v = 1
	}
	m.streamStale.WithLabelValues(stream).Set(v)
}
