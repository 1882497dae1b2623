// Package metrics counts tosser activity and writes it in Prometheus text
// format for the node_exporter textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "v3ftn"

// Metrics holds the run counters. A nil *Metrics discards everything, so
// components can take one unconditionally.
type Metrics struct {
	reg *prometheus.Registry

	packets  *prometheus.CounterVec // result=ok|error
	messages *prometheus.CounterVec // kind, result
	bundles  *prometheus.CounterVec // result
	tics     *prometheus.CounterVec // result=accepted|duplicate|rejected
	spooled  *prometheus.CounterVec // unit=packets|messages
	packed   *prometheus.CounterVec // unit=bundles|packets

	jobDuration *prometheus.GaugeVec
	jobLastRun  *prometheus.GaugeVec
	jobFailures *prometheus.CounterVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Inbound packets processed, by result.",
		}, []string{"result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages, by kind and result.",
		}, []string{"kind", "result"}),
		bundles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_total",
			Help:      "Inbound bundles, by result.",
		}, []string{"result"}),
		tics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tics_total",
			Help:      "Inbound TIC files, by result.",
		}, []string{"result"}),
		spooled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spooled_total",
			Help:      "Outbound packets and messages written.",
		}, []string{"unit"}),
		packed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packed_total",
			Help:      "Outbound bundles created and packets packed into them.",
		}, []string{"unit"}),
		jobDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of the last run of each job.",
		}, []string{"job"}),
		jobLastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_run_timestamp_seconds",
			Help:      "Unix time the job last finished.",
		}, []string{"job"}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_failures_total",
			Help:      "Job runs that ended in an error.",
		}, []string{"job"}),
	}
	m.reg.MustRegister(m.packets, m.messages, m.bundles, m.tics, m.spooled, m.packed,
		m.jobDuration, m.jobLastRun, m.jobFailures)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Packet counts one inbound packet.
func (m *Metrics) Packet(ok bool) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(result(ok)).Inc()
}

// Messages counts inbound messages of one kind.
func (m *Metrics) Messages(kind string, imported, failed int) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind, "ok").Add(float64(imported))
	m.messages.WithLabelValues(kind, "error").Add(float64(failed))
}

// MessagesFailed counts message blocks that could not be decoded.
func (m *Metrics) MessagesFailed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.messages.WithLabelValues("unknown", "error").Add(float64(n))
}

// Bundle counts one inbound bundle.
func (m *Metrics) Bundle(ok bool) {
	if m == nil {
		return
	}
	m.bundles.WithLabelValues(result(ok)).Inc()
}

// Tic counts one inbound TIC; res is accepted, duplicate or rejected.
func (m *Metrics) Tic(res string) {
	if m == nil {
		return
	}
	m.tics.WithLabelValues(res).Inc()
}

// Spooled counts outbound packets and the messages in them.
func (m *Metrics) Spooled(packets, messages int) {
	if m == nil {
		return
	}
	m.spooled.WithLabelValues("packets").Add(float64(packets))
	m.spooled.WithLabelValues("messages").Add(float64(messages))
}

// Packed counts bundles created by the packer.
func (m *Metrics) Packed(bundles, packets int) {
	if m == nil {
		return
	}
	m.packed.WithLabelValues("bundles").Add(float64(bundles))
	m.packed.WithLabelValues("packets").Add(float64(packets))
}

// JobFinished records one run of a named job.
func (m *Metrics) JobFinished(job string, d time.Duration, at time.Time, err error) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Set(d.Seconds())
	m.jobLastRun.WithLabelValues(job).Set(float64(at.Unix()))
	if err != nil {
		m.jobFailures.WithLabelValues(job).Inc()
	}
}

// WriteTextfile writes every metric to path atomically. An empty path is
// a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.reg)
}
