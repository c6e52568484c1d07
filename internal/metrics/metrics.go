// Package metrics exposes the reliable transport engine's internal
// counters as a prometheus.Collector, adapted from runZeroInc-sockstats'
// pkg/exporter (which builds a Collector around per-connection TCP_INFO
// socket statistics) applied instead to RDT engine statistics: packets
// transmitted, retransmits, acks received, and current window occupancy.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine holds the atomic counters for a single engine instance and
// implements prometheus.Collector so it can be registered directly or
// wrapped by a caller's own registry.
type Engine struct {
	handle int

	packetsSent  atomic.Uint64
	retransmits  atomic.Uint64
	acksRecv     atomic.Uint64
	windowOccupancy atomic.Int64
}

// NewEngine returns a collector for the given connection handle.
func NewEngine(handle int) *Engine {
	return &Engine{handle: handle}
}

// IncSent records one first-transmission.
func (e *Engine) IncSent() { e.packetsSent.Add(1) }

// IncRetransmit records one retransmission.
func (e *Engine) IncRetransmit() { e.retransmits.Add(1) }

// IncAck records one received cumulative ACK.
func (e *Engine) IncAck() { e.acksRecv.Add(1) }

// SetWindowOccupancy records the current number of occupied send-window
// slots.
func (e *Engine) SetWindowOccupancy(n int) { e.windowOccupancy.Store(int64(n)) }

var (
	descSent = prometheus.NewDesc(
		"rudp_engine_packets_sent_total", "Total first-transmission DAT packets sent.",
		[]string{"handle"}, nil)
	descRetransmit = prometheus.NewDesc(
		"rudp_engine_retransmits_total", "Total DAT packet retransmissions.",
		[]string{"handle"}, nil)
	descAck = prometheus.NewDesc(
		"rudp_engine_acks_received_total", "Total cumulative ACKs processed.",
		[]string{"handle"}, nil)
	descWindow = prometheus.NewDesc(
		"rudp_engine_window_occupancy", "Current occupied send window slots.",
		[]string{"handle"}, nil)
)

// Describe implements prometheus.Collector.
func (e *Engine) Describe(ch chan<- *prometheus.Desc) {
	ch <- descSent
	ch <- descRetransmit
	ch <- descAck
	ch <- descWindow
}

// Collect implements prometheus.Collector.
func (e *Engine) Collect(ch chan<- prometheus.Metric) {
	label := itoa(e.handle)
	ch <- prometheus.MustNewConstMetric(descSent, prometheus.CounterValue, float64(e.packetsSent.Load()), label)
	ch <- prometheus.MustNewConstMetric(descRetransmit, prometheus.CounterValue, float64(e.retransmits.Load()), label)
	ch <- prometheus.MustNewConstMetric(descAck, prometheus.CounterValue, float64(e.acksRecv.Load()), label)
	ch <- prometheus.MustNewConstMetric(descWindow, prometheus.GaugeValue, float64(e.windowOccupancy.Load()), label)
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [12]byte
	n := len(buf)
	for v > 0 {
		n--
		buf[n] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		n--
		buf[n] = '-'
	}
	return string(buf[n:])
}
