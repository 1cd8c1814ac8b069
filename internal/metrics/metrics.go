// Package metrics counts what a run did: packets dispatched, samples seen,
// bytes written and replay chunks read. The counters live in a private
// Prometheus registry and are dumped in text exposition format on exit.
package metrics

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/banshee-data/sigcap/internal/packet"
)

const namespace = "sigcap"

// Run holds the counters of one invocation. A nil *Run discards everything.
type Run struct {
	registry *prometheus.Registry

	packets        *prometheus.CounterVec
	samples        *prometheus.CounterVec
	bytesWritten   prometheus.Counter
	chunksReplayed prometheus.Counter
	scanned        *prometheus.CounterVec
}

// New returns a Run with all counters registered.
func New() *Run {
	r := &Run{
		registry: prometheus.NewRegistry(),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "packets_total",
			Help:      "Packets dispatched to datafeed observers, by kind",
		}, []string{"kind"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "samples_total",
			Help:      "Samples carried by dispatched packets, by channel type",
		}, []string{"type"}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "bytes_written_total",
			Help:      "Encoded bytes written to the output destination",
		}),
		chunksReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input",
			Name:      "chunks_total",
			Help:      "Input file chunks fed to the input format",
		}),
		scanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "devices_found_total",
			Help:      "Devices returned by driver scans, by driver",
		}, []string{"driver"}),
	}
	r.registry.MustRegister(r.packets, r.samples, r.bytesWritten, r.chunksReplayed, r.scanned)
	return r
}

// Registry returns the underlying Prometheus registry.
func (r *Run) Registry() *prometheus.Registry { return r.registry }

// ObservePacket counts p and its samples.
func (r *Run) ObservePacket(p *packet.Packet) {
	if r == nil {
		return
	}
	r.packets.WithLabelValues(p.Kind.String()).Inc()
	switch p.Kind {
	case packet.KindLogic:
		r.samples.WithLabelValues("logic").Add(float64(p.Logic.Samples()))
	case packet.KindAnalog:
		r.samples.WithLabelValues("analog").Add(float64(len(p.Analog.Data)))
	}
}

// AddBytes counts n bytes written to the destination.
func (r *Run) AddBytes(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.bytesWritten.Add(float64(n))
}

// AddChunk counts one replayed input chunk.
func (r *Run) AddChunk() {
	if r == nil {
		return
	}
	r.chunksReplayed.Inc()
}

// ObserveScan counts the devices a driver scan returned.
func (r *Run) ObserveScan(driver string, devices int) {
	if r == nil {
		return
	}
	r.scanned.WithLabelValues(driver).Add(float64(devices))
}

// WriteText writes every counter in the Prometheus text format.
func (r *Run) WriteText(w io.Writer) error {
	if r == nil {
		return nil
	}
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes the counters to path, replacing it.
func (r *Run) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.WriteText(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
