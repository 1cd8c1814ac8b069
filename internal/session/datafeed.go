package session

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/format/output"
	"github.com/banshee-data/sigcap/internal/metrics"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/packet"
)

// ErrSinkClosed is returned for packets delivered after Close.
var ErrSinkClosed = errors.New("datafeed sink closed")

// SinkConfig selects where and how the datafeed is written.
type SinkConfig struct {
	Formats *output.Registry
	// Format is an output spec such as "bits:width=32". Empty picks the
	// default for the destination.
	Format string
	// Path is the output file. Empty writes to Stdout.
	Path     string
	Stdout   io.Writer
	Defaults *config.Defaults
	Metrics  *metrics.Run
	// Session is recorded by formats that keep a run identifier.
	Session string
}

type sinkState int

const (
	unbound sinkState = iota
	bound
	finished
)

// Sink is the datafeed observer that encodes packets to the output. The
// encoder is created from the first packet, once the device and its
// channel selection are final, and exactly once per sink.
type Sink struct {
	cfg SinkConfig

	state  sinkState
	format *output.Format
	out    output.Output
	w      io.Writer
	file   *os.File
}

func NewSink(cfg SinkConfig) *Sink {
	if cfg.Formats == nil {
		cfg.Formats = output.Default()
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	return &Sink{cfg: cfg}
}

// spec resolves the output format for the destination.
func (s *Sink) spec() string {
	switch {
	case s.cfg.Format != "":
		return s.cfg.Format
	case s.cfg.Path != "":
		return s.cfg.Defaults.GetFileOutputFormat()
	default:
		return s.cfg.Defaults.GetStdoutOutputFormat()
	}
}

func (s *Sink) bind(d *device.Device) error {
	out, f, err := s.cfg.Formats.Create(s.spec(), output.Params{
		Device:  d,
		Path:    s.cfg.Path,
		Session: s.cfg.Session,
	})
	if err != nil {
		return err
	}
	switch {
	case f.WritesFile:
		// The encoder owns the file.
	case s.cfg.Path != "":
		file, err := os.Create(s.cfg.Path)
		if err != nil {
			// Nothing was written, so the encoder's trailer is discarded.
			_, ferr := out.Finish()
			return errors.Join(fmt.Errorf("failed to open output file: %w", err), ferr)
		}
		s.file = file
		s.w = file
	default:
		s.w = s.cfg.Stdout
	}
	s.format, s.out, s.state = f, out, bound
	monitoring.Infof("writing %s output to %s", f.Name, s.destination())
	return nil
}

func (s *Sink) destination() string {
	if s.cfg.Path == "" {
		return "stdout"
	}
	return s.cfg.Path
}

// Observe is the session observer.
func (s *Sink) Observe(d *device.Device, p *packet.Packet) error {
	switch s.state {
	case finished:
		return ErrSinkClosed
	case unbound:
		if err := s.bind(d); err != nil {
			return err
		}
	}
	data, err := s.out.Receive(p)
	if err != nil {
		return fmt.Errorf("%s output: %w", s.format.Name, err)
	}
	return s.write(data)
}

func (s *Sink) write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if s.w == nil {
		return fmt.Errorf("%s output returned %d bytes but writes its own file", s.format.Name, len(data))
	}
	n, err := s.w.Write(data)
	s.cfg.Metrics.AddBytes(n)
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// Format returns the bound output format, or nil before the first packet.
func (s *Sink) Format() *output.Format { return s.format }

// Close finishes the encoder and closes the output file. A sink that never
// saw a packet writes nothing.
func (s *Sink) Close() error {
	if s.state != bound {
		s.state = finished
		return nil
	}
	s.state = finished
	data, err := s.out.Finish()
	if err != nil {
		err = fmt.Errorf("%s output: %w", s.format.Name, err)
	} else {
		err = s.write(data)
	}
	if s.file != nil {
		if cerr := s.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}
	return err
}
