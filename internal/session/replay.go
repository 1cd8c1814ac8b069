package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/format/input"
	"github.com/banshee-data/sigcap/internal/metrics"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/packet"
)

// ErrNoDevice is returned when an input file ends before its format could
// describe the source device.
var ErrNoDevice = errors.New("input ended before the device was known")

// ReplayConfig drives a raw-file replay.
type ReplayConfig struct {
	// BlockSize is the chunk size fed to the input format per read.
	BlockSize int
	// Channels is applied to the device as soon as it is known. Empty
	// leaves the decoder's channel state alone.
	Channels []device.ChannelSpec
	Metrics  *metrics.Run
}

// Replay decodes r with in and dispatches the decoded packets through s.
// The file is read in BlockSize chunks until in knows its device; the
// device is then added to s, channel selection applied, and the remaining
// chunks are decoded by a session source while Run dispatches. Packets
// decoded before the device was known are dispatched first. in is ended
// exactly once on every path.
func Replay(ctx context.Context, s *Session, in input.Input, r io.Reader, cfg ReplayConfig) error {
	size := cfg.BlockSize
	if size <= 0 {
		size = config.DefaultBlockSize
	}
	rp := &replay{in: in, r: r, cfg: cfg, buf: make([]byte, size)}
	defer rp.finish()

	dev, err := rp.discover(s)
	if err != nil || dev == nil {
		return err
	}
	if len(cfg.Channels) > 0 {
		device.SelectChannels(dev, cfg.Channels)
	}
	monitoring.Infof("replaying %s after %d chunks", dev, rp.chunks)
	if err := s.AddSource(dev, rp.source); err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		if errors.Is(err, ErrStopped) {
			return nil
		}
		return err
	}
	return s.Run()
}

type replay struct {
	in     input.Input
	r      io.Reader
	cfg    ReplayConfig
	buf    []byte
	eof    bool
	ended  bool
	chunks int
}

// next feeds one chunk to the decoder. At end of file it ends the decoder.
func (rp *replay) next() error {
	n, err := io.ReadFull(rp.r, rp.buf)
	if n > 0 {
		rp.chunks++
		rp.cfg.Metrics.AddChunk()
		if serr := rp.in.Send(rp.buf[:n]); serr != nil {
			return fmt.Errorf("chunk %d: %w", rp.chunks, serr)
		}
	}
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		rp.eof = true
		return rp.end()
	case err != nil:
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}

func (rp *replay) end() error {
	if rp.ended {
		return nil
	}
	rp.ended = true
	return rp.in.End()
}

// discover feeds chunks until the device is known. A nil device with a nil
// error means s was stopped first.
func (rp *replay) discover(s *Session) (*device.Device, error) {
	for {
		if s.State() == Stopped {
			return nil, nil
		}
		if err := rp.next(); err != nil {
			return nil, err
		}
		if d, ok := rp.in.Device(); ok {
			return d, nil
		}
		if rp.eof {
			return nil, ErrNoDevice
		}
	}
}

// source dispatches the queued packets, then decodes the rest of the file.
func (rp *replay) source(ctx context.Context, emit packet.Emit) error {
	for {
		for _, p := range rp.in.Packets() {
			if err := emit(p); err != nil {
				return err
			}
		}
		if rp.eof {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rp.next(); err != nil {
			return err
		}
	}
}

// finish ends the decoder if the replay stopped early.
func (rp *replay) finish() {
	if err := rp.end(); err != nil {
		monitoring.Warnf("input: %v", err)
	}
}
