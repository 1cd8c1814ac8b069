package bitscope

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/packet"
	"github.com/banshee-data/sigcap/internal/serialmux"
)

const (
	clockHz = 40_000_000
	// drainTimeout is how long the input must stay quiet before a query.
	drainTimeout = 5 * time.Millisecond
	// traceTimeout covers the scope's own trigger timeout.
	traceTimeout = 500 * time.Millisecond

	triggerLevel     = 0x68f5
	triggerWatchdog  = 0xffff
	dumpStartAddress = 0xcc
	cr               = '\r'
)

// link speaks the command protocol over a port with read timeouts. A read
// that returns no bytes means the scope went quiet.
type link struct {
	port    serialmux.TimeoutSerialPorter
	timeout time.Duration
}

func newLink(p serialmux.SerialPorter, timeout time.Duration) (*link, error) {
	tp, ok := p.(serialmux.TimeoutSerialPorter)
	if !ok {
		return nil, errors.New("serial port does not support read timeouts")
	}
	return &link{port: tp, timeout: timeout}, nil
}

// send writes commands without waiting for their echo.
func (l *link) send(commands ...string) error {
	for _, c := range commands {
		if _, err := l.port.Write([]byte(c)); err != nil {
			return fmt.Errorf("%w: %v", serialmux.ErrWriteFailed, err)
		}
	}
	return nil
}

// drain discards echoes of earlier commands.
func (l *link) drain() error {
	if err := l.port.SetReadTimeout(drainTimeout); err != nil {
		return err
	}
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		monitoring.Spewf("bitscope: discarded %q", buf[:n])
	}
}

// query drains pending input, sends command and reads until done accepts
// the reply or the scope stays quiet for timeout.
func (l *link) query(command string, timeout time.Duration, done func([]byte) bool) ([]byte, error) {
	if err := l.drain(); err != nil {
		return nil, err
	}
	if err := l.send(command); err != nil {
		return nil, err
	}
	if err := l.port.SetReadTimeout(timeout); err != nil {
		return nil, err
	}
	var res []byte
	buf := make([]byte, 4096)
	for {
		n, err := l.port.Read(buf)
		if err != nil {
			return res, err
		}
		if n == 0 {
			return res, fmt.Errorf("%w to %q after %d bytes", serialmux.ErrNoReply, command, len(res))
		}
		res = append(res, buf[:n]...)
		if done(res) {
			return res, nil
		}
	}
}

// queryCR reads until count carriage returns have arrived.
func (l *link) queryCR(command string, count int) ([]byte, error) {
	return l.queryCRTimeout(command, count, l.timeout)
}

func (l *link) queryCRTimeout(command string, count int, timeout time.Duration) ([]byte, error) {
	return l.query(command, timeout, func(b []byte) bool { return bytes.Count(b, []byte{cr}) >= count })
}

// queryN reads until n bytes have arrived.
func (l *link) queryN(command string, n int) ([]byte, error) {
	return l.query(command, l.timeout, func(b []byte) bool { return len(b) >= n })
}

// reg renders a register write: the address, then each byte of value low
// byte first, "z" storing and advancing between bytes and "s" storing the
// last one. reg(0x26, 0x1234, 2) is "26@34z12s".
func reg(addr byte, value uint32, width int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%02x@", addr)
	for i := 0; i < width; i++ {
		fmt.Fprintf(&sb, "%02x", byte(value>>(8*i)))
		if i < width-1 {
			sb.WriteByte('z')
		} else {
			sb.WriteByte('s')
		}
	}
	return sb.String()
}

// scope is the hardware side of a BitScope device.
type scope struct {
	factory  serialmux.SerialPortFactory
	path     string
	portOpts serialmux.PortOptions
	model    Model
	timeout  time.Duration

	port serialmux.SerialPorter
	link *link
}

func (s *scope) Open(*device.Device) error {
	port, err := s.factory.Open(s.path, s.portOpts)
	if err != nil {
		return err
	}
	l, err := newLink(port, s.timeout)
	if err != nil {
		port.Close()
		return err
	}
	if err := l.send("!"); err != nil {
		port.Close()
		return err
	}
	reply, err := l.queryCR("?", 1)
	if err != nil {
		port.Close()
		return fmt.Errorf("failed to identify scope: %w", err)
	}
	if _, model, err := ParseID(reply); err != nil {
		port.Close()
		return err
	} else if model != s.model {
		port.Close()
		return fmt.Errorf("expected a %s on %s, found a %s", s.model, s.path, model)
	}
	s.port, s.link = port, l
	return nil
}

func (s *scope) Close(*device.Device) error {
	if s.port == nil {
		return nil
	}
	if err := s.link.send("."); err != nil {
		monitoring.Debugf("bitscope: stop: %v", err)
	}
	err := s.port.Close()
	s.port, s.link = nil, nil
	return err
}

// capture is the acquisition setup read from the device configuration.
type capture struct {
	rate     int64
	pre      int
	post     int
	frames   int64
	channels []*device.Channel
	ranges   []vrange
	ac       []bool
	mode     uint32
}

func (s *scope) setup(dev *device.Device) (*capture, error) {
	cfg := dev.Config()
	c := &capture{
		rate:   cfg.Current(config.KeySampleRate).Int(),
		frames: cfg.Current(config.KeyLimitFrames).Int(),
	}
	if c.rate <= 0 {
		c.rate = defaultSampleRate
	}
	if cfg.Current(config.KeyContinuous).Bool() {
		c.frames = 0
	}
	samples := int(cfg.Current(config.KeyLimitSamples).Int())
	if samples <= 0 {
		samples = defaultLimitSamples
	}
	c.pre = samples * int(cfg.Current(config.KeyCaptureRatio).Int()) / 100
	c.post = samples - c.pre

	// Edge triggered on the hardware comparator.
	c.mode = 0x21
	if cfg.Current(config.KeyTriggerSlope).Str() == "f" {
		c.mode |= 0x10
	}
	if cfg.Current(config.KeyTriggerSource).Str() == "CHB" {
		c.mode |= 0x04
	}

	groups := dev.ChannelGroups()
	for _, ch := range dev.EnabledChannels(device.ChannelAnalog) {
		cg := groups[ch.Index]
		r, ok := lookupRange(s.model, cg.Current(config.KeyRange).Str())
		if !ok {
			return nil, fmt.Errorf("%w: range %q on %s", config.ErrInvalidValue, cg.Current(config.KeyRange).Str(), cg.Name)
		}
		c.channels = append(c.channels, ch)
		c.ranges = append(c.ranges, r)
		c.ac = append(c.ac, cg.Current(config.KeyCoupling).Str() == "AC")
	}
	return c, nil
}

// program writes the time base and trigger setup.
func (s *scope) program(c *capture) error {
	ticks := uint32(clockHz / c.rate)
	var enable uint32
	for _, ch := range c.channels {
		enable |= 1 << ch.Index
	}
	return s.link.send(
		reg(0x14, ticks, 2)+reg(0x2e, 1, 2), // clock ticks and scale
		reg(0x7b, 0x80, 1),                  // hardware comparators
		reg(0x7c, 0x80, 1),                  // analog filter
		reg(0x37, enable, 1),                // analog inputs
		reg(0x31, 0, 1),                     // buffer mode
		reg(0x21, 0, 1),                     // trace mode
		reg(0x06, 0x7f, 1)+reg(0x05, 0x80, 1),
		reg(0x44, 0, 2),
		reg(0x68, triggerLevel, 2),
		reg(0x07, c.mode, 1),
		reg(0x32, 0, 2)+reg(0x34, 0, 2)+reg(0x2c, triggerWatchdog, 2),
		reg(0x3a, 0, 2),
	)
}

func (s *scope) vertical(r vrange) error {
	return s.link.send(r.regs)
}

// trace runs one capture and waits for the scope to report completion.
func (s *scope) trace(c *capture) error {
	if err := s.link.send(
		reg(0x22, 0, 4), // post-trigger delay
		reg(0x26, uint32(c.pre), 2),
		reg(0x2a, uint32(c.post), 2),
		reg(0x08, 0, 3),
		">",
		"U",
	); err != nil {
		return err
	}
	reply, err := s.link.queryCRTimeout("D", 5, s.timeout+traceTimeout)
	if err != nil {
		return fmt.Errorf("trace failed: %w", err)
	}
	if !bytes.HasPrefix(reply, []byte("D")) {
		return fmt.Errorf("unexpected trace reply %q", reply)
	}
	return nil
}

// dump reads size raw samples of channel index.
func (s *scope) dump(index int, size int) ([]byte, error) {
	if err := s.link.send(
		reg(0x31, 0, 1),
		reg(0x08, dumpStartAddress, 3),
		reg(0x1e, 0, 1), // raw
		reg(0x30, uint32(index), 1),
		reg(0x1c, uint32(size), 2),
		reg(0x16, 1, 2), // repeat
		reg(0x18, 1, 2), // send
		reg(0x1a, 0xffff, 2),
		">",
	); err != nil {
		return nil, err
	}
	reply, err := s.link.queryN("A", size+1)
	if err != nil {
		return nil, fmt.Errorf("dump failed: %w", err)
	}
	if reply[0] != 'A' {
		return nil, fmt.Errorf("unexpected dump reply %q", reply[:1])
	}
	return reply[1 : size+1], nil
}

// Volts converts a raw sample to volts for a range spanning span volts
// centred on zero.
func Volts(raw byte, span float64) float32 {
	return float32((float64(raw) - 128) / 256 * span)
}

func convert(raw []byte, r vrange, ac bool) []float32 {
	out := make([]float32, len(raw))
	var sum float64
	for i, b := range raw {
		out[i] = Volts(b, r.volts)
		sum += float64(out[i])
	}
	if ac && len(out) > 0 {
		mean := float32(sum / float64(len(out)))
		for i := range out {
			out[i] -= mean
		}
	}
	return out
}

// Acquire captures limit_frames traces, or runs until ctx is done when
// continuous. Each trace is one frame with a trigger packet between the
// pre-trigger and post-trigger samples.
func (s *scope) Acquire(ctx context.Context, dev *device.Device, emit packet.Emit) error {
	c, err := s.setup(dev)
	if err != nil {
		return err
	}
	if len(c.channels) == 0 {
		return nil
	}
	if err := s.program(c); err != nil {
		return err
	}
	for _, r := range c.ranges {
		if err := s.vertical(r); err != nil {
			return err
		}
	}
	if err := emit(packet.NewSampleRate(c.rate)); err != nil {
		return err
	}

	size := c.pre + c.post
	for n := int64(0); c.frames == 0 || n < c.frames; n++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.trace(c); err != nil {
			return err
		}
		traces := make([][]float32, len(c.channels))
		for i, ch := range c.channels {
			raw, err := s.dump(ch.Index, size)
			if err != nil {
				return err
			}
			traces[i] = convert(raw, c.ranges[i], c.ac[i])
		}
		if err := s.emitFrame(c, traces, emit); err != nil {
			return err
		}
	}
	return nil
}

func (s *scope) emitFrame(c *capture, traces [][]float32, emit packet.Emit) error {
	if err := emit(packet.NewFrameBegin()); err != nil {
		return err
	}
	emitPart := func(from, to int) error {
		if from == to {
			return nil
		}
		for i, ch := range c.channels {
			if err := emit(packet.NewAnalog(ch.Index, traces[i][from:to], "voltage", "V")); err != nil {
				return err
			}
		}
		return nil
	}
	if err := emitPart(0, c.pre); err != nil {
		return err
	}
	if c.pre > 0 {
		if err := emit(packet.NewTrigger()); err != nil {
			return err
		}
	}
	if err := emitPart(c.pre, c.pre+c.post); err != nil {
		return err
	}
	return emit(packet.NewFrameEnd())
}
