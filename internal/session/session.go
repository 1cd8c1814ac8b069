// Package session runs one acquisition or replay: it owns the devices, the
// datafeed observers and the loop that dispatches every packet to them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/metrics"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/packet"
)

var (
	// ErrNotIdle is returned when devices or sources are added to, or a
	// start is attempted on, a session that already started.
	ErrNotIdle = errors.New("session already started")
	// ErrNotRunning is returned by Run on a session that was never started.
	ErrNotRunning = errors.New("session not started")
	// ErrStopped is returned for operations on a stopped session.
	ErrStopped = errors.New("session stopped")
)

// State is the lifecycle state of a session. There is no way back from
// Stopped.
type State int32

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Observer receives each datafeed packet together with the device that
// produced it. An observer error ends the run.
type Observer func(d *device.Device, p *packet.Packet) error

// Source produces the packets of one device until it is exhausted, ctx is
// done or emit fails.
type Source func(ctx context.Context, emit packet.Emit) error

type source struct {
	dev *device.Device
	run Source
}

type item struct {
	dev *device.Device
	p   *packet.Packet
}

// Session dispatches packets from its sources to its observers, in
// registration order, on the goroutine calling Run.
type Session struct {
	id      string
	metrics *metrics.Run

	mu        sync.Mutex
	state     State
	devices   []*device.Device
	sources   []source
	observers []Observer
	cancel    context.CancelFunc
	feed      chan item
	done      chan error

	stopOnce sync.Once
	stopped  chan struct{}

	// Only touched by Run.
	headered map[*device.Device]bool
}

// New returns an idle session. m may be nil.
func New(m *metrics.Run) *Session {
	return &Session{
		id:       uuid.NewString(),
		metrics:  m,
		stopped:  make(chan struct{}),
		headered: map[*device.Device]bool{},
	}
}

// ID identifies the session in logs and saved captures.
func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Devices returns the devices in the order they were added.
func (s *Session) Devices() []*device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*device.Device(nil), s.devices...)
}

// AddDevice registers d. Devices that acquire by themselves become a
// source of the session.
func (s *Session) AddDevice(d *device.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ErrNotIdle
	}
	s.addDeviceLocked(d)
	if d.CanAcquire() {
		s.sources = append(s.sources, source{dev: d, run: d.Acquire})
	}
	return nil
}

func (s *Session) addDeviceLocked(d *device.Device) {
	for _, existing := range s.devices {
		if existing == d {
			return
		}
	}
	s.devices = append(s.devices, d)
}

// AddSource registers a producer of packets on behalf of d, such as an
// input file being decoded. d is added to the session if needed.
func (s *Session) AddSource(d *device.Device, src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ErrNotIdle
	}
	s.addDeviceLocked(d)
	s.sources = append(s.sources, source{dev: d, run: src})
	return nil
}

// AddDatafeedCallback appends an observer. Observers added after the first
// packet miss the packets already dispatched.
func (s *Session) AddDatafeedCallback(o Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return ErrStopped
	}
	s.observers = append(s.observers, o)
	return nil
}

// Start launches every source. Packets are not dispatched until Run is
// called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Running:
		return ErrNotIdle
	case Stopped:
		return ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.feed = make(chan item)
	s.done = make(chan error, 1)
	s.state = Running

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range s.sources {
		g.Go(func() error {
			return src.run(gctx, func(p *packet.Packet) error {
				select {
				case s.feed <- item{dev: src.dev, p: p}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		})
	}
	feed, done := s.feed, s.done
	go func() {
		done <- g.Wait()
		close(feed)
	}()
	monitoring.Debugf("session %s: started %d sources", s.id, len(s.sources))
	return nil
}

// Run dispatches packets until every source is exhausted or the session is
// stopped, then leaves the session Stopped. A stopped session dispatches
// nothing, so stopping before Run delivers no packets at all.
func (s *Session) Run() error {
	s.mu.Lock()
	state, feed, done := s.state, s.feed, s.done
	s.mu.Unlock()
	switch {
	case state == Idle:
		return ErrNotRunning
	case feed == nil:
		return nil
	}
	defer s.Stop()

	var runErr error
loop:
	for {
		select {
		case <-s.stopped:
			break loop
		case it, ok := <-feed:
			if !ok {
				feed = nil
				break loop
			}
			if err := s.dispatch(it.dev, it.p); err != nil {
				runErr = err
				break loop
			}
		}
	}

	natural := feed == nil
	if !natural {
		// Release blocked producers and wait for them to return.
		s.cancelSources()
		for range feed {
		}
	}
	err := <-done
	switch {
	case runErr != nil:
		return runErr
	case err != nil && !(errors.Is(err, context.Canceled) && s.isStopped()):
		return err
	case natural:
		return s.end()
	}
	return nil
}

// end closes the feed of every device that produced packets.
func (s *Session) end() error {
	for _, d := range s.Devices() {
		if !s.headered[d] {
			continue
		}
		if err := s.deliver(d, packet.NewEnd()); err != nil {
			return err
		}
	}
	return nil
}

// dispatch delivers p, preceded by a Header the first time d produces a
// packet. Nothing is delivered once the session is stopped.
func (s *Session) dispatch(d *device.Device, p *packet.Packet) error {
	if !s.headered[d] {
		s.headered[d] = true
		if err := s.deliver(d, packet.NewHeader(time.Now())); err != nil {
			return err
		}
	}
	return s.deliver(d, p)
}

func (s *Session) deliver(d *device.Device, p *packet.Packet) error {
	if s.isStopped() {
		return nil
	}
	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()
	s.metrics.ObservePacket(p)
	monitoring.Spewf("session %s: %s", s.id, p)
	for _, o := range observers {
		if err := o(d, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

func (s *Session) cancelSources() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop ends the session. It is safe to call any number of times, from any
// goroutine, including while Run is dispatching: the packet being
// delivered completes and no further packets are delivered.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = Stopped
		s.mu.Unlock()
		close(s.stopped)
		s.cancelSources()
		monitoring.Debugf("session %s: stopped", s.id)
	})
}

// Close closes every device of the session.
func (s *Session) Close() error {
	var errs []error
	for _, d := range s.Devices() {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
