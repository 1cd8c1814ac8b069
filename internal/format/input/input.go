// Package input holds the input format registry and the decoders that turn
// raw capture files, fed in chunks, into a device and its datafeed packets.
package input

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/packet"
)

var (
	// ErrUnknownFormat is returned for an input format name that is not
	// registered.
	ErrUnknownFormat = errors.New("unknown input format")
	// ErrUndetected is returned when no format recognises a file.
	ErrUndetected = errors.New("unrecognised input file format")
)

// logicChunk is the most samples one decoded logic packet carries.
const logicChunk = 4096

// Input is one decoder instance. Send feeds the next chunk of the file.
// Device reports false until enough of the file has been seen to build the
// source device; packets decoded before that are queued and returned by
// Packets once it is known. End flushes any trailing packet and must be
// called once.
type Input interface {
	Send(chunk []byte) error
	Device() (*device.Device, bool)
	// Packets returns and clears the packets decoded so far. It never
	// returns Header or End packets.
	Packets() []*packet.Packet
	End() error
}

// Format describes one input format.
type Format struct {
	Name        string
	Description string
	// Options lists the keys the format accepts.
	Options []config.Key
	// Detect reports whether head, the start of a file, is in this
	// format. Formats without it are never auto-detected.
	Detect func(head []byte) bool
	New    func(config.Options) (Input, error)
}

// Registry maps format names to formats, keeping registration order for
// detection.
type Registry struct {
	mu      sync.RWMutex
	formats []*Format
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends f, replacing any format of the same name in place.
func (r *Registry) Register(f *Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.formats {
		if existing.Name == f.Name {
			r.formats[i] = f
			return
		}
	}
	r.formats = append(r.formats, f)
}

// Get returns the format named name.
func (r *Registry) Get(name string) (*Format, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.formats {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Names returns the format names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.formats))
	for i, f := range r.formats {
		names[i] = f.Name
	}
	return names
}

// All returns the formats in registration order.
func (r *Registry) All() []*Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Format(nil), r.formats...)
}

// Create parses spec ("name:key=value:...") and instantiates the format.
func (r *Registry) Create(spec string) (Input, error) {
	name, rawOpts := config.SplitSpec(spec)
	f, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	opts, err := config.ParseOptions(rawOpts)
	if err != nil {
		return nil, fmt.Errorf("input format %s: %w", name, err)
	}
	return f.Create(opts)
}

// Create checks opts against the format and instantiates it.
func (f *Format) Create(opts config.Options) (Input, error) {
	if err := opts.Check(f.Options); err != nil {
		return nil, fmt.Errorf("input format %s: %w", f.Name, err)
	}
	in, err := f.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s input: %w", f.Name, err)
	}
	return in, nil
}

// Detect returns the first format, in registration order, that recognises
// head.
func (r *Registry) Detect(head []byte) (*Format, error) {
	for _, f := range r.All() {
		if f.Detect != nil && f.Detect(head) {
			return f, nil
		}
	}
	return nil, ErrUndetected
}

// Default returns a registry holding every built-in format.
func Default() *Registry {
	r := NewRegistry()
	r.Register(cborFormat)
	r.Register(pcapFormat)
	r.Register(vcdFormat)
	r.Register(binaryFormat)
	return r
}

// queue holds the device once known and the packets not yet collected.
type queue struct {
	dev     *device.Device
	pending []*packet.Packet
}

func (q *queue) Device() (*device.Device, bool) { return q.dev, q.dev != nil }

func (q *queue) Packets() []*packet.Packet {
	p := q.pending
	q.pending = nil
	return p
}

func (q *queue) push(p *packet.Packet) { q.pending = append(q.pending, p) }

// newDevice builds the virtual device of an input format. The sample rate
// is readable and follows the meta packets the decoder emits.
func newDevice(format string, info device.Info, rate int64) *device.Device {
	drv := device.VirtualDriver{ID: format, Description: format + " input"}
	d := device.NewVirtual(drv, info, nil)
	d.Config().Define(config.KeySampleRate, device.Entry{Caps: config.CapGet, Value: config.IntValue(rate)})
	return d
}

// setRate records rate on the device and queues the matching meta packet.
func (q *queue) setRate(rate int64) {
	if rate <= 0 {
		return
	}
	q.dev.Config().Update(config.KeySampleRate, config.IntValue(rate))
	q.push(packet.NewSampleRate(rate))
}

// logicBuffer packs samples into logic packets of at most logicChunk
// samples.
type logicBuffer struct {
	unitSize int
	data     []byte
}

func (b *logicBuffer) add(unit []byte, q *queue) {
	b.data = append(b.data, unit...)
	if len(b.data) >= logicChunk*b.unitSize {
		b.flush(q)
	}
}

func (b *logicBuffer) flush(q *queue) {
	if len(b.data) == 0 {
		return
	}
	q.push(packet.NewLogic(b.unitSize, b.data))
	b.data = nil
}
