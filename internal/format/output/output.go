// Package output holds the output format registry and the encoders that turn
// datafeed packets into bytes.
package output

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/packet"
)

var (
	// ErrUnknownFormat is returned for an output format name that is not
	// registered.
	ErrUnknownFormat = errors.New("unknown output format")
	// ErrNeedsFile is returned when a format that writes its own file is
	// selected without an output path.
	ErrNeedsFile = errors.New("output format requires an output file")
)

// Output is one encoder instance bound to a device. Receive returns the
// bytes to append to the destination for p; Finish flushes whatever the
// encoder still buffers. Neither is called again after Finish.
type Output interface {
	Receive(p *packet.Packet) ([]byte, error)
	Finish() ([]byte, error)
}

// Params binds a new encoder.
type Params struct {
	Device *device.Device
	// Path is the destination file, empty when writing to stdout.
	Path string
	// Session identifies the run in formats that record it.
	Session string
	Options config.Options
}

// Format describes one output format.
type Format struct {
	Name        string
	Description string
	// Options lists the keys the format accepts.
	Options []config.Key
	// WritesFile formats create Path themselves and return no bytes.
	WritesFile bool
	New        func(Params) (Output, error)
}

// Registry maps format names to formats.
type Registry struct {
	mu      sync.RWMutex
	formats map[string]*Format
}

func NewRegistry() *Registry {
	return &Registry{formats: map[string]*Format{}}
}

// Register adds f, replacing any format of the same name.
func (r *Registry) Register(f *Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formats[f.Name] = f
}

// Get returns the format named name.
func (r *Registry) Get(name string) (*Format, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formats[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return f, nil
}

// Names returns the registered format names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.formats))
	for name := range r.formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered formats ordered by name.
func (r *Registry) All() []*Format {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Format, 0, len(names))
	for _, name := range names {
		out = append(out, r.formats[name])
	}
	return out
}

// Create parses spec ("name:key=value:..."), checks the options against the
// format and instantiates it. p.Options is replaced by the parsed options.
func (r *Registry) Create(spec string, p Params) (Output, *Format, error) {
	name, rawOpts := config.SplitSpec(spec)
	f, err := r.Get(name)
	if err != nil {
		return nil, nil, err
	}
	opts, err := config.ParseOptions(rawOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("output format %s: %w", name, err)
	}
	if err := opts.Check(f.Options); err != nil {
		return nil, nil, fmt.Errorf("output format %s: %w", name, err)
	}
	if f.WritesFile && p.Path == "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrNeedsFile, name)
	}
	p.Options = opts
	out, err := f.New(p)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s output: %w", name, err)
	}
	return out, f, nil
}

// Default returns a registry holding every built-in format.
func Default() *Registry {
	r := NewRegistry()
	for _, f := range []*Format{
		bitsFormat, hexFormat, asciiFormat, binaryFormat,
		csvFormat, analogFormat, vcdFormat, cborFormat,
		srzipFormat, sqliteFormat, chartFormat, plotFormat, statsFormat,
	} {
		r.Register(f)
	}
	return r
}

// view is the part of a device an encoder renders: its enabled channels
// under their current names and the running sample rate.
type view struct {
	dev *device.Device
	// logic holds the enabled logic channels; bits[i] is the bit position
	// of logic[i] inside a logic sample.
	logic []*device.Channel
	bits  []int
	// analog holds the enabled analog channels.
	analog []*device.Channel
	rate   int64
}

func newView(d *device.Device) *view {
	v := &view{dev: d, rate: d.SampleRate()}
	for i, ch := range d.ChannelsOf(device.ChannelLogic) {
		if ch.Enabled {
			v.logic = append(v.logic, ch)
			v.bits = append(v.bits, i)
		}
	}
	v.analog = d.EnabledChannels(device.ChannelAnalog)
	return v
}

// observe updates the sample rate from meta packets.
func (v *view) observe(p *packet.Packet) {
	if p.Kind != packet.KindMeta {
		return
	}
	if rate, ok := p.Meta.SampleRate(); ok {
		v.rate = rate
	}
}

// analogIndex returns the position of device channel index among the
// enabled analog channels, or -1.
func (v *view) analogIndex(index int) int {
	for i, ch := range v.analog {
		if ch.Index == index {
			return i
		}
	}
	return -1
}

func (v *view) enabled() int { return len(v.logic) + len(v.analog) }

// header renders "Acquisition with 2/10 channels at 200 kHz".
func (v *view) header() string {
	s := fmt.Sprintf("Acquisition with %d/%d channels", v.enabled(), len(v.dev.Channels()))
	if v.rate > 0 {
		s += " at " + config.IntValue(v.rate).Format(config.KeySampleRate)
	}
	return s
}
