// Package device models scanned instruments: their identity, channels,
// channel groups and configuration scopes.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/packet"
)

// ErrNotOpen is returned when a hardware device is configured or acquired
// from before Open.
var ErrNotOpen = errors.New("device not open")

// DriverInfo is the driver-level description a device reports.
type DriverInfo interface {
	Name() string
	LongName() string
	// ConfigKeys lists the driver functions (device classes).
	ConfigKeys() []config.Key
	ScanOptions() []config.Key
}

// VirtualDriver describes devices that are not backed by a scanned driver,
// such as those produced by input formats or loaded sessions.
type VirtualDriver struct {
	ID          string
	Description string
	Functions   []config.Key
}

func (v VirtualDriver) Name() string              { return v.ID }
func (v VirtualDriver) LongName() string          { return v.Description }
func (v VirtualDriver) ConfigKeys() []config.Key  { return v.Functions }
func (v VirtualDriver) ScanOptions() []config.Key { return nil }

// Operations is the hardware side of a device, supplied by its driver.
type Operations interface {
	Open(d *Device) error
	Close(d *Device) error
	// Acquire streams packets through emit until the configured limits are
	// reached, ctx is cancelled or emit fails. It must not emit Header or
	// End; the session frames the feed.
	Acquire(ctx context.Context, d *Device, emit packet.Emit) error
}

// Info is the identity of a device.
type Info struct {
	Vendor       string
	Model        string
	Version      string
	SerialNumber string
	Conn         string
}

// ChannelType distinguishes logic from analog channels.
type ChannelType uint8

const (
	ChannelLogic ChannelType = iota + 1
	ChannelAnalog
)

func (t ChannelType) String() string {
	switch t {
	case ChannelLogic:
		return "logic"
	case ChannelAnalog:
		return "analog"
	default:
		return "unknown"
	}
}

// Channel is one input of a device. Name and Enabled change only through
// channel selection, before acquisition starts.
type Channel struct {
	Index   int
	Type    ChannelType
	Name    string
	Enabled bool
}

// ChannelGroup is a named subset of channels with its own configuration
// scope.
type ChannelGroup struct {
	*Store
	Name     string
	Channels []*Channel
}

// Device is one instrument, real or virtual.
type Device struct {
	driver  DriverInfo
	info    Info
	ops     Operations
	virtual bool

	mu     sync.Mutex
	isOpen bool

	channels []*Channel
	groups   []*ChannelGroup
	config   *Store
}

// New returns a closed hardware device. ops must not be nil.
func New(drv DriverInfo, info Info, ops Operations) *Device {
	d := &Device{driver: drv, info: info, ops: ops, config: NewStore()}
	d.config.guard = d.requireOpen
	return d
}

// NewVirtual returns a device that is always open. ops may be nil when the
// device's packets are supplied by someone else, such as an input decoder.
func NewVirtual(drv DriverInfo, info Info, ops Operations) *Device {
	return &Device{driver: drv, info: info, ops: ops, virtual: true, isOpen: true, config: NewStore()}
}

func (d *Device) requireOpen() error {
	if !d.IsOpen() {
		return ErrNotOpen
	}
	return nil
}

func (d *Device) Driver() DriverInfo { return d.driver }
func (d *Device) Info() Info         { return d.info }
func (d *Device) Virtual() bool      { return d.virtual }

// Config returns the device-wide configuration store.
func (d *Device) Config() *Store { return d.config }

// AddChannel appends a channel with the next index. Channels start enabled.
func (d *Device) AddChannel(typ ChannelType, name string) *Channel {
	ch := &Channel{Index: len(d.channels), Type: typ, Name: name, Enabled: true}
	d.channels = append(d.channels, ch)
	return ch
}

// AddGroup adds a channel group over the given channels.
func (d *Device) AddGroup(name string, channels ...*Channel) *ChannelGroup {
	cg := &ChannelGroup{Store: NewStore(), Name: name, Channels: channels}
	if !d.virtual {
		cg.guard = d.requireOpen
	}
	d.groups = append(d.groups, cg)
	return cg
}

func (d *Device) Channels() []*Channel { return d.channels }

// Channel returns the channel currently named name.
func (d *Device) Channel(name string) *Channel {
	for _, ch := range d.channels {
		if ch.Name == name {
			return ch
		}
	}
	return nil
}

// ChannelsOf returns the channels of type typ in index order.
func (d *Device) ChannelsOf(typ ChannelType) []*Channel {
	var out []*Channel
	for _, ch := range d.channels {
		if ch.Type == typ {
			out = append(out, ch)
		}
	}
	return out
}

func (d *Device) ChannelGroups() []*ChannelGroup { return d.groups }

// ChannelGroup returns the group named name, or nil.
func (d *Device) ChannelGroup(name string) *ChannelGroup {
	for _, cg := range d.groups {
		if cg.Name == name {
			return cg
		}
	}
	return nil
}

func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isOpen
}

// Open opens the underlying hardware. Opening an open device is a no-op.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isOpen {
		return nil
	}
	if err := d.ops.Open(d); err != nil {
		return fmt.Errorf("failed to open %s device: %w", d.driver.Name(), err)
	}
	d.isOpen = true
	return nil
}

// Close releases the hardware. The driver's Close runs at most once per
// Open; further calls are no-ops.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isOpen || d.virtual {
		return nil
	}
	d.isOpen = false
	if err := d.ops.Close(d); err != nil {
		return fmt.Errorf("failed to close %s device: %w", d.driver.Name(), err)
	}
	return nil
}

// CanAcquire reports whether the device produces packets itself.
func (d *Device) CanAcquire() bool { return d.ops != nil }

// Acquire runs the driver's acquisition loop.
func (d *Device) Acquire(ctx context.Context, emit packet.Emit) error {
	if d.ops == nil {
		return nil
	}
	if err := d.requireOpen(); err != nil {
		return err
	}
	return d.ops.Acquire(ctx, d, emit)
}

func (d *Device) ConfigKeys() []config.Key { return d.config.ConfigKeys() }
func (d *Device) ConfigCheck(k config.Key, c config.Capability) bool {
	return d.config.ConfigCheck(k, c)
}
func (d *Device) ConfigGet(k config.Key) (config.Value, error)    { return d.config.ConfigGet(k) }
func (d *Device) ConfigSet(k config.Key, v config.Value) error    { return d.config.ConfigSet(k, v) }
func (d *Device) ConfigList(k config.Key) ([]config.Value, error) { return d.config.ConfigList(k) }

// EnabledChannels returns the enabled channels of type typ.
func (d *Device) EnabledChannels(typ ChannelType) []*Channel {
	var out []*Channel
	for _, ch := range d.channels {
		if ch.Type == typ && ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}

// SampleRate returns the current device sample rate, or 0 when the device
// has none.
func (d *Device) SampleRate() int64 {
	return d.config.Current(config.KeySampleRate).Int()
}

func (d *Device) String() string {
	return Summarize(d).String()
}
