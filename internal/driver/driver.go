// Package driver holds the registry of hardware drivers and the scan entry
// point used by the command line.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/monitoring"
)

var (
	// ErrUnknownDriver is returned for a driver name that is not registered.
	ErrUnknownDriver = errors.New("unknown driver")
	// ErrInvalidScanOption is returned when a scan option is not one the
	// driver accepts.
	ErrInvalidScanOption = errors.New("invalid scan option")
	// ErrDeviceNotFound is returned when a scan yields no devices.
	ErrDeviceNotFound = errors.New("no devices found")
)

// Driver discovers one class of instrument.
type Driver interface {
	device.DriverInfo
	// Scan probes for devices. Options have already been checked against
	// ScanOptions. Finding nothing is not an error. Returned devices are
	// closed.
	Scan(ctx context.Context, opts config.Options) ([]*device.Device, error)
}

// Base implements device.DriverInfo for embedding in drivers.
type Base struct {
	ID        string
	Long      string
	Functions []config.Key
	Scanopts  []config.Key
}

func (b Base) Name() string              { return b.ID }
func (b Base) LongName() string          { return b.Long }
func (b Base) ConfigKeys() []config.Key  { return b.Functions }
func (b Base) ScanOptions() []config.Key { return b.Scanopts }

// Registry maps driver names to drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

func NewRegistry() *Registry {
	return &Registry{drivers: map[string]Driver{}}
}

// Register adds d, replacing any driver of the same name.
func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Name()] = d
}

// Get returns the driver named name.
func (r *Registry) Get(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
	return d, nil
}

// Names returns the registered driver names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered drivers ordered by name.
func (r *Registry) All() []Driver {
	names := r.Names()
	out := make([]Driver, 0, len(names))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		out = append(out, r.drivers[name])
	}
	return out
}

// Scan validates opts against d's scan options and runs the scan.
func Scan(ctx context.Context, d Driver, opts config.Options) ([]*device.Device, error) {
	if err := opts.Check(d.ScanOptions()); err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrInvalidScanOption, d.Name(), err)
	}
	devices, err := d.Scan(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%s scan failed: %w", d.Name(), err)
	}
	monitoring.Debugf("%s: scan found %d device(s)", d.Name(), len(devices))
	return devices, nil
}

// ScanAll scans every registered driver with no options. A failing driver
// is logged and skipped.
func (r *Registry) ScanAll(ctx context.Context) []*device.Device {
	var all []*device.Device
	for _, d := range r.All() {
		devices, err := Scan(ctx, d, nil)
		if err != nil {
			monitoring.Warnf("%v", err)
			continue
		}
		all = append(all, devices...)
	}
	return all
}

// ScanSpec parses "name:key=value:..." and scans the named driver.
func (r *Registry) ScanSpec(ctx context.Context, spec string) ([]*device.Device, error) {
	name, rawOpts := config.SplitSpec(spec)
	d, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	opts, err := config.ParseOptions(rawOpts)
	if err != nil {
		return nil, err
	}
	return Scan(ctx, d, opts)
}
