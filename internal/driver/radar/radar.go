// Package radar drives OmniPreSense OPS243 doppler radar sensors over a
// serial line. Each speed report becomes one sample on the speed and
// magnitude analog channels.
package radar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/driver"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/serialmux"
	"github.com/banshee-data/sigcap/internal/units"
)

const (
	defaultBaudRate     = 19200
	defaultProbeTimeout = 2 * time.Second
)

// usbIDs are the USB identities the sensor enumerates with.
var usbIDs = []serialmux.USBID{{VID: "0483", PID: "5740"}}

// Driver is the OPS243 driver.
type Driver struct {
	driver.Base
	Factory      serialmux.SerialPortFactory
	Enumerate    serialmux.Enumerator
	ProbeTimeout time.Duration
}

// New returns a driver that opens real serial ports.
func New() *Driver {
	return &Driver{
		Base: driver.Base{
			ID:        "ops243",
			Long:      "OmniPreSense OPS243 doppler radar",
			Functions: []config.Key{config.KeyRadar},
			Scanopts:  []config.Key{config.KeyConn, config.KeySerialComm},
		},
		Factory:      serialmux.NewRealSerialPortFactory(),
		Enumerate:    serialmux.ListPorts,
		ProbeTimeout: defaultProbeTimeout,
	}
}

// productInfo is the reply to the "??" query.
type productInfo struct {
	Product string `json:"Product"`
	Version string `json:"Version"`
}

// Scan probes conn, or every port with the sensor's USB identity.
func (d *Driver) Scan(ctx context.Context, opts config.Options) ([]*device.Device, error) {
	portOpts, err := serialmux.ParseSerialComm(opts.Str(config.KeySerialComm, ""))
	if err != nil {
		return nil, err
	}
	if _, set := opts.Lookup(config.KeySerialComm); !set {
		portOpts.BaudRate = defaultBaudRate
	}

	var candidates []string
	if conn := opts.Str(config.KeyConn, ""); conn != "" {
		candidates = []string{conn}
	} else if d.Enumerate != nil {
		ports, err := d.Enumerate()
		if err != nil {
			monitoring.Warnf("ops243: %v", err)
		}
		for _, p := range serialmux.FilterUSB(ports, usbIDs...) {
			candidates = append(candidates, p.Name)
		}
	}

	var devices []*device.Device
	for _, path := range candidates {
		info, err := d.probe(ctx, path, portOpts)
		if err != nil {
			monitoring.Infof("ops243: no sensor on %s: %v", path, err)
			continue
		}
		devices = append(devices, d.newDevice(path, portOpts, info))
	}
	return devices, nil
}

func (d *Driver) probe(ctx context.Context, path string, portOpts serialmux.PortOptions) (productInfo, error) {
	port, err := d.Factory.Open(path, portOpts)
	if err != nil {
		return productInfo{}, err
	}
	mux := serialmux.NewSerialMux(port)
	defer mux.Close()

	monCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go mux.Monitor(monCtx)

	line, err := mux.Query(ctx, "??", func(l string) bool { return strings.Contains(l, "Product") }, d.probeTimeout())
	if err != nil {
		return productInfo{}, err
	}
	var info productInfo
	if err := json.Unmarshal([]byte(line), &info); err != nil {
		return productInfo{}, fmt.Errorf("unexpected product reply %q: %w", line, err)
	}
	return info, nil
}

func (d *Driver) probeTimeout() time.Duration {
	if d.ProbeTimeout <= 0 {
		return defaultProbeTimeout
	}
	return d.ProbeTimeout
}

func (d *Driver) newDevice(path string, portOpts serialmux.PortOptions, info productInfo) *device.Device {
	dev := device.New(d, device.Info{
		Vendor:  "OmniPreSense",
		Model:   info.Product,
		Version: info.Version,
		Conn:    path,
	}, &sensor{factory: d.Factory, path: path, portOpts: portOpts})

	s := dev.Config()
	s.Define(config.KeyConn, device.Entry{Caps: config.CapGet, Value: config.StringValue(path)})
	s.Define(config.KeySerialComm, device.Entry{Caps: config.CapGet, Value: config.StringValue(portOpts.String())})
	getSet := config.CapGet | config.CapSet
	s.Define(config.KeyLimitSamples, device.Entry{Caps: getSet, Value: config.IntValue(0)})
	s.Define(config.KeyLimitMsec, device.Entry{Caps: getSet, Value: config.IntValue(0)})
	s.Define(config.KeyContinuous, device.Entry{Caps: getSet, Value: config.BoolValue(false)})
	s.Define(config.KeySpeedUnits, device.Entry{
		Caps:  getSet,
		Value: config.StringValue(units.MPS),
		OnSet: func(v config.Value) error { return units.Check(v.Str()) },
	})

	dev.AddChannel(device.ChannelAnalog, "speed")
	dev.AddChannel(device.ChannelAnalog, "magnitude")
	return dev
}
