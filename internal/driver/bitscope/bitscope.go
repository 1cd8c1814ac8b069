// Package bitscope drives BitScope BS05 and BS10 USB oscilloscopes through
// their serial virtual machine command set.
package bitscope

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/driver"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/serialmux"
)

const (
	defaultBaudRate     = 115200
	defaultReplyTimeout = 100 * time.Millisecond

	defaultSampleRate   = 1_000_000
	defaultLimitSamples = 1024
	// maxSamples is the capture buffer depth of both models.
	maxSamples = 12288
)

// usbIDs are the FTDI bridges the scopes enumerate with.
var usbIDs = []serialmux.USBID{{VID: "0403", PID: "6001"}}

// sampleRates are the rates reachable by dividing the 40 MHz clock.
var sampleRates = []int64{100_000, 250_000, 500_000, 1_000_000, 2_000_000, 5_000_000, 10_000_000, 20_000_000, 40_000_000}

// Model is a supported scope model.
type Model string

const (
	ModelBS05 Model = "bs05"
	ModelBS10 Model = "bs10"
)

// ParseID maps the reply to "?" to a model. The reply starts with the echoed
// command.
func ParseID(reply []byte) (id string, model Model, err error) {
	s := strings.TrimSpace(string(reply))
	s = strings.TrimPrefix(s, "?")
	id = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(id, "BS0010"):
		return id, ModelBS10, nil
	case strings.HasPrefix(id, "BS0005"):
		return id, ModelBS05, nil
	}
	return id, "", fmt.Errorf("unsupported model %q", id)
}

// Driver is the BitScope driver.
type Driver struct {
	driver.Base
	Factory   serialmux.SerialPortFactory
	Enumerate serialmux.Enumerator
	// ReplyTimeout bounds the wait for any single reply.
	ReplyTimeout time.Duration
}

// New returns a driver that opens real serial ports.
func New() *Driver {
	return &Driver{
		Base: driver.Base{
			ID:        "bitscope",
			Long:      "BitScope BS05/BS10 USB oscilloscope",
			Functions: []config.Key{config.KeyOscilloscope},
			Scanopts:  []config.Key{config.KeyConn, config.KeySerialComm},
		},
		Factory:      serialmux.NewRealSerialPortFactory(),
		Enumerate:    serialmux.ListPorts,
		ReplyTimeout: defaultReplyTimeout,
	}
}

func (d *Driver) replyTimeout() time.Duration {
	if d.ReplyTimeout <= 0 {
		return defaultReplyTimeout
	}
	return d.ReplyTimeout
}

// Scan probes conn, or every FTDI port when no conn is given.
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
			monitoring.Warnf("bitscope: %v", err)
		}
		for _, p := range serialmux.FilterUSB(ports, usbIDs...) {
			candidates = append(candidates, p.Name)
		}
	}

	var devices []*device.Device
	for _, path := range candidates {
		if ctx.Err() != nil {
			break
		}
		id, model, err := d.probe(path, portOpts)
		if err != nil {
			monitoring.Infof("bitscope: no scope on %s: %v", path, err)
			continue
		}
		devices = append(devices, d.newDevice(path, portOpts, id, model))
	}
	return devices, nil
}

func (d *Driver) probe(path string, portOpts serialmux.PortOptions) (string, Model, error) {
	port, err := d.Factory.Open(path, portOpts)
	if err != nil {
		return "", "", err
	}
	defer port.Close()
	l, err := newLink(port, d.replyTimeout())
	if err != nil {
		return "", "", err
	}
	reply, err := l.queryCR("?", 1)
	if err != nil {
		return "", "", err
	}
	return ParseID(reply)
}

func (d *Driver) newDevice(path string, portOpts serialmux.PortOptions, id string, model Model) *device.Device {
	s := &scope{factory: d.Factory, path: path, portOpts: portOpts, model: model, timeout: d.replyTimeout()}
	dev := device.New(d, device.Info{
		Vendor:  "BitScope",
		Model:   strings.ToUpper(string(model)),
		Version: strings.TrimPrefix(id, "BS00"),
		Conn:    path,
	}, s)

	getSet := config.CapGet | config.CapSet
	getSetList := getSet | config.CapList

	cfg := dev.Config()
	cfg.Define(config.KeyConn, device.Entry{Caps: config.CapGet, Value: config.StringValue(path)})
	rates := make([]config.Value, len(sampleRates))
	for i, r := range sampleRates {
		rates[i] = config.IntValue(r)
	}
	cfg.Define(config.KeySampleRate, device.Entry{Caps: getSetList, Value: config.IntValue(defaultSampleRate), List: rates})
	cfg.Define(config.KeyLimitSamples, device.Entry{Caps: getSet, Value: config.IntValue(defaultLimitSamples), OnSet: checkLimitSamples})
	cfg.Define(config.KeyLimitFrames, device.Entry{Caps: getSet, Value: config.IntValue(1)})
	cfg.Define(config.KeyCaptureRatio, device.Entry{Caps: getSet, Value: config.IntValue(0), OnSet: checkRatio})
	cfg.Define(config.KeyContinuous, device.Entry{Caps: getSet, Value: config.BoolValue(false)})
	cfg.Define(config.KeyTriggerSource, device.Entry{
		Caps:  getSetList,
		Value: config.StringValue("CHA"),
		List:  []config.Value{config.StringValue("CHA"), config.StringValue("CHB")},
	})
	cfg.Define(config.KeyTriggerSlope, device.Entry{
		Caps:  getSetList,
		Value: config.StringValue("r"),
		List:  []config.Value{config.StringValue("r"), config.StringValue("f")},
	})

	ranges := rangesFor(model)
	rangeList := make([]config.Value, len(ranges))
	for i, r := range ranges {
		rangeList[i] = config.StringValue(r.name)
	}
	couplings := []config.Value{config.StringValue("DC"), config.StringValue("AC")}
	for _, name := range []string{"CHA", "CHB"} {
		ch := dev.AddChannel(device.ChannelAnalog, name)
		cg := dev.AddGroup(name, ch)
		cg.Define(config.KeyRange, device.Entry{Caps: getSetList, Value: rangeList[len(rangeList)-1], List: rangeList})
		cg.Define(config.KeyCoupling, device.Entry{Caps: getSetList, Value: couplings[0], List: couplings})
	}
	return dev
}

func checkLimitSamples(v config.Value) error {
	if n := v.Int(); n < 1 || n > maxSamples {
		return fmt.Errorf("%w: limit_samples must be between 1 and %d", config.ErrInvalidValue, maxSamples)
	}
	return nil
}

func checkRatio(v config.Value) error {
	if n := v.Int(); n < 0 || n > 100 {
		return fmt.Errorf("%w: captureratio must be between 0 and 100", config.ErrInvalidValue)
	}
	return nil
}

// vrange is one input range of the analog front end.
type vrange struct {
	name  string
	volts float64
	// regs programs the range on the model's converter.
	regs string
}

var bs10Ranges = []vrange{
	{"520mV", 0.52, "64@54z65s66@96z6cs"},
	{"1.1V", 1.1, "64@47z61s66@a2z70s"},
	{"3.5V", 3.5, "64@86z50s66@64z81s"},
	{"5.2V", 5.2, "64@a7z44s66@42z8ds"},
	{"11V", 11, "64@28z1cs66@c1zb5s"},
}

var bs05Ranges = []vrange{
	{"1.1V", 1.1, "64@d6z65s66@bcz69s"},
	{"3.5V", 3.5, "64@62z52s66@3fz7ds"},
	{"5.2V", 5.2, "64@68z44s66@ffz8as"},
	{"11V", 11, "64@6az12s66@8czbas"},
}

func rangesFor(m Model) []vrange {
	if m == ModelBS05 {
		return bs05Ranges
	}
	return bs10Ranges
}

func lookupRange(m Model, name string) (vrange, bool) {
	for _, r := range rangesFor(m) {
		if strings.EqualFold(r.name, name) {
			return r, true
		}
	}
	return vrange{}, false
}
