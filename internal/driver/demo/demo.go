// Package demo implements a simulated instrument with logic and analog
// channels. It needs no hardware and is always found by a scan.
package demo

import (
	"context"
	"fmt"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/driver"
)

const (
	defaultLogicChannels  = 8
	defaultAnalogChannels = 2
	defaultSampleRate     = 200_000
	defaultAmplitude      = 10.0
	// chunkSamples is the largest number of samples sent in one packet.
	chunkSamples = 4096
	// analogPeriod is the number of samples in one analog waveform period.
	analogPeriod = 20
)

// Logic and analog patterns.
var (
	LogicPatterns  = []string{"sigrok", "random", "incremental", "walking-one", "all-low", "all-high", "square"}
	AnalogPatterns = []string{"square", "sine", "triangle", "sawtooth"}
)

var sampleRates = []int64{
	1_000, 2_000, 5_000, 10_000, 20_000, 50_000, 100_000, 200_000, 500_000,
	1_000_000, 2_000_000, 5_000_000, 10_000_000,
}

// Driver is the demo driver.
type Driver struct {
	driver.Base
}

// New returns the demo driver.
func New() *Driver {
	return &Driver{Base: driver.Base{
		ID:        "demo",
		Long:      "Demo driver and pattern generator",
		Functions: []config.Key{config.KeyDemoDev, config.KeyLogicAnalyzer, config.KeyOscilloscope},
		Scanopts:  []config.Key{config.KeyNumLogicChannels, config.KeyNumAnalogChannels},
	}}
}

// Scan always finds one device unless both channel counts are zero.
func (d *Driver) Scan(ctx context.Context, opts config.Options) ([]*device.Device, error) {
	numLogic := opts.Int(config.KeyNumLogicChannels, defaultLogicChannels)
	numAnalog := opts.Int(config.KeyNumAnalogChannels, defaultAnalogChannels)
	if numLogic < 0 || numAnalog < 0 || numLogic > 64 {
		return nil, fmt.Errorf("channel counts out of range: %d logic, %d analog", numLogic, numAnalog)
	}
	if numLogic == 0 && numAnalog == 0 {
		return nil, nil
	}

	dev := device.New(d, device.Info{Model: "Demo device"}, &acquisition{})
	defineDeviceOptions(dev.Config())

	var logic []*device.Channel
	for i := 0; i < int(numLogic); i++ {
		logic = append(logic, dev.AddChannel(device.ChannelLogic, fmt.Sprintf("D%d", i)))
	}
	if len(logic) > 0 {
		cg := dev.AddGroup("Logic", logic...)
		cg.Define(config.KeyPattern, device.Entry{
			Caps:  config.CapGet | config.CapSet | config.CapList,
			Value: config.StringValue(LogicPatterns[0]),
			List:  stringValues(LogicPatterns),
		})
	}
	for i := 0; i < int(numAnalog); i++ {
		ch := dev.AddChannel(device.ChannelAnalog, fmt.Sprintf("A%d", i))
		cg := dev.AddGroup(ch.Name, ch)
		cg.Define(config.KeyPattern, device.Entry{
			Caps:  config.CapGet | config.CapSet | config.CapList,
			Value: config.StringValue(AnalogPatterns[i%len(AnalogPatterns)]),
			List:  stringValues(AnalogPatterns),
		})
		cg.Define(config.KeyAmplitude, device.Entry{
			Caps:  config.CapGet | config.CapSet,
			Value: config.FloatValue(defaultAmplitude),
		})
		cg.Define(config.KeyOffset, device.Entry{
			Caps:  config.CapGet | config.CapSet,
			Value: config.FloatValue(0),
		})
	}
	return []*device.Device{dev}, nil
}

func defineDeviceOptions(s *device.Store) {
	rates := make([]config.Value, len(sampleRates))
	for i, r := range sampleRates {
		rates[i] = config.IntValue(r)
	}
	s.Define(config.KeySampleRate, device.Entry{
		Caps:  config.CapGet | config.CapSet | config.CapList,
		Value: config.IntValue(defaultSampleRate),
		List:  rates,
	})
	getSet := config.CapGet | config.CapSet
	s.Define(config.KeyLimitSamples, device.Entry{Caps: getSet, Value: config.IntValue(0)})
	s.Define(config.KeyLimitMsec, device.Entry{Caps: getSet, Value: config.IntValue(0)})
	s.Define(config.KeyLimitFrames, device.Entry{Caps: getSet, Value: config.IntValue(0)})
	s.Define(config.KeyContinuous, device.Entry{Caps: getSet, Value: config.BoolValue(false)})
	s.Define(config.KeyAveraging, device.Entry{Caps: getSet, Value: config.BoolValue(false)})
	s.Define(config.KeyAvgSamples, device.Entry{
		Caps:  getSet,
		Value: config.IntValue(0),
		OnSet: func(v config.Value) error {
			if v.Int() < 0 {
				return fmt.Errorf("%w: avg_samples must not be negative", config.ErrInvalidValue)
			}
			return nil
		},
	})
}

func stringValues(list []string) []config.Value {
	out := make([]config.Value, len(list))
	for i, s := range list {
		out[i] = config.StringValue(s)
	}
	return out
}
