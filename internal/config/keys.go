// Package config holds the typed configuration key registry shared by
// drivers, devices, channel groups and the input/output format modules,
// along with the tool-level defaults loaded at startup.
package config

import (
	"fmt"
	"sort"
)

// Key identifies a configuration option. Keys are registered once at
// package init and never change.
type Key uint32

// Device class markers, reported by drivers as their functions.
const (
	KeyLogicAnalyzer Key = 10000 + iota
	KeyOscilloscope
	KeyMultimeter
	KeyDemoDev
	KeyRadar
)

// Scan options.
const (
	KeyConn Key = 20000 + iota
	KeySerialComm
	KeyNumLogicChannels
	KeyNumAnalogChannels
)

// Device and channel group options.
const (
	KeySampleRate Key = 30000 + iota
	KeyCaptureRatio
	KeyPattern
	KeyTriggerSource
	KeyTriggerSlope
	KeyRange
	KeyCoupling
	KeyAmplitude
	KeyOffset
	KeyAveraging
	KeyAvgSamples
	KeyMeasuredQuantity
	KeyLimitMsec
	KeyLimitSamples
	KeyLimitFrames
	KeyContinuous
	KeySpeedUnits
)

// Input and output module options.
const (
	KeyNumChannels Key = 40000 + iota
	KeyUnitSize
	KeyUDPPort
	KeyWidth
)

// KeyInfo describes a registered key.
type KeyInfo struct {
	Key         Key
	Identifier  string
	Name        string
	Description string
	Type        DataType
}

var (
	registry     = map[Key]*KeyInfo{}
	byIdentifier = map[string]Key{}
)

func register(k Key, identifier, name, description string, typ DataType) {
	if _, dup := byIdentifier[identifier]; dup {
		panic(fmt.Sprintf("config: duplicate key identifier %q", identifier))
	}
	registry[k] = &KeyInfo{Key: k, Identifier: identifier, Name: name, Description: description, Type: typ}
	byIdentifier[identifier] = k
}

func init() {
	register(KeyLogicAnalyzer, "logic_analyzer", "Logic analyzer", "Logic analyzer", TypeBool)
	register(KeyOscilloscope, "oscilloscope", "Oscilloscope", "Oscilloscope", TypeBool)
	register(KeyMultimeter, "multimeter", "Multimeter", "Multimeter", TypeBool)
	register(KeyDemoDev, "demo_dev", "Demo device", "Demo device", TypeBool)
	register(KeyRadar, "radar", "Radar", "Doppler radar sensor", TypeBool)

	register(KeyConn, "conn", "Connection", "Connection", TypeString)
	register(KeySerialComm, "serialcomm", "Serial communication", "Serial communication", TypeString)
	register(KeyNumLogicChannels, "num_logic_channels", "Number of logic channels", "Number of logic channels", TypeInt)
	register(KeyNumAnalogChannels, "num_analog_channels", "Number of analog channels", "Number of analog channels", TypeInt)

	register(KeySampleRate, "samplerate", "Sample rate", "Sample rate", TypeInt)
	register(KeyCaptureRatio, "captureratio", "Pre-trigger capture ratio", "Pre-trigger capture ratio", TypeInt)
	register(KeyPattern, "pattern", "Pattern", "Pattern", TypeString)
	register(KeyTriggerSource, "triggersource", "Trigger source", "Trigger source", TypeString)
	register(KeyTriggerSlope, "triggerslope", "Trigger slope", "Trigger slope", TypeString)
	register(KeyRange, "range", "Range", "Range", TypeString)
	register(KeyCoupling, "coupling", "Coupling", "Coupling", TypeString)
	register(KeyAmplitude, "amplitude", "Amplitude", "Amplitude", TypeFloat)
	register(KeyOffset, "offset", "Offset", "Offset", TypeFloat)
	register(KeyAveraging, "averaging", "Averaging", "Averaging", TypeBool)
	register(KeyAvgSamples, "avg_samples", "Number of samples to average over", "Number of samples to average over", TypeInt)
	register(KeyMeasuredQuantity, "measured_quantity", "Measured quantity", "Measured quantity", TypeString)
	register(KeyLimitMsec, "limit_time", "Time limit", "Time limit", TypeInt)
	register(KeyLimitSamples, "limit_samples", "Sample limit", "Sample limit", TypeInt)
	register(KeyLimitFrames, "limit_frames", "Frame limit", "Frame limit", TypeInt)
	register(KeyContinuous, "continuous", "Continuous sampling", "Continuous sampling", TypeBool)
	register(KeySpeedUnits, "speed_units", "Speed units", "Units of reported speeds", TypeString)

	register(KeyNumChannels, "numchannels", "Number of channels", "Number of logic channels", TypeInt)
	register(KeyUnitSize, "unitsize", "Unit size", "Bytes per logic sample", TypeInt)
	register(KeyUDPPort, "udp_port", "UDP port", "Only decode UDP datagrams sent to this port", TypeInt)
	register(KeyWidth, "width", "Width", "Samples per output line", TypeInt)
}

// Lookup resolves an identifier such as "samplerate" to its key.
func Lookup(identifier string) (Key, error) {
	k, ok := byIdentifier[identifier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKey, identifier)
	}
	return k, nil
}

// Keys returns every registered key in ascending order.
func Keys() []Key {
	keys := make([]Key, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Info returns the registry entry for k, or nil for an unregistered key.
func (k Key) Info() *KeyInfo {
	return registry[k]
}

// Identifier returns the short textual name used on the command line.
func (k Key) Identifier() string {
	if info := registry[k]; info != nil {
		return info.Identifier
	}
	return fmt.Sprintf("key(%d)", uint32(k))
}

// Description returns the human-readable description.
func (k Key) Description() string {
	if info := registry[k]; info != nil {
		return info.Description
	}
	return ""
}

// Type returns the native value type of the key.
func (k Key) Type() DataType {
	if info := registry[k]; info != nil {
		return info.Type
	}
	return TypeUnknown
}

func (k Key) String() string { return k.Identifier() }
