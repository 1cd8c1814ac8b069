// Package packet defines the datafeed units that flow from a device or an
// input decoder through the session to its observers.
package packet

import (
	"fmt"
	"time"

	"github.com/banshee-data/sigcap/internal/config"
)

// FeedVersion is written into every Header packet.
const FeedVersion = 1

// Kind identifies the payload carried by a Packet.
type Kind uint8

const (
	KindHeader Kind = iota + 1
	KindEnd
	KindMeta
	KindTrigger
	KindLogic
	KindAnalog
	KindFrameBegin
	KindFrameEnd
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindEnd:
		return "end"
	case KindMeta:
		return "meta"
	case KindTrigger:
		return "trigger"
	case KindLogic:
		return "logic"
	case KindAnalog:
		return "analog"
	case KindFrameBegin:
		return "frame-begin"
	case KindFrameEnd:
		return "frame-end"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Packet is one unit of the datafeed. Exactly the payload pointer matching
// Kind is set; control packets (End, Trigger, frame markers) carry none.
type Packet struct {
	Kind   Kind
	Header *Header
	Meta   *Meta
	Logic  *Logic
	Analog *Analog
}

// Header opens a feed.
type Header struct {
	FeedVersion int
	StartTime   time.Time
}

// Meta announces configuration changes, typically the sample rate.
type Meta struct {
	Config config.Options
}

// Logic carries packed logic samples. Each sample is UnitSize bytes,
// little-endian, with bit i holding the i-th logic channel of the device.
type Logic struct {
	UnitSize int
	Data     []byte
}

// Analog carries samples of a single analog channel, identified by its
// channel index on the device.
type Analog struct {
	Channel int
	Data    []float32
	MQ      string
	Unit    string
}

// Emit delivers a packet to the datafeed.
type Emit func(*Packet) error

func NewHeader(start time.Time) *Packet {
	return &Packet{Kind: KindHeader, Header: &Header{FeedVersion: FeedVersion, StartTime: start}}
}

func NewEnd() *Packet { return &Packet{Kind: KindEnd} }

func NewTrigger() *Packet { return &Packet{Kind: KindTrigger} }

func NewFrameBegin() *Packet { return &Packet{Kind: KindFrameBegin} }

func NewFrameEnd() *Packet { return &Packet{Kind: KindFrameEnd} }

func NewMeta(opts config.Options) *Packet {
	return &Packet{Kind: KindMeta, Meta: &Meta{Config: opts}}
}

// NewSampleRate returns a Meta packet carrying only the sample rate.
func NewSampleRate(rate int64) *Packet {
	return NewMeta(config.Options{{Key: config.KeySampleRate, Value: config.IntValue(rate)}})
}

func NewLogic(unitSize int, data []byte) *Packet {
	return &Packet{Kind: KindLogic, Logic: &Logic{UnitSize: unitSize, Data: data}}
}

func NewAnalog(channel int, data []float32, mq, unit string) *Packet {
	return &Packet{Kind: KindAnalog, Analog: &Analog{Channel: channel, Data: data, MQ: mq, Unit: unit}}
}

func (p *Packet) String() string {
	switch p.Kind {
	case KindLogic:
		return fmt.Sprintf("logic unitsize=%d samples=%d", p.Logic.UnitSize, p.Logic.Samples())
	case KindAnalog:
		return fmt.Sprintf("analog ch=%d samples=%d", p.Analog.Channel, len(p.Analog.Data))
	case KindMeta:
		return "meta " + p.Meta.Config.String()
	default:
		return p.Kind.String()
	}
}

// Samples returns the number of whole samples in the packet.
func (l *Logic) Samples() int {
	if l.UnitSize <= 0 {
		return 0
	}
	return len(l.Data) / l.UnitSize
}

// Sample returns sample i as an integer. Only the first 8 bytes of a unit
// are considered.
func (l *Logic) Sample(i int) uint64 {
	var v uint64
	unit := l.Data[i*l.UnitSize : (i+1)*l.UnitSize]
	for b := 0; b < len(unit) && b < 8; b++ {
		v |= uint64(unit[b]) << (8 * b)
	}
	return v
}

// Bit reports the state of logic channel ch in sample i.
func (l *Logic) Bit(i, ch int) bool {
	byteIdx := ch / 8
	if byteIdx >= l.UnitSize {
		return false
	}
	return l.Data[i*l.UnitSize+byteIdx]&(1<<(ch%8)) != 0
}

// UnitSizeFor returns the bytes needed to pack n logic channels.
func UnitSizeFor(n int) int {
	if n <= 0 {
		return 1
	}
	return (n + 7) / 8
}

// SampleRate extracts the sample rate announced by a Meta packet.
func (m *Meta) SampleRate() (int64, bool) {
	v, ok := m.Config.Lookup(config.KeySampleRate)
	if !ok {
		return 0, false
	}
	return v.Int(), true
}
