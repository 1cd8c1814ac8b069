package packet

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/banshee-data/sigcap/internal/config"
)

// StreamMagic is the CBOR self-describe tag (55799) that opens every
// sigcap CBOR packet stream.
var StreamMagic = []byte{0xd9, 0xd9, 0xf7}

// RecordDevice is the Kind used for the stream's leading device record.
// It never appears on a Packet.
const RecordDevice Kind = 0

var (
	recordEncMode cbor.EncMode
	recordDecMode cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	recordEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR encoder mode: %v", err))
	}
	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	recordDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR decoder mode: %v", err))
	}
}

// ChannelRecord describes one channel in a device record.
type ChannelRecord struct {
	Name    string `cbor:"1,keyasint"`
	Analog  bool   `cbor:"2,keyasint,omitempty"`
	Enabled bool   `cbor:"3,keyasint,omitempty"`
}

// Record is the wire form of a packet, or of the device description that
// precedes the packets. Integer keys keep the stream compact.
type Record struct {
	Kind      Kind            `cbor:"1,keyasint"`
	StartTime int64           `cbor:"2,keyasint,omitempty"`
	Config    [][2]string     `cbor:"3,keyasint,omitempty"`
	UnitSize  int             `cbor:"4,keyasint,omitempty"`
	Logic     []byte          `cbor:"5,keyasint,omitempty"`
	Channel   int             `cbor:"6,keyasint,omitempty"`
	Analog    []float32       `cbor:"7,keyasint,omitempty"`
	MQ        string          `cbor:"8,keyasint,omitempty"`
	Unit      string          `cbor:"9,keyasint,omitempty"`
	Vendor    string          `cbor:"10,keyasint,omitempty"`
	Model     string          `cbor:"11,keyasint,omitempty"`
	Channels  []ChannelRecord `cbor:"12,keyasint,omitempty"`
}

// ErrBadRecord is returned for records that do not describe a packet.
var ErrBadRecord = errors.New("malformed packet record")

// ToRecord converts p to its wire form.
func ToRecord(p *Packet) Record {
	r := Record{Kind: p.Kind}
	switch p.Kind {
	case KindHeader:
		r.StartTime = p.Header.StartTime.UnixNano()
	case KindMeta:
		for _, o := range p.Meta.Config {
			r.Config = append(r.Config, [2]string{o.Key.Identifier(), o.Value.String()})
		}
	case KindLogic:
		r.UnitSize = p.Logic.UnitSize
		r.Logic = p.Logic.Data
	case KindAnalog:
		r.Channel = p.Analog.Channel
		r.Analog = p.Analog.Data
		r.MQ = p.Analog.MQ
		r.Unit = p.Analog.Unit
	}
	return r
}

// Packet rebuilds the packet described by r.
func (r Record) Packet() (*Packet, error) {
	switch r.Kind {
	case KindHeader:
		return NewHeader(time.Unix(0, r.StartTime)), nil
	case KindEnd:
		return NewEnd(), nil
	case KindTrigger:
		return NewTrigger(), nil
	case KindFrameBegin:
		return NewFrameBegin(), nil
	case KindFrameEnd:
		return NewFrameEnd(), nil
	case KindMeta:
		var opts config.Options
		for _, kv := range r.Config {
			o, err := config.Pair{Identifier: kv[0], Raw: kv[1]}.Resolve()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
			}
			opts = append(opts, o)
		}
		return NewMeta(opts), nil
	case KindLogic:
		if r.UnitSize <= 0 {
			return nil, fmt.Errorf("%w: logic unit size %d", ErrBadRecord, r.UnitSize)
		}
		return NewLogic(r.UnitSize, r.Logic), nil
	case KindAnalog:
		return NewAnalog(r.Channel, r.Analog, r.MQ, r.Unit), nil
	}
	return nil, fmt.Errorf("%w: kind %d", ErrBadRecord, r.Kind)
}

// MarshalRecord encodes r.
func MarshalRecord(r Record) ([]byte, error) {
	return recordEncMode.Marshal(r)
}

// UnmarshalFirst decodes the first record in data and returns the bytes
// after it. An incomplete record yields io.ErrUnexpectedEOF.
func UnmarshalFirst(data []byte) (Record, []byte, error) {
	var r Record
	rest, err := recordDecMode.UnmarshalFirst(data, &r)
	if err != nil {
		return Record{}, data, err
	}
	return r, rest, nil
}
