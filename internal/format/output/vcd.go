package output

import (
	"bytes"
	"fmt"
	"time"

	"github.com/banshee-data/sigcap/internal/packet"
	"github.com/banshee-data/sigcap/internal/version"
)

var vcdFormat = &Format{
	Name:        "vcd",
	Description: "Value Change Dump of the logic channels",
	New: func(p Params) (Output, error) {
		return &vcdOutput{view: newView(p.Device)}, nil
	},
}

type vcdOutput struct {
	*view
	start   time.Time
	started bool
	step    int64
	samples int64
	last    []bool
}

// vcdUnits are the timescale units, largest first, in femtoseconds.
var vcdUnits = []struct {
	name string
	fs   int64
}{
	{"s", 1e15}, {"ms", 1e12}, {"us", 1e9}, {"ns", 1e6}, {"ps", 1e3}, {"fs", 1},
}

// Timescale picks the coarsest legal VCD timescale that represents one
// sample period exactly, and the number of timescale ticks per sample.
func Timescale(rate int64) (string, int64) {
	if rate <= 0 {
		return "1 ns", 1
	}
	period := int64(1e15) / rate
	if period == 0 {
		return "1 fs", 1
	}
	for _, u := range vcdUnits {
		for _, mult := range []int64{100, 10, 1} {
			tick := u.fs * mult
			if period%tick == 0 {
				return fmt.Sprintf("%d %s", mult, u.name), period / tick
			}
		}
	}
	return "1 fs", period
}

// VCDIdentifier returns the printable identifier of channel i.
func VCDIdentifier(i int) string {
	const first, n = '!', '~' - '!' + 1
	var id []byte
	for i >= 0 {
		id = append([]byte{byte(first + i%n)}, id...)
		i = i/n - 1
	}
	return string(id)
}

func (o *vcdOutput) Receive(p *packet.Packet) ([]byte, error) {
	o.observe(p)
	if len(o.logic) == 0 {
		return nil, nil
	}
	switch p.Kind {
	case packet.KindHeader:
		o.start = p.Header.StartTime
		return nil, nil
	case packet.KindLogic:
	default:
		return nil, nil
	}
	var out bytes.Buffer
	if !o.started {
		o.writeHeader(&out)
		o.started = true
	}
	for s := 0; s < p.Logic.Samples(); s++ {
		first := o.last == nil
		if first {
			o.last = make([]bool, len(o.bits))
		}
		stamped := false
		for i, bit := range o.bits {
			high := p.Logic.Bit(s, bit)
			if !first && o.last[i] == high {
				continue
			}
			if !stamped {
				fmt.Fprintf(&out, "#%d\n", o.samples*o.step)
				stamped = true
			}
			if high {
				out.WriteByte('1')
			} else {
				out.WriteByte('0')
			}
			out.WriteString(VCDIdentifier(i) + "\n")
			o.last[i] = high
		}
		o.samples++
	}
	return out.Bytes(), nil
}

func (o *vcdOutput) writeHeader(out *bytes.Buffer) {
	if !o.start.IsZero() {
		fmt.Fprintf(out, "$date %s $end\n", o.start.UTC().Format(time.RFC1123))
	}
	fmt.Fprintf(out, "$version sigcap %s $end\n", version.Version)
	fmt.Fprintf(out, "$comment\n  %s\n$end\n", o.header())
	var scale string
	scale, o.step = Timescale(o.rate)
	fmt.Fprintf(out, "$timescale %s $end\n", scale)
	out.WriteString("$scope module sigcap $end\n")
	for i, ch := range o.logic {
		fmt.Fprintf(out, "$var wire 1 %s %s $end\n", VCDIdentifier(i), ch.Name)
	}
	out.WriteString("$upscope $end\n$enddefinitions $end\n")
}

// Finish stamps the end time so the last value has a duration.
func (o *vcdOutput) Finish() ([]byte, error) {
	if !o.started {
		return nil, nil
	}
	return []byte(fmt.Sprintf("#%d\n", o.samples*o.step)), nil
}
