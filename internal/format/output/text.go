package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/packet"
)

const defaultWidth = 64

type lineMode uint8

const (
	modeBits lineMode = iota
	modeHex
	modeASCII
)

var (
	bitsFormat = &Format{
		Name:        "bits",
		Description: "Bits, one line of 0/1 per logic channel",
		Options:     []config.Key{config.KeyWidth},
		New:         newLines(modeBits),
	}
	hexFormat = &Format{
		Name:        "hex",
		Description: "Hexadecimal, one line per logic channel",
		Options:     []config.Key{config.KeyWidth},
		New:         newLines(modeHex),
	}
	asciiFormat = &Format{
		Name:        "ascii",
		Description: "ASCII art, one line per logic channel",
		Options:     []config.Key{config.KeyWidth},
		New:         newLines(modeASCII),
	}
)

// lines renders logic channels as rows of width samples.
type lines struct {
	*view
	mode    lineMode
	width   int
	label   int
	rows    []strings.Builder
	acc     []byte
	count   int
	started bool
}

func newLines(mode lineMode) func(Params) (Output, error) {
	return func(p Params) (Output, error) {
		width := int(p.Options.Int(config.KeyWidth, defaultWidth))
		if width <= 0 {
			return nil, fmt.Errorf("%w: width must be positive, got %d", config.ErrInvalidValue, width)
		}
		if mode == modeHex && width%8 != 0 {
			return nil, fmt.Errorf("%w: hex width must be a multiple of 8, got %d", config.ErrInvalidValue, width)
		}
		v := newView(p.Device)
		l := &lines{view: v, mode: mode, width: width, rows: make([]strings.Builder, len(v.logic)), acc: make([]byte, len(v.logic))}
		for _, ch := range v.logic {
			l.label = max(l.label, len(ch.Name))
		}
		return l, nil
	}
}

func (l *lines) Receive(p *packet.Packet) ([]byte, error) {
	l.observe(p)
	if len(l.logic) == 0 {
		return nil, nil
	}
	var out bytes.Buffer
	switch p.Kind {
	case packet.KindTrigger:
		if l.started && l.mode != modeHex {
			fmt.Fprintf(&out, "%-*s:%s^\n", l.label, "T", strings.Repeat(" ", l.column()))
		}
	case packet.KindLogic:
		if !l.started {
			out.WriteString(l.header() + "\n")
			l.started = true
		}
		n := p.Logic.Samples()
		for s := 0; s < n; s++ {
			l.sample(p.Logic, s)
			if l.count == l.width {
				l.flush(&out)
			}
		}
	}
	return out.Bytes(), nil
}

// column is the text position of the next sample on the current line.
func (l *lines) column() int {
	if l.mode == modeBits {
		return l.count + l.count/8
	}
	return l.count
}

func (l *lines) sample(logic *packet.Logic, s int) {
	for i := range l.logic {
		high := logic.Bit(s, l.bits[i])
		row := &l.rows[i]
		switch l.mode {
		case modeBits:
			if l.count > 0 && l.count%8 == 0 {
				row.WriteByte(' ')
			}
			if high {
				row.WriteByte('1')
			} else {
				row.WriteByte('0')
			}
		case modeASCII:
			if high {
				row.WriteByte('"')
			} else {
				row.WriteByte('.')
			}
		case modeHex:
			l.acc[i] <<= 1
			if high {
				l.acc[i] |= 1
			}
			if (l.count+1)%8 == 0 {
				l.hexByte(i)
			}
		}
	}
	l.count++
}

func (l *lines) hexByte(i int) {
	if l.rows[i].Len() > 0 {
		l.rows[i].WriteByte(' ')
	}
	fmt.Fprintf(&l.rows[i], "%02x", l.acc[i])
	l.acc[i] = 0
}

func (l *lines) flush(out *bytes.Buffer) {
	for i, ch := range l.logic {
		fmt.Fprintf(out, "%-*s:%s\n", l.label, ch.Name, l.rows[i].String())
		l.rows[i].Reset()
	}
	l.count = 0
}

func (l *lines) Finish() ([]byte, error) {
	if l.count == 0 {
		return nil, nil
	}
	if l.mode == modeHex && l.count%8 != 0 {
		shift := 8 - l.count%8
		for i := range l.logic {
			l.acc[i] <<= shift
			l.hexByte(i)
		}
	}
	var out bytes.Buffer
	l.flush(&out)
	return out.Bytes(), nil
}

var binaryFormat = &Format{
	Name:        "binary",
	Description: "Raw logic samples as captured",
	New:         func(Params) (Output, error) { return rawLogic{}, nil },
}

// rawLogic passes logic payloads through untouched.
type rawLogic struct{}

func (rawLogic) Receive(p *packet.Packet) ([]byte, error) {
	if p.Kind != packet.KindLogic {
		return nil, nil
	}
	return p.Logic.Data, nil
}

func (rawLogic) Finish() ([]byte, error) { return nil, nil }

var analogFormat = &Format{
	Name:        "analog",
	Description: "One line per analog sample: channel, value and unit",
	New: func(p Params) (Output, error) {
		return &analogText{view: newView(p.Device)}, nil
	},
}

type analogText struct {
	*view
}

func (a *analogText) Receive(p *packet.Packet) ([]byte, error) {
	a.observe(p)
	if p.Kind != packet.KindAnalog {
		return nil, nil
	}
	i := a.analogIndex(p.Analog.Channel)
	if i < 0 {
		return nil, nil
	}
	name := a.analog[i].Name
	var out bytes.Buffer
	for _, v := range p.Analog.Data {
		fmt.Fprintf(&out, "%s: %.6f", name, v)
		if p.Analog.Unit != "" {
			out.WriteString(" " + p.Analog.Unit)
		}
		out.WriteByte('\n')
	}
	return out.Bytes(), nil
}

func (a *analogText) Finish() ([]byte, error) { return nil, nil }
