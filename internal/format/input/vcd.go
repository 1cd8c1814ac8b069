package input

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/packet"
)

var vcdFormat = &Format{
	Name:        "vcd",
	Description: "Value Change Dump, single-bit wires as logic channels",
	Options:     []config.Key{config.KeyNumChannels},
	Detect:      detectVCD,
	New:         newVCD,
}

var vcdKeywords = []string{"$date", "$version", "$comment", "$timescale", "$scope", "$var", "$enddefinitions"}

func detectVCD(head []byte) bool {
	s := strings.TrimLeft(string(head), " \t\r\n")
	for _, kw := range vcdKeywords {
		if strings.HasPrefix(s, kw) {
			return true
		}
	}
	return false
}

// fsPerUnit maps VCD time units to femtoseconds.
var fsPerUnit = map[string]int64{
	"s": 1e15, "ms": 1e12, "us": 1e9, "ns": 1e6, "ps": 1e3, "fs": 1,
}

// vcdInput decodes the definitions section first; the device is known once
// $enddefinitions has been read. Each timestamp step becomes that many
// samples of the state before it.
type vcdInput struct {
	queue
	limit int

	text     []byte
	defined  bool
	ids      map[string]int
	state    []bool
	unitSize int
	buf      logicBuffer

	stamped bool
	last    int64
	dirty   bool
	skip    bool
}

func newVCD(opts config.Options) (Input, error) {
	limit := int(opts.Int(config.KeyNumChannels, 64))
	if limit < 1 || limit > 64 {
		return nil, fmt.Errorf("%w: numchannels must be between 1 and 64, got %d", config.ErrInvalidValue, limit)
	}
	return &vcdInput{limit: limit, ids: map[string]int{}}, nil
}

func (v *vcdInput) Send(chunk []byte) error {
	v.text = append(v.text, chunk...)
	if !v.defined {
		start := bytes.Index(v.text, []byte("$enddefinitions"))
		if start < 0 {
			return nil
		}
		rest := start + len("$enddefinitions")
		rel := bytes.Index(v.text[rest:], []byte("$end"))
		if rel < 0 {
			return nil
		}
		end := rest + rel + len("$end")
		if err := v.define(string(v.text[:end])); err != nil {
			return err
		}
		v.text = v.text[end:]
	}
	// The last token may continue in the next chunk.
	cut := bytes.LastIndexAny(v.text, " \t\r\n")
	if cut < 0 {
		return nil
	}
	body := string(v.text[:cut])
	v.text = append([]byte(nil), v.text[cut:]...)
	if err := v.decode(strings.Fields(body)); err != nil {
		return err
	}
	v.buf.flush(&v.queue)
	return nil
}

func (v *vcdInput) define(header string) error {
	tokens := strings.Fields(header)
	var names []string
	tick := int64(0)
	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case "$timescale":
			var spec []string
			for i++; i < len(tokens) && tokens[i] != "$end"; i++ {
				spec = append(spec, tokens[i])
			}
			t, err := parseTimescale(strings.Join(spec, ""))
			if err != nil {
				return err
			}
			tick = t
		case "$var":
			// $var <type> <width> <id> <name> [range] $end
			var fields []string
			for i++; i < len(tokens) && tokens[i] != "$end"; i++ {
				fields = append(fields, tokens[i])
			}
			if len(fields) < 4 {
				return fmt.Errorf("vcd: malformed $var %q", strings.Join(fields, " "))
			}
			if fields[1] != "1" {
				monitoring.Infof("vcd: skipping %s, %s bits wide", fields[3], fields[1])
				continue
			}
			if _, dup := v.ids[fields[2]]; dup {
				continue
			}
			if len(names) == v.limit {
				monitoring.Infof("vcd: skipping %s, channel limit %d reached", fields[3], v.limit)
				continue
			}
			v.ids[fields[2]] = len(names)
			names = append(names, fields[3])
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("vcd: no single-bit wires defined")
	}

	v.dev = newDevice("vcd", device.Info{}, 0)
	for _, name := range names {
		v.dev.AddChannel(device.ChannelLogic, name)
	}
	v.state = make([]bool, len(names))
	v.unitSize = packet.UnitSizeFor(len(names))
	v.buf = logicBuffer{unitSize: v.unitSize}
	if tick > 0 {
		v.setRate(1e15 / tick)
	}
	v.defined = true
	return nil
}

// parseTimescale turns "10ns" into femtoseconds.
func parseTimescale(s string) (int64, error) {
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if i <= 0 {
		return 0, fmt.Errorf("vcd: bad timescale %q", s)
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("vcd: bad timescale %q", s)
	}
	unit, ok := fsPerUnit[s[i:]]
	if !ok {
		return 0, fmt.Errorf("vcd: bad timescale unit %q", s[i:])
	}
	return n * unit, nil
}

func (v *vcdInput) decode(tokens []string) error {
	for _, tok := range tokens {
		if v.skip {
			// Identifier of a vector or real value change.
			v.skip = false
			continue
		}
		switch c := tok[0]; {
		case c == '#':
			t, err := strconv.ParseInt(tok[1:], 10, 64)
			if err != nil {
				return fmt.Errorf("vcd: bad timestamp %q", tok)
			}
			v.advance(t)
		case c == '0' || c == '1' || c == 'x' || c == 'X' || c == 'z' || c == 'Z':
			if ch, ok := v.ids[tok[1:]]; ok {
				v.state[ch] = c == '1'
				v.dirty = true
			}
		case c == 'b' || c == 'B' || c == 'r' || c == 'R':
			v.skip = len(tok) > 1
		}
	}
	return nil
}

// advance emits samples covering the time between the last timestamp and t.
func (v *vcdInput) advance(t int64) {
	if v.stamped {
		for n := v.last; n < t; n++ {
			v.buf.add(v.unit(), &v.queue)
		}
	}
	v.stamped = true
	v.last = t
	v.dirty = false
}

func (v *vcdInput) unit() []byte {
	u := make([]byte, v.unitSize)
	for i, high := range v.state {
		if high {
			u[i/8] |= 1 << (i % 8)
		}
	}
	return u
}

// End decodes the remaining text. Changes after the last timestamp become
// one final sample.
func (v *vcdInput) End() error {
	if !v.defined {
		if len(v.text) > 0 {
			return fmt.Errorf("vcd: missing $enddefinitions")
		}
		return nil
	}
	if err := v.decode(strings.Fields(string(v.text))); err != nil {
		return err
	}
	v.text = nil
	if v.stamped && v.dirty {
		v.buf.add(v.unit(), &v.queue)
	}
	v.buf.flush(&v.queue)
	return nil
}
