package output

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/banshee-data/sigcap/internal/packet"
)

var csvFormat = &Format{
	Name:        "csv",
	Description: "Comma-separated values, one column per enabled channel",
	New: func(p Params) (Output, error) {
		v := newView(p.Device)
		return &csvOutput{view: v, analogQ: make([][]float32, len(v.analog))}, nil
	},
}

// csvOutput aligns logic and analog samples into rows. A row is written
// once every column has a value for it; Finish writes what is left with
// blanks for missing values.
type csvOutput struct {
	*view
	logicQ  [][]bool
	analogQ [][]float32
	started bool
}

func (c *csvOutput) Receive(p *packet.Packet) ([]byte, error) {
	c.observe(p)
	switch p.Kind {
	case packet.KindLogic:
		if len(c.logic) == 0 {
			return nil, nil
		}
		for s := 0; s < p.Logic.Samples(); s++ {
			row := make([]bool, len(c.logic))
			for i, bit := range c.bits {
				row[i] = p.Logic.Bit(s, bit)
			}
			c.logicQ = append(c.logicQ, row)
		}
	case packet.KindAnalog:
		i := c.analogIndex(p.Analog.Channel)
		if i < 0 {
			return nil, nil
		}
		c.analogQ[i] = append(c.analogQ[i], p.Analog.Data...)
	default:
		return nil, nil
	}
	return c.rows(c.ready()), nil
}

// ready is the number of rows every column can fill.
func (c *csvOutput) ready() int {
	n := -1
	if len(c.logic) > 0 {
		n = len(c.logicQ)
	}
	for _, q := range c.analogQ {
		if n < 0 || len(q) < n {
			n = len(q)
		}
	}
	return max(n, 0)
}

func (c *csvOutput) rows(n int) []byte {
	if n == 0 {
		return nil
	}
	var out bytes.Buffer
	if !c.started {
		c.writeHeader(&out)
		c.started = true
	}
	cells := make([]string, 0, c.enabled())
	for r := 0; r < n; r++ {
		cells = cells[:0]
		if len(c.logic) > 0 {
			if r < len(c.logicQ) {
				for _, high := range c.logicQ[r] {
					if high {
						cells = append(cells, "1")
					} else {
						cells = append(cells, "0")
					}
				}
			} else {
				for range c.logic {
					cells = append(cells, "")
				}
			}
		}
		for _, q := range c.analogQ {
			if r < len(q) {
				cells = append(cells, strconv.FormatFloat(float64(q[r]), 'g', -1, 32))
			} else {
				cells = append(cells, "")
			}
		}
		out.WriteString(strings.Join(cells, ",") + "\n")
	}
	c.logicQ = c.logicQ[min(n, len(c.logicQ)):]
	for i, q := range c.analogQ {
		c.analogQ[i] = q[min(n, len(q)):]
	}
	return out.Bytes()
}

func (c *csvOutput) writeHeader(out *bytes.Buffer) {
	out.WriteString("; CSV generated by sigcap\n; " + c.header() + "\n")
	names := make([]string, 0, c.enabled())
	for _, ch := range c.logic {
		names = append(names, ch.Name)
	}
	for _, ch := range c.analog {
		names = append(names, ch.Name)
	}
	out.WriteString(strings.Join(names, ",") + "\n")
}

func (c *csvOutput) Finish() ([]byte, error) {
	n := len(c.logicQ)
	for _, q := range c.analogQ {
		n = max(n, len(q))
	}
	return c.rows(n), nil
}
