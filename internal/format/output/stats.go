package output

import (
	"bytes"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/sigcap/internal/packet"
)

var statsFormat = &Format{
	Name:        "stats",
	Description: "Per-channel summary statistics, written at the end",
	New: func(p Params) (Output, error) {
		v := newView(p.Device)
		return &statsOutput{
			view:    v,
			levels:  make([]logicStats, len(v.logic)),
			samples: make([][]float64, len(v.analog)),
			units:   make([]string, len(v.analog)),
		}, nil
	},
}

type logicStats struct {
	samples     int64
	high        int64
	transitions int64
	last        bool
}

type statsOutput struct {
	*view
	levels  []logicStats
	samples [][]float64
	units   []string
}

func (s *statsOutput) Receive(p *packet.Packet) ([]byte, error) {
	s.observe(p)
	switch p.Kind {
	case packet.KindLogic:
		for i, bit := range s.bits {
			st := &s.levels[i]
			for n := 0; n < p.Logic.Samples(); n++ {
				high := p.Logic.Bit(n, bit)
				if st.samples > 0 && high != st.last {
					st.transitions++
				}
				if high {
					st.high++
				}
				st.last = high
				st.samples++
			}
		}
	case packet.KindAnalog:
		if i := s.analogIndex(p.Analog.Channel); i >= 0 {
			for _, v := range p.Analog.Data {
				s.samples[i] = append(s.samples[i], float64(v))
			}
			if p.Analog.Unit != "" {
				s.units[i] = p.Analog.Unit
			}
		}
	}
	return nil, nil
}

func (s *statsOutput) Finish() ([]byte, error) {
	var out bytes.Buffer
	out.WriteString(s.header() + "\n")
	for i, ch := range s.logic {
		st := s.levels[i]
		duty := 0.0
		if st.samples > 0 {
			duty = 100 * float64(st.high) / float64(st.samples)
		}
		fmt.Fprintf(&out, "%s: samples=%d high=%.1f%% transitions=%d\n", ch.Name, st.samples, duty, st.transitions)
	}
	for i, ch := range s.analog {
		values := s.samples[i]
		if len(values) == 0 {
			fmt.Fprintf(&out, "%s: samples=0\n", ch.Name)
			continue
		}
		mean, std := stat.MeanStdDev(values, nil)
		if len(values) < 2 {
			std = 0
		}
		fmt.Fprintf(&out, "%s: samples=%d mean=%.6g stddev=%.6g min=%.6g max=%.6g",
			ch.Name, len(values), mean, std, floats.Min(values), floats.Max(values))
		if s.units[i] != "" {
			out.WriteString(" " + s.units[i])
		}
		out.WriteByte('\n')
	}
	return out.Bytes(), nil
}
