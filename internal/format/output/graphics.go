package output

import (
	"bytes"
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/packet"
)

// maxTracePoints caps the samples kept per channel for graphical output.
const maxTracePoints = 20_000

var (
	chartFormat = &Format{
		Name:        "chart",
		Description: "HTML line chart of all enabled channels",
		New: func(p Params) (Output, error) {
			return &chartOutput{traces: newTraces(newView(p.Device))}, nil
		},
	}
	plotFormat = &Format{
		Name:        "plot",
		Description: "PNG plot of all enabled channels",
		New: func(p Params) (Output, error) {
			return &plotOutput{traces: newTraces(newView(p.Device))}, nil
		},
	}
)

// trace is the collected samples of one channel. Logic traces are drawn
// offset by their position so they stack.
type trace struct {
	name   string
	offset float64
	values []float64
}

// traces collects the first maxTracePoints samples of every enabled channel.
type traces struct {
	*view
	levels    []trace
	waves     []trace
	unit      string
	truncated bool
}

func newTraces(v *view) *traces {
	t := &traces{view: v}
	for i, ch := range v.logic {
		t.levels = append(t.levels, trace{name: ch.Name, offset: 1.5 * float64(i)})
	}
	for _, ch := range v.analog {
		t.waves = append(t.waves, trace{name: ch.Name})
	}
	return t
}

func (t *traces) collect(p *packet.Packet) {
	t.observe(p)
	switch p.Kind {
	case packet.KindLogic:
		for i, bit := range t.bits {
			tr := &t.levels[i]
			for s := 0; s < p.Logic.Samples() && len(tr.values) < maxTracePoints; s++ {
				v := tr.offset
				if p.Logic.Bit(s, bit) {
					v++
				}
				tr.values = append(tr.values, v)
			}
		}
	case packet.KindAnalog:
		i := t.analogIndex(p.Analog.Channel)
		if i < 0 {
			return
		}
		if p.Analog.Unit != "" {
			t.unit = p.Analog.Unit
		}
		tr := &t.waves[i]
		for _, v := range p.Analog.Data {
			if len(tr.values) == maxTracePoints {
				if !t.truncated {
					monitoring.Debugf("graphical output keeps the first %d samples per channel", maxTracePoints)
					t.truncated = true
				}
				break
			}
			tr.values = append(tr.values, float64(v))
		}
	}
}

// all returns analog traces first, then logic traces.
func (t *traces) all() []trace {
	return append(append([]trace{}, t.waves...), t.levels...)
}

// x returns the abscissa of sample i: seconds when the rate is known.
func (t *traces) x(i int) float64 {
	if t.rate > 0 {
		return float64(i) / float64(t.rate)
	}
	return float64(i)
}

func (t *traces) xLabel() string {
	if t.rate > 0 {
		return "Time (s)"
	}
	return "Sample"
}

func (t *traces) longest() int {
	n := 0
	for _, tr := range t.all() {
		n = max(n, len(tr.values))
	}
	return n
}

type chartOutput struct {
	*traces
}

func (c *chartOutput) Receive(p *packet.Packet) ([]byte, error) {
	c.collect(p)
	return nil, nil
}

// Finish renders the collected traces as a self-contained HTML page.
func (c *chartOutput) Finish() ([]byte, error) {
	n := c.longest()
	x := make([]string, n)
	for i := range x {
		x[i] = fmt.Sprintf("%g", c.x(i))
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "sigcap capture", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: c.dev.Info().Model, Subtitle: c.header()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: c.xLabel(), NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: c.unit}),
	)
	line.SetXAxis(x)
	for _, tr := range c.all() {
		data := make([]opts.LineData, len(tr.values))
		for i, v := range tr.values {
			data[i] = opts.LineData{Value: v}
		}
		line.AddSeries(tr.name, data)
	}
	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	return buf.Bytes(), nil
}

type plotOutput struct {
	*traces
}

func (o *plotOutput) Receive(p *packet.Packet) ([]byte, error) {
	o.collect(p)
	return nil, nil
}

// Finish draws the collected traces into a PNG image.
func (o *plotOutput) Finish() ([]byte, error) {
	p := plot.New()
	p.Title.Text = o.header()
	p.X.Label.Text = o.xLabel()
	p.Y.Label.Text = o.unit
	for i, tr := range o.all() {
		pts := make(plotter.XYs, len(tr.values))
		for j, v := range tr.values {
			pts[j] = plotter.XY{X: o.x(j), Y: v}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", tr.name, err)
		}
		line.Width = vg.Points(1)
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(tr.name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to render plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
