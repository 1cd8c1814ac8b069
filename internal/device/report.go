package device

import (
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/sigcap/internal/config"
)

// Summary is the one-line identity of a device.
type Summary struct {
	Driver   string
	Conn     string
	Vendor   string
	Model    string
	Version  string
	Channels []string
}

// Summarize builds the identity line of d. The connection is included only
// when the device advertises a readable conn key.
func Summarize(d *Device) Summary {
	s := Summary{
		Driver:  d.driver.Name(),
		Vendor:  d.info.Vendor,
		Model:   d.info.Model,
		Version: d.info.Version,
	}
	if d.ConfigCheck(config.KeyConn, config.CapGet) {
		if v, err := d.ConfigGet(config.KeyConn); err == nil {
			s.Conn = v.String()
		}
	}
	for _, ch := range d.channels {
		s.Channels = append(s.Channels, ch.Name)
	}
	return s
}

// String renders "demo:conn=x - Vendor Model 1.0 with 2 channels: D0 D1".
func (s Summary) String() string {
	var b strings.Builder
	b.WriteString(s.Driver)
	if s.Conn != "" {
		b.WriteString(":conn=" + s.Conn)
	}
	var ident []string
	for _, part := range []string{s.Vendor, s.Model, s.Version} {
		if part != "" {
			ident = append(ident, part)
		}
	}
	fmt.Fprintf(&b, " - %s with %d channels: %s", strings.Join(ident, " "), len(s.Channels), strings.Join(s.Channels, " "))
	return b.String()
}

// KeyDescription names a key for display.
type KeyDescription struct {
	Identifier  string
	Description string
}

// GroupSummary lists the channel names of one group.
type GroupSummary struct {
	Name     string
	Channels []string
}

// OptionReport is one configuration key of the inspected scope.
type OptionReport struct {
	Key      config.Key
	Value    config.Value
	HasValue bool
	List     []config.Value
	HasList  bool
}

// Report is the result of inspecting a device.
type Report struct {
	DriverFunctions []string
	ScanOptions     []KeyDescription
	Summary         Summary
	ChannelGroups   []GroupSummary
	// Scope is the inspected channel group name, empty for the whole device.
	Scope   string
	Options []OptionReport
}

// Inspect reports on d, scoped to cg when it is not nil. It only reads.
func Inspect(d *Device, cg *ChannelGroup) Report {
	r := Report{Summary: Summarize(d)}
	for _, k := range d.driver.ConfigKeys() {
		r.DriverFunctions = append(r.DriverFunctions, k.Description())
	}
	for _, k := range d.driver.ScanOptions() {
		r.ScanOptions = append(r.ScanOptions, KeyDescription{Identifier: k.Identifier(), Description: k.Description()})
	}
	for _, g := range d.groups {
		gs := GroupSummary{Name: g.Name}
		for _, ch := range g.Channels {
			gs.Channels = append(gs.Channels, ch.Name)
		}
		r.ChannelGroups = append(r.ChannelGroups, gs)
	}

	var scope Configurable = d
	if cg != nil {
		scope = cg
		r.Scope = cg.Name
	}
	for _, k := range scope.ConfigKeys() {
		o := OptionReport{Key: k}
		if scope.ConfigCheck(k, config.CapGet) {
			if v, err := scope.ConfigGet(k); err == nil {
				o.Value, o.HasValue = v, true
			}
		}
		if scope.ConfigCheck(k, config.CapList) {
			if list, err := scope.ConfigList(k); err == nil {
				o.List, o.HasList = list, true
			}
		}
		r.Options = append(r.Options, o)
	}
	return r
}

// WriteTo renders the report as text.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	if len(r.DriverFunctions) > 0 {
		b.WriteString("Driver functions:\n")
		for _, f := range r.DriverFunctions {
			b.WriteString("    " + f + "\n")
		}
	}
	if len(r.ScanOptions) > 0 {
		b.WriteString("Scan options:\n")
		for _, k := range r.ScanOptions {
			fmt.Fprintf(&b, "    %s: %s\n", k.Identifier, k.Description)
		}
	}
	b.WriteString(r.Summary.String() + "\n")
	if len(r.ChannelGroups) > 0 {
		b.WriteString("Channel groups:\n")
		for _, g := range r.ChannelGroups {
			noun := "channel"
			if len(g.Channels) > 1 {
				noun = "channels"
			}
			fmt.Fprintf(&b, "    %s: %s", g.Name, noun)
			for _, c := range g.Channels {
				b.WriteString(" " + c)
			}
			b.WriteString("\n")
		}
	}
	if len(r.Options) > 0 {
		scope := "across all channel groups"
		if r.Scope != "" {
			scope = "on channel group " + r.Scope
		}
		fmt.Fprintf(&b, "Supported configuration options %s:\n", scope)
		for _, o := range r.Options {
			fmt.Fprintf(&b, "    %s: %s\n", o.Key.Identifier(), o.Text())
		}
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Text renders the value and the allowed list of o, "200 kHz (1 kHz, 200 kHz)".
func (o OptionReport) Text() string {
	var parts []string
	if o.HasValue {
		parts = append(parts, o.Value.Format(o.Key))
	}
	if o.HasList {
		items := make([]string, len(o.List))
		for i, v := range o.List {
			items[i] = v.Format(o.Key)
		}
		parts = append(parts, "("+strings.Join(items, ", ")+")")
	}
	return strings.Join(parts, " ")
}
