package device

import (
	"fmt"
	"strings"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/monitoring"
)

// ChannelSpec is one entry of a channel selection: a channel name and an
// optional new name.
type ChannelSpec struct {
	Name   string
	Rename string
}

// ParseChannelList parses "D0,D1=clk,A0" into channel specs. An empty list
// yields nil, meaning no selection.
func ParseChannelList(list string) []ChannelSpec {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	var specs []ChannelSpec
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, rename, _ := strings.Cut(item, "=")
		specs = append(specs, ChannelSpec{Name: name, Rename: rename})
	}
	return specs
}

// SelectChannels enables exactly the channels named in specs and disables
// every other, renaming those whose entry carries a new name. A nil spec
// leaves the device untouched. Names matching no channel are reported and
// skipped.
func SelectChannels(d *Device, specs []ChannelSpec) {
	if specs == nil {
		return
	}
	wanted := make(map[string]string, len(specs))
	for _, s := range specs {
		wanted[s.Name] = s.Rename
	}
	for _, ch := range d.channels {
		rename, ok := wanted[ch.Name]
		ch.Enabled = ok
		if !ok {
			continue
		}
		delete(wanted, ch.Name)
		if rename != "" {
			ch.Name = rename
		}
	}
	for name := range wanted {
		monitoring.Warnf("channel %q not found on %s device", name, d.driver.Name())
	}
}

// SelectChannelGroup returns the group named name, or nil when the device
// has no groups, the name is empty or it matches none.
func SelectChannelGroup(d *Device, name string) *ChannelGroup {
	if name == "" || len(d.groups) == 0 {
		return nil
	}
	return d.ChannelGroup(name)
}

// ApplyOptions resolves and sets each pair of "key1=val1:key2=val2" in
// order. The first failure stops processing; options applied before it
// stay applied.
func ApplyOptions(c Configurable, spec string) error {
	for _, p := range config.SplitPairs(spec) {
		opt, err := p.Resolve()
		if err != nil {
			return err
		}
		if err := c.ConfigSet(opt.Key, opt.Value); err != nil {
			return fmt.Errorf("failed to set %s: %w", opt.Key.Identifier(), err)
		}
		monitoring.Debugf("set %s", opt)
	}
	return nil
}

// Get reads a single option by identifier. An identifier the configurable
// does not advertise yields config.ErrUnknownKey; one without GET yields
// ErrUnsupportedCapability.
func Get(c Configurable, identifier string) (config.Value, error) {
	for _, k := range c.ConfigKeys() {
		if k.Identifier() != identifier {
			continue
		}
		if !c.ConfigCheck(k, config.CapGet) {
			return config.Value{}, fmt.Errorf("%w: GET on %s", ErrUnsupportedCapability, identifier)
		}
		return c.ConfigGet(k)
	}
	return config.Value{}, fmt.Errorf("%w: %q", config.ErrUnknownKey, identifier)
}

// GetResult is the outcome of reading one option.
type GetResult struct {
	Identifier string
	Key        config.Key
	Value      config.Value
	Err        error
}

// GetAll reads every identifier independently; one failure does not
// prevent the others.
func GetAll(c Configurable, identifiers []string) []GetResult {
	results := make([]GetResult, 0, len(identifiers))
	for _, id := range identifiers {
		r := GetResult{Identifier: id}
		r.Value, r.Err = Get(c, id)
		if r.Err == nil {
			r.Key, _ = config.Lookup(id)
		}
		results = append(results, r)
	}
	return results
}
