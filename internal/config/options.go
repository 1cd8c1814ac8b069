package config

import (
	"fmt"
	"strings"
)

// Capability describes which operations a configurable supports for a key.
type Capability uint8

const (
	CapGet Capability = 1 << iota
	CapSet
	CapList
)

// Has reports whether every flag in o is present in c.
func (c Capability) Has(o Capability) bool { return c&o == o }

// String returns the flags as "GET|SET|LIST".
func (c Capability) String() string {
	var parts []string
	if c.Has(CapGet) {
		parts = append(parts, "GET")
	}
	if c.Has(CapSet) {
		parts = append(parts, "SET")
	}
	if c.Has(CapList) {
		parts = append(parts, "LIST")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}

// Pair is one raw identifier=value entry of an option string.
type Pair struct {
	Identifier string
	Raw        string
}

// SplitPairs splits "key1=val1:key2=val2" into its pairs. A pair without
// "=" has an empty raw value.
func SplitPairs(spec string) []Pair {
	if spec == "" {
		return nil
	}
	var pairs []Pair
	for _, part := range strings.Split(spec, ":") {
		if part == "" {
			continue
		}
		id, raw, _ := strings.Cut(part, "=")
		pairs = append(pairs, Pair{Identifier: id, Raw: raw})
	}
	return pairs
}

// Resolve looks up and parses the pair.
func (p Pair) Resolve() (Option, error) {
	k, err := Lookup(p.Identifier)
	if err != nil {
		return Option{}, err
	}
	v, err := k.Parse(p.Raw)
	if err != nil {
		return Option{}, err
	}
	return Option{Key: k, Value: v}, nil
}

// SplitSpec separates a module name from its options:
// "demo:num_logic_channels=4" yields "demo" and "num_logic_channels=4".
func SplitSpec(spec string) (name, options string) {
	name, options, _ = strings.Cut(spec, ":")
	return name, options
}

// Option is a resolved key and its parsed value.
type Option struct {
	Key   Key
	Value Value
}

func (o Option) String() string {
	return o.Key.Identifier() + "=" + o.Value.String()
}

// Options is an ordered option list.
type Options []Option

// ParseOptions resolves every pair of an option string, failing on the
// first unknown key or unparsable value.
func ParseOptions(spec string) (Options, error) {
	var opts Options
	for _, p := range SplitPairs(spec) {
		o, err := p.Resolve()
		if err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, nil
}

// Lookup returns the last value given for k.
func (o Options) Lookup(k Key) (Value, bool) {
	for i := len(o) - 1; i >= 0; i-- {
		if o[i].Key == k {
			return o[i].Value, true
		}
	}
	return Value{}, false
}

// Int returns the integer value of k, or def when absent.
func (o Options) Int(k Key, def int64) int64 {
	if v, ok := o.Lookup(k); ok {
		return v.Int()
	}
	return def
}

// Str returns the string value of k, or def when absent.
func (o Options) Str(k Key, def string) string {
	if v, ok := o.Lookup(k); ok {
		return v.Str()
	}
	return def
}

// Check fails with ErrUnknownKey for any option whose key is not in allowed.
func (o Options) Check(allowed []Key) error {
	for _, opt := range o {
		found := false
		for _, k := range allowed {
			if k == opt.Key {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s is not accepted here", ErrUnknownKey, opt.Key.Identifier())
		}
	}
	return nil
}

func (o Options) String() string {
	parts := make([]string, len(o))
	for i, opt := range o {
		parts[i] = opt.String()
	}
	return strings.Join(parts, ":")
}
