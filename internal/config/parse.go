package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	// ErrUnknownKey is returned when an identifier is not registered.
	ErrUnknownKey = errors.New("unknown config key")
	// ErrInvalidValue is returned when a string cannot be coerced to a
	// key's type, or a value does not match the key's type.
	ErrInvalidValue = errors.New("invalid config value")
)

// Parse converts raw into a Value of k's type. It is pure: the same key and
// string always yield the same result.
func (k Key) Parse(raw string) (Value, error) {
	info := registry[k]
	if info == nil {
		return Value{}, fmt.Errorf("%w: %d", ErrUnknownKey, uint32(k))
	}
	var (
		v   Value
		err error
	)
	switch info.Type {
	case TypeInt:
		var n int64
		if k == KeyLimitMsec {
			n, err = parseMillis(raw)
		} else {
			n, err = parseSize(raw)
		}
		v = IntValue(n)
	case TypeFloat:
		var f float64
		f, err = parseFloat(raw)
		v = FloatValue(f)
	case TypeBool:
		var b bool
		b, err = parseBool(raw)
		v = BoolValue(b)
	case TypeString:
		v = StringValue(raw)
	default:
		err = errors.New("unsupported type")
	}
	if err != nil {
		return Value{}, fmt.Errorf("%w for %s: %q: %v", ErrInvalidValue, info.Identifier, raw, err)
	}
	return v, nil
}

// CheckType reports an ErrInvalidValue if v is not of k's type.
func (k Key) CheckType(v Value) error {
	if v.Type() != k.Type() {
		return fmt.Errorf("%w for %s: want %s, got %s", ErrInvalidValue, k.Identifier(), k.Type(), v.Type())
	}
	return nil
}

// parseSize accepts plain integers and SI-suffixed sizes such as "200k",
// "1M", "1 MHz" or "2g". The k, m and g suffixes are case-insensitive and
// always mean 10^3, 10^6 and 10^9.
func parseSize(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, unit, err := humanize.ParseSI(normalizeSI(s))
	if err != nil {
		return 0, err
	}
	if unit != "" && !strings.EqualFold(unit, "hz") {
		return 0, fmt.Errorf("unexpected unit %q", unit)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, errors.New("out of range")
	}
	r := math.Round(f)
	if math.Abs(f-r) > 1e-9*math.Max(1, math.Abs(f)) {
		return 0, errors.New("not an integer")
	}
	return int64(r), nil
}

// normalizeSI rewrites the prefix character after the numeric part so that
// humanize.ParseSI reads k/m/g as kilo/mega/giga.
func normalizeSI(s string) string {
	i := 0
	for i < len(s) && (s[i] == '-' || s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	if i == 0 {
		return s
	}
	j := i
	if j < len(s) && s[j] == ' ' {
		j++
	}
	if j >= len(s) {
		return s
	}
	var p byte
	switch s[j] {
	case 'K', 'k':
		p = 'k'
	case 'm', 'M':
		p = 'M'
	case 'g', 'G':
		p = 'G'
	default:
		return s
	}
	return s[:i] + string(p) + s[j+1:]
}

// parseMillis accepts a plain millisecond count or a Go duration string.
func parseMillis(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}

func parseFloat(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	f, _, err := humanize.ParseSI(s)
	return f, err
}

// parseBool treats an empty string as true so "continuous" alone enables
// the option.
func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	}
	return false, errors.New("expected a boolean")
}
