package config

import (
	"strconv"

	"github.com/dustin/go-humanize"
)

// DataType is the native type of a key's value.
type DataType uint8

const (
	TypeUnknown DataType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeString
)

// String returns the data type name.
func (t DataType) String() string {
	switch t {
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "boolean"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a typed configuration value. The zero Value has TypeUnknown and
// is used to mean "no value". Values are comparable with ==.
type Value struct {
	typ DataType
	i   int64
	f   float64
	b   bool
	s   string
}

// IntValue returns an integer Value.
func IntValue(v int64) Value { return Value{typ: TypeInt, i: v} }

// FloatValue returns a float Value.
func FloatValue(v float64) Value { return Value{typ: TypeFloat, f: v} }

// BoolValue returns a boolean Value.
func BoolValue(v bool) Value { return Value{typ: TypeBool, b: v} }

// StringValue returns a string Value.
func StringValue(v string) Value { return Value{typ: TypeString, s: v} }

// Type returns the value's type.
func (v Value) Type() DataType { return v.typ }

// IsZero reports whether v carries no value.
func (v Value) IsZero() bool { return v.typ == TypeUnknown }

// Int returns the integer payload; zero for other types.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload. Integer values are converted.
func (v Value) Float() float64 {
	if v.typ == TypeInt {
		return float64(v.i)
	}
	return v.f
}

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.b }

// Str returns the string payload.
func (v Value) Str() string { return v.s }

// String returns the canonical serialization of v. Parsing the result with
// the key v was parsed for yields v again.
func (v Value) String() string {
	switch v.typ {
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeString:
		return v.s
	default:
		return ""
	}
}

// Format renders v for display next to key k. Sample rates use SI units.
func (v Value) Format(k Key) string {
	if v.typ == TypeInt {
		switch k {
		case KeySampleRate:
			return humanize.SIWithDigits(float64(v.i), 3, "Hz")
		case KeyLimitMsec:
			return strconv.FormatInt(v.i, 10) + " ms"
		}
	}
	return v.String()
}
