// Package units converts speeds reported in metres per second.
package units

import (
	"fmt"
	"slices"
	"strings"
)

// Speed units accepted by the speed_units option.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits lists every accepted unit in display order.
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// ErrInvalidUnit is returned by Check.
var ErrInvalidUnit = fmt.Errorf("invalid speed unit, want one of %s", strings.Join(ValidUnits, ", "))

// IsValid reports whether unit is accepted. Names are case sensitive.
func IsValid(unit string) bool {
	return slices.Contains(ValidUnits, unit)
}

// Check returns ErrInvalidUnit for unknown units.
func Check(unit string) error {
	if !IsValid(unit) {
		return fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}
	return nil
}

// ConvertSpeed converts speedMPS to unit. Unknown units leave it in m/s.
func ConvertSpeed(speedMPS float64, unit string) float64 {
	switch unit {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// Symbol is the unit label carried by analog packets.
func Symbol(unit string) string {
	switch unit {
	case MPH:
		return "mph"
	case KMPH, KPH:
		return "km/h"
	default:
		return "m/s"
	}
}
