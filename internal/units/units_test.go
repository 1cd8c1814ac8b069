package units

import (
	"errors"
	"math"
	"testing"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		speedMPS float64
		unit     string
		expected float64
	}{
		{"10 m/s to mph", 10.0, MPH, 22.3694},
		{"10 m/s to kmph", 10.0, KMPH, 36.0},
		{"10 m/s to kph", 10.0, KPH, 36.0},
		{"10 m/s to mps", 10.0, MPS, 10.0},
		{"unknown units stay in mps", 10.0, "furlongs", 10.0},
		{"highway speed to mph", 31.29, MPH, 70.0},
		{"receding target keeps its sign", -13.89, KMPH, -50.004},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertSpeed(tt.speedMPS, tt.unit)
			if math.Abs(got-tt.expected) > 0.01 {
				t.Errorf("ConvertSpeed(%f, %s) = %f, want %f", tt.speedMPS, tt.unit, got, tt.expected)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	for _, u := range ValidUnits {
		if err := Check(u); err != nil {
			t.Errorf("Check(%q) = %v", u, err)
		}
	}
	for _, u := range []string{"", "MPH", "knots"} {
		if err := Check(u); !errors.Is(err, ErrInvalidUnit) {
			t.Errorf("Check(%q) = %v, want ErrInvalidUnit", u, err)
		}
	}
}

func TestSymbol(t *testing.T) {
	tests := map[string]string{MPS: "m/s", MPH: "mph", KMPH: "km/h", KPH: "km/h", "": "m/s"}
	for unit, want := range tests {
		if got := Symbol(unit); got != want {
			t.Errorf("Symbol(%q) = %q, want %q", unit, got, want)
		}
	}
}
