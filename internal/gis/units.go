package gis

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

const DefaultUnits = "meters"

var metersPerUnit = map[string]float64{
	"meters":        1,
	"metres":        1,
	"kilometers":    1000,
	"kilometres":    1000,
	"miles":         1609.344,
	"nauticalmiles": 1852,
	"feet":          0.3048,
	"inches":        0.0254,
	"yards":         0.9144,
	"centimeters":   0.01,
	"centimetres":   0.01,
	"millimeters":   0.001,
	"millimetres":   0.001,
	"radians":       orb.EarthRadius,
	"degrees":       orb.EarthRadius * math.Pi / 180,
}

var sqMetersPerUnit = map[string]float64{
	"meters":      1,
	"metres":      1,
	"kilometers":  1e6,
	"kilometres":  1e6,
	"hectares":    1e4,
	"acres":       4046.8564224,
	"miles":       2589988.110336,
	"feet":        0.09290304,
	"yards":       0.83612736,
	"inches":      0.00064516,
	"centimeters": 1e-4,
	"centimetres": 1e-4,
	"millimeters": 1e-6,
	"millimetres": 1e-6,
}

func normUnits(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	if u == "" {
		return DefaultUnits
	}
	return u
}

func lengthFactor(u string) (float64, error) {
	f, ok := metersPerUnit[normUnits(u)]
	if !ok {
		return 0, &GeometryError{Op: "units", Reason: fmt.Sprintf("unknown units %q", u), Err: ErrUnknownUnits}
	}
	return f, nil
}

func areaFactor(u string) (float64, error) {
	f, ok := sqMetersPerUnit[normUnits(u)]
	if !ok {
		return 0, &GeometryError{Op: "units", Reason: fmt.Sprintf("unknown area units %q", u), Err: ErrUnknownUnits}
	}
	return f, nil
}

// ToMeters converts a length expressed in units into meters.
func ToMeters(v float64, units string) (float64, error) {
	f, err := lengthFactor(units)
	if err != nil {
		return 0, err
	}
	return v * f, nil
}

func FromMeters(m float64, units string) (float64, error) {
	f, err := lengthFactor(units)
	if err != nil {
		return 0, err
	}
	return m / f, nil
}

func ConvertLength(v float64, from, to string) (float64, error) {
	m, err := ToMeters(v, from)
	if err != nil {
		return 0, err
	}
	return FromMeters(m, to)
}

func ConvertArea(v float64, from, to string) (float64, error) {
	ff, err := areaFactor(from)
	if err != nil {
		return 0, err
	}
	tf, err := areaFactor(to)
	if err != nil {
		return 0, err
	}
	return v * ff / tf, nil
}

func LengthToDegrees(v float64, units string) (float64, error) {
	return ConvertLength(v, units, "degrees")
}

func DegreesToLength(deg float64, units string) (float64, error) {
	return ConvertLength(deg, "degrees", units)
}
