package sitelens

import (
	"fmt"

	"github.com/paulmach/orb"
)

// FormatArea pretty-prints square meters as m², ha or km².
func FormatArea(m2 float64) string {
	switch {
	case m2 < 10_000:
		return fmt.Sprintf("%.0f m²", m2)
	case m2 < 1_000_000:
		return fmt.Sprintf("%.2f ha", m2/10_000)
	default:
		return fmt.Sprintf("%.2f km²", m2/1_000_000)
	}
}

func FormatLength(m float64) string {
	if m < 1000 {
		return fmt.Sprintf("%.0f m", m)
	}
	return fmt.Sprintf("%.2f km", m/1000)
}

// FormatCoordinates renders a [lon, lat] position as "lat, lng".
func FormatCoordinates(p orb.Point) string {
	return fmt.Sprintf("%.6f, %.6f", p[1], p[0])
}
