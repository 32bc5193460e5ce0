package gis

import (
	"math"

	"github.com/paulmach/orb"
)

// Validate checks structural validity: non-empty coordinate arrays, finite
// positions, lines with >= 2 positions, closed rings with >= 4 positions.
func Validate(op string, idx int, g orb.Geometry) error {
	if g == nil {
		return geomErr(op, idx, "missing geometry")
	}
	switch t := g.(type) {
	case orb.Point:
		return checkPoint(op, idx, t)
	case orb.MultiPoint:
		if len(t) == 0 {
			return geomErr(op, idx, "empty MultiPoint")
		}
		for _, p := range t {
			if err := checkPoint(op, idx, p); err != nil {
				return err
			}
		}
	case orb.LineString:
		return checkLine(op, idx, t)
	case orb.MultiLineString:
		if len(t) == 0 {
			return geomErr(op, idx, "empty MultiLineString")
		}
		for _, ls := range t {
			if err := checkLine(op, idx, ls); err != nil {
				return err
			}
		}
	case orb.Ring:
		return checkRing(op, idx, t)
	case orb.Polygon:
		return checkPolygon(op, idx, t)
	case orb.MultiPolygon:
		if len(t) == 0 {
			return geomErr(op, idx, "empty MultiPolygon")
		}
		for _, p := range t {
			if err := checkPolygon(op, idx, p); err != nil {
				return err
			}
		}
	case orb.Collection:
		if len(t) == 0 {
			return geomErr(op, idx, "empty GeometryCollection")
		}
		for _, m := range t {
			if err := Validate(op, idx, m); err != nil {
				return err
			}
		}
	case orb.Bound:
		if err := checkPoint(op, idx, t.Min); err != nil {
			return err
		}
		return checkPoint(op, idx, t.Max)
	default:
		return geomErr(op, idx, "unsupported geometry type %T", g)
	}
	return nil
}

func checkPoint(op string, idx int, p orb.Point) error {
	if !finite(p[0]) || !finite(p[1]) {
		return geomErr(op, idx, "non-finite coordinate %v", p)
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func checkLine(op string, idx int, ls orb.LineString) error {
	if len(ls) < 2 {
		return geomErr(op, idx, "LineString needs at least 2 positions (got %d)", len(ls))
	}
	for _, p := range ls {
		if err := checkPoint(op, idx, p); err != nil {
			return err
		}
	}
	return nil
}

func checkRing(op string, idx int, r orb.Ring) error {
	if len(r) < 4 {
		return geomErr(op, idx, "linear ring needs at least 4 positions (got %d)", len(r))
	}
	if r[0] != r[len(r)-1] {
		return geomErr(op, idx, "linear ring is not closed")
	}
	for _, p := range r {
		if err := checkPoint(op, idx, p); err != nil {
			return err
		}
	}
	return nil
}

func checkPolygon(op string, idx int, p orb.Polygon) error {
	if len(p) == 0 {
		return geomErr(op, idx, "empty Polygon")
	}
	for _, r := range p {
		if err := checkRing(op, idx, r); err != nil {
			return err
		}
	}
	return nil
}

// requireSimple rejects polygons whose rings self-intersect. Overlay and buffer
// operations need simple rings.
func requireSimple(op string, idx int, g orb.Geometry) error {
	switch t := g.(type) {
	case orb.Polygon:
		for ri, r := range t {
			if ringSelfIntersects(r) {
				return geomErr(op, idx, "ring %d of polygon self-intersects", ri)
			}
		}
	case orb.MultiPolygon:
		for pi, p := range t {
			for ri, r := range p {
				if ringSelfIntersects(r) {
					return geomErr(op, idx, "ring %d of polygon %d self-intersects", ri, pi)
				}
			}
		}
	case orb.Collection:
		for _, m := range t {
			if err := requireSimple(op, idx, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func ringSelfIntersects(r orb.Ring) bool {
	pts := dedupeConsecutive(r)
	n := len(pts) - 1 // segment count of a closed ring
	if n < 3 {
		return false
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue // adjacent segments share a vertex
			}
			if segmentsIntersect(pts[i], pts[i+1], pts[j], pts[j+1]) {
				return true
			}
		}
	}
	return false
}

func dedupeConsecutive(r orb.Ring) []orb.Point {
	out := make([]orb.Point, 0, len(r))
	for i, p := range r {
		if i > 0 && p == r[i-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}

func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := sign(orientation(q1, q2, p1))
	d2 := sign(orientation(q1, q2, p2))
	d3 := sign(orientation(p1, p2, q1))
	d4 := sign(orientation(p1, p2, q2))
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return d1*d2 < 0 && d3*d4 < 0
}
