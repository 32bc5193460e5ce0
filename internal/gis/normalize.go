package gis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const DefaultPrecision = 6

// GeometryHash fingerprints a geometry after normalization, so two geometries
// that differ only in ring orientation, ring start vertex, member order or
// sub-precision noise hash the same.
func GeometryHash(g orb.Geometry, precision int) (string, error) {
	if g == nil {
		return "gh:null", nil
	}
	buf, err := json.Marshal(geojson.NewGeometry(normalize(g, precision)))
	if err != nil {
		return "", fmt.Errorf("marshal normalized geometry: %w", err)
	}
	return fmt.Sprintf("gh:%016x", xxhash.Sum64(buf)), nil
}

func normalize(g orb.Geometry, p int) orb.Geometry {
	switch t := g.(type) {
	case orb.Point:
		return roundPoint(t, p)
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(t))
		for i := range t {
			out[i] = roundPoint(t[i], p)
		}
		sort.Slice(out, func(i, j int) bool { return lessPoint(out[i], out[j]) })
		return out
	case orb.LineString:
		return roundLine(t, p)
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(t))
		for i := range t {
			out[i] = roundLine(t[i], p)
		}
		sort.Slice(out, func(i, j int) bool { return lexLess(out[i], out[j]) })
		return out
	case orb.Polygon:
		return orientPolygon(t, p)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(t))
		for i := range t {
			out[i] = orientPolygon(t[i], p)
		}
		sort.Slice(out, func(i, j int) bool { return lexLess(out[i], out[j]) })
		return out
	case orb.Collection:
		out := make(orb.Collection, len(t))
		for i := range t {
			out[i] = normalize(t[i], p)
		}
		sort.Slice(out, func(i, j int) bool { return lexLess(out[i], out[j]) })
		return out
	default:
		return g
	}
}

func roundFloat(x float64, p int) float64 {
	f := math.Pow(10, float64(p))
	return math.Round(x*f) / f
}

func roundPoint(pt orb.Point, p int) orb.Point {
	return orb.Point{roundFloat(pt[0], p), roundFloat(pt[1], p)}
}

func roundLine(ls orb.LineString, p int) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i := range ls {
		out[i] = roundPoint(ls[i], p)
	}
	return out
}

// orientPolygon makes the shell counter-clockwise and holes clockwise, then
// rotates every ring to start at its smallest vertex.
func orientPolygon(poly orb.Polygon, p int) orb.Polygon {
	out := make(orb.Polygon, len(poly))
	for i, r := range poly {
		rr := orb.Ring(roundLine(orb.LineString(r), p))
		ccw := rr.Orientation() == orb.CCW
		if (i == 0) != ccw {
			rr.Reverse()
		}
		out[i] = rotateRing(rr)
	}
	if len(out) > 2 {
		holes := out[1:]
		sort.Slice(holes, func(i, j int) bool { return lexLess(holes[i], holes[j]) })
	}
	return out
}

func rotateRing(r orb.Ring) orb.Ring {
	n := len(r) - 1
	if n < 1 || r[0] != r[n] {
		return r
	}
	start := 0
	for i := 1; i < n; i++ {
		if lessPoint(r[i], r[start]) {
			start = i
		}
	}
	out := make(orb.Ring, 0, n+1)
	out = append(out, r[start:n]...)
	out = append(out, r[:start]...)
	return append(out, out[0])
}

func lessPoint(a, b orb.Point) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}

func lexLess(a, b orb.Geometry) bool {
	ba, _ := json.Marshal(geojson.NewGeometry(a))
	bb, _ := json.Marshal(geojson.NewGeometry(b))
	return bytes.Compare(ba, bb) < 0
}
