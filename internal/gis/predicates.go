package gis

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

type relateFunc func(a, b geom.Geometry) (bool, error)

func relate(op string, a, b model.Feature, fn relateFunc) (bool, error) {
	ga, gb, err := pair(op, a, b)
	if err != nil {
		return false, err
	}
	ok, err := fn(ga, gb)
	if err != nil {
		return false, geomErr(op, 0, "relate failed: %v", err)
	}
	return ok, nil
}

func pair(op string, a, b model.Feature) (geom.Geometry, geom.Geometry, error) {
	if err := Validate(op, 0, a.Geometry); err != nil {
		return geom.Geometry{}, geom.Geometry{}, err
	}
	if err := Validate(op, 1, b.Geometry); err != nil {
		return geom.Geometry{}, geom.Geometry{}, err
	}
	ga, err := toSF(op, 0, a.Geometry)
	if err != nil {
		return geom.Geometry{}, geom.Geometry{}, err
	}
	gb, err := toSF(op, 1, b.Geometry)
	if err != nil {
		return geom.Geometry{}, geom.Geometry{}, err
	}
	return ga, gb, nil
}

// BooleanContains reports whether b lies in a with no point of b in a's exterior.
func BooleanContains(a, b model.Feature) (bool, error) {
	return relate("booleanContains", a, b, geom.Contains)
}

func BooleanWithin(a, b model.Feature) (bool, error) {
	return relate("booleanWithin", a, b, geom.Within)
}

func BooleanCrosses(a, b model.Feature) (bool, error) {
	return relate("booleanCrosses", a, b, geom.Crosses)
}

func BooleanOverlap(a, b model.Feature) (bool, error) {
	return relate("booleanOverlap", a, b, geom.Overlaps)
}

func BooleanDisjoint(a, b model.Feature) (bool, error) {
	return relate("booleanDisjoint", a, b, geom.Disjoint)
}

func BooleanIntersects(a, b model.Feature) (bool, error) {
	ga, gb, err := pair("booleanIntersects", a, b)
	if err != nil {
		return false, err
	}
	return geom.Intersects(ga, gb), nil
}

// BooleanEqual compares geometries of the same type after normalization at
// DefaultPrecision decimal places.
func BooleanEqual(a, b model.Feature) (bool, error) {
	const op = "booleanEqual"
	if err := Validate(op, 0, a.Geometry); err != nil {
		return false, err
	}
	if err := Validate(op, 1, b.Geometry); err != nil {
		return false, err
	}
	if a.Geometry.GeoJSONType() != b.Geometry.GeoJSONType() {
		return false, nil
	}
	ha, err := GeometryHash(a.Geometry, DefaultPrecision)
	if err != nil {
		return false, geomErr(op, 0, "%v", err)
	}
	hb, err := GeometryHash(b.Geometry, DefaultPrecision)
	if err != nil {
		return false, geomErr(op, 1, "%v", err)
	}
	return ha == hb, nil
}

// BooleanPointInPolygon treats boundary points as inside unless ignoreBoundary is set.
func BooleanPointInPolygon(pt, poly model.Feature, ignoreBoundary bool) (bool, error) {
	const op = "booleanPointInPolygon"
	p, err := pointOf(op, 0, pt)
	if err != nil {
		return false, err
	}
	if err := Validate(op, 1, poly.Geometry); err != nil {
		return false, err
	}
	var rings []orb.Ring
	var inside bool
	switch t := poly.Geometry.(type) {
	case orb.Polygon:
		rings = t
		inside = planar.PolygonContains(t, p)
	case orb.MultiPolygon:
		for _, pg := range t {
			rings = append(rings, pg...)
		}
		inside = planar.MultiPolygonContains(t, p)
	default:
		return false, geomErr(op, 1, "expected Polygon or MultiPolygon, got %s", poly.Geometry.GeoJSONType())
	}
	if !inside {
		return false, nil
	}
	if ignoreBoundary {
		for _, r := range rings {
			if onPath(p, orb.LineString(r), 0, false) {
				return false, nil
			}
		}
	}
	return true, nil
}

// BooleanPointOnLine reports whether pt lies on line within epsilon (planar degrees).
func BooleanPointOnLine(pt, line model.Feature, ignoreEndVertices bool, epsilon float64) (bool, error) {
	const op = "booleanPointOnLine"
	p, err := pointOf(op, 0, pt)
	if err != nil {
		return false, err
	}
	if err := Validate(op, 1, line.Geometry); err != nil {
		return false, err
	}
	ls, ok := line.Geometry.(orb.LineString)
	if !ok {
		return false, geomErr(op, 1, "expected LineString geometry, got %s", line.Geometry.GeoJSONType())
	}
	if epsilon < 0 || !finite(epsilon) {
		return false, geomErr(op, 1, "epsilon must be a non-negative number (got %v)", epsilon)
	}
	return onPath(p, ls, epsilon, ignoreEndVertices), nil
}

func onPath(p orb.Point, ls orb.LineString, eps float64, ignoreEnds bool) bool {
	if ignoreEnds && (p == ls[0] || p == ls[len(ls)-1]) {
		return false
	}
	for i := 0; i+1 < len(ls); i++ {
		a, b := ls[i], ls[i+1]
		if math.Abs(orientation(a, b, p)) > eps {
			continue
		}
		if p[0] >= math.Min(a[0], b[0])-eps && p[0] <= math.Max(a[0], b[0])+eps &&
			p[1] >= math.Min(a[1], b[1])-eps && p[1] <= math.Max(a[1], b[1])+eps {
			return true
		}
	}
	return false
}
