package gis

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/simplify"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

// Buffer grows a geometry by distance. Points become circles, lines become the
// union of vertex circles and segment rectangles, polygons are unioned with the
// buffer of their boundary. A negative distance erodes polygons and is invalid
// for points and lines. nil means the result is empty.
func Buffer(f model.Feature, distance float64, units string, steps int) (*model.Feature, error) {
	const op = "buffer"
	if err := Validate(op, 0, f.Geometry); err != nil {
		return nil, err
	}
	if err := requireSimple(op, 0, f.Geometry); err != nil {
		return nil, err
	}
	m, err := ToMeters(distance, units)
	if err != nil {
		return nil, err
	}
	if !finite(m) {
		return nil, geomErr(op, 0, "non-finite distance %v", distance)
	}
	area := polygonalPart(f.Geometry)
	if m < 0 && area == nil {
		return nil, geomErr(op, 0, "negative distance requires a polygonal geometry")
	}
	if m == 0 {
		if area == nil {
			return nil, nil
		}
		c := f.Clone()
		return &c, nil
	}

	var parts []orb.Polygon
	collectBufferParts(f.Geometry, abs(m), steps, &parts)
	if len(parts) == 0 {
		return nil, nil
	}
	gs := make([]geom.Geometry, 0, len(parts))
	for i, p := range parts {
		g, err := toSF(op, i, p)
		if err != nil {
			return nil, err
		}
		gs = append(gs, g)
	}
	grown, err := unionAll(op, gs)
	if err != nil {
		return nil, err
	}

	if area == nil {
		return overlayResult(op, grown, f.Properties)
	}
	base, err := toSF(op, 0, area)
	if err != nil {
		return nil, err
	}
	var out geom.Geometry
	if m > 0 {
		out, err = geom.Union(base, grown)
	} else {
		out, err = geom.Difference(base, grown)
	}
	if err != nil {
		return nil, geomErr(op, 0, "overlay failed: %v", err)
	}
	return overlayResult(op, out, f.Properties)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func collectBufferParts(g orb.Geometry, meters float64, steps int, parts *[]orb.Polygon) {
	switch t := g.(type) {
	case orb.Point:
		*parts = append(*parts, orb.Polygon{circleRing(t, meters, steps)})
	case orb.MultiPoint:
		for _, p := range t {
			collectBufferParts(p, meters, steps, parts)
		}
	case orb.LineString:
		bufferPath(t, meters, steps, parts)
	case orb.MultiLineString:
		for _, ls := range t {
			bufferPath(ls, meters, steps, parts)
		}
	case orb.Polygon:
		for _, r := range t {
			bufferPath(orb.LineString(r), meters, steps, parts)
		}
	case orb.MultiPolygon:
		for _, p := range t {
			collectBufferParts(p, meters, steps, parts)
		}
	case orb.Collection:
		for _, m := range t {
			collectBufferParts(m, meters, steps, parts)
		}
	}
}

func bufferPath(ls orb.LineString, meters float64, steps int, parts *[]orb.Polygon) {
	for i, p := range ls {
		*parts = append(*parts, orb.Polygon{circleRing(p, meters, steps)})
		if i == 0 || ls[i-1] == p {
			continue
		}
		a, b := ls[i-1], p
		brg := geo.Bearing(a, b)
		*parts = append(*parts, orb.Polygon{orb.Ring{
			geo.PointAtBearingAndDistance(a, brg+90, meters),
			geo.PointAtBearingAndDistance(b, brg+90, meters),
			geo.PointAtBearingAndDistance(b, brg-90, meters),
			geo.PointAtBearingAndDistance(a, brg-90, meters),
			geo.PointAtBearingAndDistance(a, brg+90, meters),
		}})
	}
}

// Simplify applies Douglas-Peucker with tolerance in degrees. Rings that would
// collapse below four positions are kept as they were.
func Simplify(f model.Feature, tolerance float64) (model.Feature, error) {
	const op = "simplify"
	if err := Validate(op, 0, f.Geometry); err != nil {
		return model.Feature{}, err
	}
	if tolerance < 0 || !finite(tolerance) {
		return model.Feature{}, geomErr(op, 0, "tolerance must be a non-negative number (got %v)", tolerance)
	}
	s := simplify.DouglasPeucker(tolerance)
	return NewFeature(simplifyGeom(s, f.Geometry), f.Properties), nil
}

func simplifyGeom(s *simplify.DouglasPeuckerSimplifier, g orb.Geometry) orb.Geometry {
	switch t := g.(type) {
	case orb.LineString:
		out, _ := s.Simplify(orb.Clone(t)).(orb.LineString)
		if len(out) < 2 {
			return orb.Clone(t)
		}
		return out
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(t))
		for i, ls := range t {
			out[i] = simplifyGeom(s, ls).(orb.LineString)
		}
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(t))
		for i, r := range t {
			sr, _ := s.Simplify(orb.Clone(r)).(orb.Ring)
			if len(sr) < 4 {
				sr = orb.Clone(r).(orb.Ring)
			}
			out[i] = sr
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(t))
		for i, p := range t {
			out[i] = simplifyGeom(s, p).(orb.Polygon)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(t))
		for i, m := range t {
			out[i] = simplifyGeom(s, m)
		}
		return out
	default:
		return orb.Clone(g)
	}
}
