package gis

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

const defaultCircleSteps = 64

// coordEach visits every position; excludeWrap skips the closing position of rings.
func coordEach(g orb.Geometry, excludeWrap bool, fn func(orb.Point)) {
	ring := func(r orb.Ring) {
		n := len(r)
		if excludeWrap && n > 1 && r[0] == r[n-1] {
			n--
		}
		for _, p := range r[:n] {
			fn(p)
		}
	}
	switch t := g.(type) {
	case orb.Point:
		fn(t)
	case orb.MultiPoint:
		for _, p := range t {
			fn(p)
		}
	case orb.LineString:
		for _, p := range t {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range t {
			for _, p := range ls {
				fn(p)
			}
		}
	case orb.Ring:
		ring(t)
	case orb.Polygon:
		for _, r := range t {
			ring(r)
		}
	case orb.MultiPolygon:
		for _, p := range t {
			for _, r := range p {
				ring(r)
			}
		}
	case orb.Collection:
		for _, m := range t {
			coordEach(m, excludeWrap, fn)
		}
	}
}

func pointOf(op string, idx int, f model.Feature) (orb.Point, error) {
	if err := Validate(op, idx, f.Geometry); err != nil {
		return orb.Point{}, err
	}
	p, ok := f.Geometry.(orb.Point)
	if !ok {
		return orb.Point{}, geomErr(op, idx, "expected Point geometry, got %s", f.Geometry.GeoJSONType())
	}
	return p, nil
}

func ringArea(r orb.Ring) float64 { return math.Abs(geo.Area(r)) }

func geomArea(g orb.Geometry) float64 {
	switch t := g.(type) {
	case orb.Polygon:
		if len(t) == 0 {
			return 0
		}
		a := ringArea(t[0])
		for _, h := range t[1:] {
			a -= ringArea(h)
		}
		return math.Max(a, 0)
	case orb.MultiPolygon:
		var a float64
		for _, p := range t {
			a += geomArea(p)
		}
		return a
	case orb.Collection:
		var a float64
		for _, m := range t {
			a += geomArea(m)
		}
		return a
	default:
		return 0
	}
}

// Area returns the geodesic area in square meters; zero for non-areal types.
func Area(f model.Feature) (float64, error) {
	if err := Validate("area", 0, f.Geometry); err != nil {
		return 0, err
	}
	return geomArea(f.Geometry), nil
}

// Length returns the geodesic length of lines (perimeter for polygons) in units.
func Length(f model.Feature, units string) (float64, error) {
	if err := Validate("length", 0, f.Geometry); err != nil {
		return 0, err
	}
	return FromMeters(geo.LengthHaversine(f.Geometry), units)
}

func Distance(from, to model.Feature, units string) (float64, error) {
	a, err := pointOf("distance", 0, from)
	if err != nil {
		return 0, err
	}
	b, err := pointOf("distance", 1, to)
	if err != nil {
		return 0, err
	}
	return FromMeters(geo.DistanceHaversine(a, b), units)
}

// Bearing returns the initial bearing in degrees, -180..180 from north.
func Bearing(from, to model.Feature) (float64, error) {
	a, err := pointOf("bearing", 0, from)
	if err != nil {
		return 0, err
	}
	b, err := pointOf("bearing", 1, to)
	if err != nil {
		return 0, err
	}
	return geo.Bearing(a, b), nil
}

func Destination(origin model.Feature, distance, bearing float64, units string, props map[string]any) (model.Feature, error) {
	p, err := pointOf("destination", 0, origin)
	if err != nil {
		return model.Feature{}, err
	}
	m, err := ToMeters(distance, units)
	if err != nil {
		return model.Feature{}, err
	}
	return NewFeature(geo.PointAtBearingAndDistance(p, bearing, m), props), nil
}

// Along returns the point at distance along a LineString; distances past the
// end clamp to the last position.
func Along(line model.Feature, distance float64, units string) (model.Feature, error) {
	if err := Validate("along", 0, line.Geometry); err != nil {
		return model.Feature{}, err
	}
	ls, ok := line.Geometry.(orb.LineString)
	if !ok {
		return model.Feature{}, geomErr("along", 0, "expected LineString geometry, got %s", line.Geometry.GeoJSONType())
	}
	target, err := ToMeters(distance, units)
	if err != nil {
		return model.Feature{}, err
	}
	if target <= 0 {
		return NewFeature(ls[0], nil), nil
	}
	var travelled float64
	for i := 0; i+1 < len(ls); i++ {
		seg := geo.DistanceHaversine(ls[i], ls[i+1])
		if travelled+seg >= target {
			over := target - travelled
			if over == 0 {
				return NewFeature(ls[i], nil), nil
			}
			brg := geo.Bearing(ls[i], ls[i+1])
			return NewFeature(geo.PointAtBearingAndDistance(ls[i], brg, over), nil), nil
		}
		travelled += seg
	}
	return NewFeature(ls[len(ls)-1], nil), nil
}

func Midpoint(a, b model.Feature) (model.Feature, error) {
	p1, err := pointOf("midpoint", 0, a)
	if err != nil {
		return model.Feature{}, err
	}
	p2, err := pointOf("midpoint", 1, b)
	if err != nil {
		return model.Feature{}, err
	}
	return NewFeature(geo.Midpoint(p1, p2), nil), nil
}

// Centroid is the mean of all vertices, ignoring ring closing positions.
func Centroid(f model.Feature) (model.Feature, error) {
	if err := Validate("centroid", 0, f.Geometry); err != nil {
		return model.Feature{}, err
	}
	return NewFeature(vertexMean(f.Geometry), f.Properties), nil
}

func vertexMean(g orb.Geometry) orb.Point {
	var sx, sy float64
	var n int
	coordEach(g, true, func(p orb.Point) {
		sx += p[0]
		sy += p[1]
		n++
	})
	if n == 0 {
		return orb.Point{}
	}
	return orb.Point{sx / float64(n), sy / float64(n)}
}

// CenterOfMass is the area-weighted centroid for polygons and the vertex mean
// for everything else.
func CenterOfMass(f model.Feature) (model.Feature, error) {
	if err := Validate("centerOfMass", 0, f.Geometry); err != nil {
		return model.Feature{}, err
	}
	switch f.Geometry.(type) {
	case orb.Polygon, orb.MultiPolygon:
		c, a := planar.CentroidArea(f.Geometry)
		if a != 0 {
			return NewFeature(c, f.Properties), nil
		}
	}
	return NewFeature(vertexMean(f.Geometry), f.Properties), nil
}

// Center is the center of the bounding box of all features.
func Center(fs []model.Feature) (model.Feature, error) {
	bb, err := BBoxOf("center", fs)
	if err != nil {
		return model.Feature{}, err
	}
	return NewFeature(orb.Point{(bb[0] + bb[2]) / 2, (bb[1] + bb[3]) / 2}, nil), nil
}

// Circle approximates a geodesic circle with steps vertices.
func Circle(center model.Feature, radius float64, steps int, units string, props map[string]any) (model.Feature, error) {
	p, err := pointOf("circle", 0, center)
	if err != nil {
		return model.Feature{}, err
	}
	m, err := ToMeters(radius, units)
	if err != nil {
		return model.Feature{}, err
	}
	if m <= 0 || !finite(m) {
		return model.Feature{}, geomErr("circle", 0, "radius must be positive (got %v)", radius)
	}
	return NewFeature(orb.Polygon{circleRing(p, m, steps)}, props), nil
}

func circleRing(c orb.Point, meters float64, steps int) orb.Ring {
	if steps < 3 {
		steps = defaultCircleSteps
	}
	r := make(orb.Ring, 0, steps+1)
	for i := 0; i < steps; i++ {
		r = append(r, geo.PointAtBearingAndDistance(c, float64(i)*-360/float64(steps), meters))
	}
	return append(r, r[0])
}
