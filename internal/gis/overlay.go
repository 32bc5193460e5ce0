package gis

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

// toSF converts through GeoJSON so simplefeatures sees exactly what a script would.
func toSF(op string, idx int, g orb.Geometry) (geom.Geometry, error) {
	raw, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return geom.Geometry{}, geomErr(op, idx, "encode geometry: %v", err)
	}
	sg, err := geom.UnmarshalGeoJSON(raw)
	if err != nil {
		return geom.Geometry{}, geomErr(op, idx, "invalid geometry: %v", err)
	}
	return sg, nil
}

func fromSF(op string, g geom.Geometry) (orb.Geometry, error) {
	if g.IsEmpty() {
		return nil, nil
	}
	raw, err := g.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%s: encode result: %w", op, err)
	}
	gj, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: decode result: %w", op, err)
	}
	return gj.Geometry(), nil
}

func polygonal(op string, idx int, f model.Feature) (geom.Geometry, error) {
	if err := Validate(op, idx, f.Geometry); err != nil {
		return geom.Geometry{}, err
	}
	switch f.Geometry.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return geom.Geometry{}, geomErr(op, idx, "expected Polygon or MultiPolygon, got %s", f.Geometry.GeoJSONType())
	}
	if err := requireSimple(op, idx, f.Geometry); err != nil {
		return geom.Geometry{}, err
	}
	return toSF(op, idx, f.Geometry)
}

// polygonalPart keeps only areal members of an overlay result; nil when none remain.
func polygonalPart(g orb.Geometry) orb.Geometry {
	switch t := g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return t
	case orb.Collection:
		var mp orb.MultiPolygon
		for _, m := range t {
			switch p := polygonalPart(m).(type) {
			case orb.Polygon:
				mp = append(mp, p)
			case orb.MultiPolygon:
				mp = append(mp, p...)
			}
		}
		switch len(mp) {
		case 0:
			return nil
		case 1:
			return mp[0]
		}
		return mp
	}
	return nil
}

func overlayResult(op string, g geom.Geometry, props map[string]any) (*model.Feature, error) {
	og, err := fromSF(op, g)
	if err != nil {
		return nil, err
	}
	og = polygonalPart(og)
	if og == nil {
		return nil, nil
	}
	f := NewFeature(og, props)
	return &f, nil
}

// unionAll merges pairwise as a balanced tree to keep intermediate results small.
func unionAll(op string, gs []geom.Geometry) (geom.Geometry, error) {
	for len(gs) > 1 {
		next := make([]geom.Geometry, 0, (len(gs)+1)/2)
		for i := 0; i < len(gs); i += 2 {
			if i+1 == len(gs) {
				next = append(next, gs[i])
				continue
			}
			u, err := geom.Union(gs[i], gs[i+1])
			if err != nil {
				return geom.Geometry{}, geomErr(op, i, "union failed: %v", err)
			}
			next = append(next, u)
		}
		gs = next
	}
	return gs[0], nil
}

// Union merges polygonal features. The first feature's properties are kept.
// A nil feature means the result is empty.
func Union(fs ...model.Feature) (*model.Feature, error) {
	if len(fs) == 0 {
		return nil, geomErr("union", 0, "no features")
	}
	gs := make([]geom.Geometry, 0, len(fs))
	for i, f := range fs {
		g, err := polygonal("union", i, f)
		if err != nil {
			return nil, err
		}
		gs = append(gs, g)
	}
	u, err := unionAll("union", gs)
	if err != nil {
		return nil, err
	}
	return overlayResult("union", u, fs[0].Properties)
}

func Intersect(a, b model.Feature) (*model.Feature, error) {
	ga, err := polygonal("intersect", 0, a)
	if err != nil {
		return nil, err
	}
	gb, err := polygonal("intersect", 1, b)
	if err != nil {
		return nil, err
	}
	out, err := geom.Intersection(ga, gb)
	if err != nil {
		return nil, geomErr("intersect", 0, "intersection failed: %v", err)
	}
	return overlayResult("intersect", out, a.Properties)
}

// Difference subtracts b from a.
func Difference(a, b model.Feature) (*model.Feature, error) {
	ga, err := polygonal("difference", 0, a)
	if err != nil {
		return nil, err
	}
	gb, err := polygonal("difference", 1, b)
	if err != nil {
		return nil, err
	}
	out, err := geom.Difference(ga, gb)
	if err != nil {
		return nil, geomErr("difference", 0, "difference failed: %v", err)
	}
	return overlayResult("difference", out, a.Properties)
}

// Convex returns the convex hull of every position in fs, or nil when the
// positions are collinear or fewer than three.
func Convex(fs []model.Feature) (*model.Feature, error) {
	var pts orb.MultiPoint
	for i, f := range fs {
		if err := Validate("convex", i, f.Geometry); err != nil {
			return nil, err
		}
		coordEach(f.Geometry, true, func(p orb.Point) { pts = append(pts, p) })
	}
	if len(pts) < 3 {
		return nil, nil
	}
	g, err := toSF("convex", 0, pts)
	if err != nil {
		return nil, err
	}
	return overlayResult("convex", g.ConvexHull(), nil)
}
