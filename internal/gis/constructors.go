package gis

import (
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

func toPosition(op string, c []float64) (orb.Point, error) {
	if len(c) < 2 {
		return orb.Point{}, geomErr(op, 0, "position needs [lon, lat] (got %d values)", len(c))
	}
	p := orb.Point{c[0], c[1]}
	if err := checkPoint(op, 0, p); err != nil {
		return orb.Point{}, err
	}
	return p, nil
}

func toPositions(op string, cs [][]float64) ([]orb.Point, error) {
	out := make([]orb.Point, 0, len(cs))
	for _, c := range cs {
		p, err := toPosition(op, c)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func toPolygon(op string, rings [][][]float64) (orb.Polygon, error) {
	poly := make(orb.Polygon, 0, len(rings))
	for _, r := range rings {
		pts, err := toPositions(op, r)
		if err != nil {
			return nil, err
		}
		poly = append(poly, orb.Ring(pts))
	}
	if err := checkPolygon(op, 0, poly); err != nil {
		return nil, err
	}
	return poly, nil
}

func build(op string, g orb.Geometry, props map[string]any) (model.Feature, error) {
	if err := Validate(op, 0, g); err != nil {
		return model.Feature{}, err
	}
	return NewFeature(g, props), nil
}

func Point(c []float64, props map[string]any) (model.Feature, error) {
	p, err := toPosition("point", c)
	if err != nil {
		return model.Feature{}, err
	}
	return NewFeature(p, props), nil
}

func MultiPoint(cs [][]float64, props map[string]any) (model.Feature, error) {
	pts, err := toPositions("multiPoint", cs)
	if err != nil {
		return model.Feature{}, err
	}
	return build("multiPoint", orb.MultiPoint(pts), props)
}

func LineString(cs [][]float64, props map[string]any) (model.Feature, error) {
	pts, err := toPositions("lineString", cs)
	if err != nil {
		return model.Feature{}, err
	}
	return build("lineString", orb.LineString(pts), props)
}

func MultiLineString(lines [][][]float64, props map[string]any) (model.Feature, error) {
	mls := make(orb.MultiLineString, 0, len(lines))
	for _, l := range lines {
		pts, err := toPositions("multiLineString", l)
		if err != nil {
			return model.Feature{}, err
		}
		mls = append(mls, orb.LineString(pts))
	}
	return build("multiLineString", mls, props)
}

func Polygon(rings [][][]float64, props map[string]any) (model.Feature, error) {
	poly, err := toPolygon("polygon", rings)
	if err != nil {
		return model.Feature{}, err
	}
	return NewFeature(poly, props), nil
}

func MultiPolygon(polys [][][][]float64, props map[string]any) (model.Feature, error) {
	mp := make(orb.MultiPolygon, 0, len(polys))
	for _, rings := range polys {
		poly, err := toPolygon("multiPolygon", rings)
		if err != nil {
			return model.Feature{}, err
		}
		mp = append(mp, poly)
	}
	return build("multiPolygon", mp, props)
}

// NewFeature wraps a geometry; props are deep-copied.
func NewFeature(g orb.Geometry, props map[string]any) model.Feature {
	return model.Feature{Geometry: g, Properties: model.CloneProperties(props)}
}

func NewFeatureCollection(fs []model.Feature) model.FeatureCollection {
	out := model.FeatureCollection{Features: make([]model.Feature, len(fs))}
	for i := range fs {
		out.Features[i] = fs[i].Clone()
	}
	return out
}
