package gis

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

// BBoxOf returns [west, south, east, north] over every position of fs.
func BBoxOf(op string, fs []model.Feature) ([4]float64, error) {
	if len(fs) == 0 {
		return [4]float64{}, geomErr(op, 0, "no features")
	}
	bb := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for i, f := range fs {
		if err := Validate(op, i, f.Geometry); err != nil {
			return [4]float64{}, err
		}
		coordEach(f.Geometry, false, func(p orb.Point) {
			bb[0] = math.Min(bb[0], p[0])
			bb[1] = math.Min(bb[1], p[1])
			bb[2] = math.Max(bb[2], p[0])
			bb[3] = math.Max(bb[3], p[1])
		})
	}
	return bb, nil
}

func BBox(fs ...model.Feature) ([4]float64, error) { return BBoxOf("bbox", fs) }

// Envelope is the bounding box of fs as a Polygon feature.
func Envelope(fs []model.Feature) (model.Feature, error) {
	bb, err := BBoxOf("envelope", fs)
	if err != nil {
		return model.Feature{}, err
	}
	return NewFeature(boundPolygon(bb), nil), nil
}

func BBoxPolygon(bb [4]float64, props map[string]any) (model.Feature, error) {
	if err := checkBBox("bboxPolygon", bb); err != nil {
		return model.Feature{}, err
	}
	return NewFeature(boundPolygon(bb), props), nil
}

func checkBBox(op string, bb [4]float64) error {
	for _, v := range bb {
		if !finite(v) {
			return geomErr(op, 0, "non-finite bbox value %v", bb)
		}
	}
	if bb[0] > bb[2] || bb[1] > bb[3] {
		return geomErr(op, 0, "bbox min exceeds max %v", bb)
	}
	return nil
}

func boundPolygon(bb [4]float64) orb.Polygon {
	w, s, e, n := bb[0], bb[1], bb[2], bb[3]
	return orb.Polygon{orb.Ring{{w, s}, {e, s}, {e, n}, {w, n}, {w, s}}}
}
