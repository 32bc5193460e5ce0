package gis

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

// NearestPoint returns a copy of the closest Point in points, annotated with
// featureIndex and distanceToPoint (meters). Ties keep the earliest feature.
func NearestPoint(target model.Feature, points model.FeatureCollection) (model.Feature, error) {
	const op = "nearestPoint"
	t, err := pointOf(op, 0, target)
	if err != nil {
		return model.Feature{}, err
	}
	if len(points.Features) == 0 {
		return model.Feature{}, geomErr(op, 1, "no candidate points")
	}
	best, bestD := -1, math.Inf(1)
	for i, f := range points.Features {
		p, err := pointOf(op, i+1, f)
		if err != nil {
			return model.Feature{}, err
		}
		if d := geo.DistanceHaversine(t, p); d < bestD {
			best, bestD = i, d
		}
	}
	out := points.Features[best].Clone()
	if out.Properties == nil {
		out.Properties = map[string]any{}
	}
	out.Properties["featureIndex"] = best
	out.Properties["distanceToPoint"] = bestD
	return out, nil
}

// PointsWithinPolygon keeps points inside any of polygons, boundary included.
// MultiPoints are reduced to their contained positions and dropped when none remain.
func PointsWithinPolygon(points, polygons model.FeatureCollection) (model.FeatureCollection, error) {
	const op = "pointsWithinPolygon"
	for i, pg := range polygons.Features {
		if err := Validate(op, i, pg.Geometry); err != nil {
			return model.FeatureCollection{}, err
		}
		switch pg.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return model.FeatureCollection{}, geomErr(op, i, "expected Polygon or MultiPolygon, got %s", pg.Geometry.GeoJSONType())
		}
	}
	inAny := func(p orb.Point) bool {
		for _, pg := range polygons.Features {
			if ok, _ := BooleanPointInPolygon(NewFeature(p, nil), pg, false); ok {
				return true
			}
		}
		return false
	}
	out := model.FeatureCollection{Features: []model.Feature{}}
	for i, f := range points.Features {
		if err := Validate(op, i, f.Geometry); err != nil {
			return model.FeatureCollection{}, err
		}
		switch g := f.Geometry.(type) {
		case orb.Point:
			if inAny(g) {
				out.Features = append(out.Features, f.Clone())
			}
		case orb.MultiPoint:
			var kept orb.MultiPoint
			for _, p := range g {
				if inAny(p) {
					kept = append(kept, p)
				}
			}
			if len(kept) > 0 {
				c := f.Clone()
				c.Geometry = kept
				out.Features = append(out.Features, c)
			}
		default:
			return model.FeatureCollection{}, geomErr(op, i, "expected Point or MultiPoint, got %s", f.Geometry.GeoJSONType())
		}
	}
	return out, nil
}
