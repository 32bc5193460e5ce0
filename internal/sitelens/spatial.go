package sitelens

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/gis"
	"github.com/mohammed-shakir/geosandbox/internal/mapper"
	h3mapper "github.com/mohammed-shakir/geosandbox/internal/mapper/h3"
)

const nearbySteps = 64

var cells mapper.Interface = h3mapper.New()

// FindNearby returns features intersecting a circle of distance around point.
// A feature whose geometry cannot be tested is skipped, not reported.
func FindNearby(fc model.FeatureCollection, point orb.Point, distance float64, units string) (model.FeatureCollection, error) {
	circle, err := gis.Circle(gis.NewFeature(point, nil), distance, nearbySteps, units, nil)
	if err != nil {
		return model.FeatureCollection{}, err
	}
	out := empty()
	for _, f := range fc.Features {
		hit, err := gis.BooleanIntersects(f, circle)
		if err != nil || !hit {
			continue
		}
		out.Features = append(out.Features, f.Clone())
	}
	return out, nil
}

// DissolveByProperty merges features sharing a value of key into one feature
// carrying only that property. Groups that cannot be merged keep their
// original features. Features without key pass through unchanged.
func DissolveByProperty(fc model.FeatureCollection, key string) model.FeatureCollection {
	type group struct {
		value    any
		features []model.Feature
		loose    bool
	}
	var groups []*group
	byKey := map[string]*group{}
	for _, f := range fc.Features {
		v, ok := f.Properties[key]
		if !ok {
			groups = append(groups, &group{features: []model.Feature{f}, loose: true})
			continue
		}
		gk, ok := groupKey(v)
		if !ok {
			groups = append(groups, &group{features: []model.Feature{f}, loose: true})
			continue
		}
		g := byKey[gk]
		if g == nil {
			g = &group{value: v}
			byKey[gk] = g
			groups = append(groups, g)
		}
		g.features = append(g.features, f)
	}

	out := empty()
	for _, g := range groups {
		if !g.loose {
			merged, err := gis.Union(g.features...)
			if err == nil && merged != nil {
				merged.Properties = map[string]any{key: model.CloneValue(g.value)}
				out.Features = append(out.Features, *merged)
				continue
			}
		}
		for _, f := range g.features {
			out.Features = append(out.Features, f.Clone())
		}
	}
	return out
}

// groupKey is a type-tagged key so 1 and "1" land in different groups.
// Objects and arrays are never strictly equal, so they never group.
func groupKey(v any) (string, bool) {
	if n, ok := number(v); ok {
		return fmt.Sprintf("n:%v", n), true
	}
	switch t := v.(type) {
	case nil:
		return "null", true
	case string:
		b, _ := json.Marshal(t)
		return "s:" + string(b), true
	case bool:
		return fmt.Sprintf("b:%v", t), true
	}
	return "", false
}

// CreateHeatmapGrid bins points into H3 cells. cellSize is approximate: it is
// snapped to the H3 resolution whose mean edge length is closest on a log
// scale, so 2 km yields edges of about 1.4 km. Cells cover the points'
// bounding box and every point; each carries count and h3, sorted by cell index.
func CreateHeatmapGrid(points model.FeatureCollection, cellSize float64, units string) (model.FeatureCollection, error) {
	const op = "createHeatmapGrid"
	edge, err := gis.ToMeters(cellSize, units)
	if err != nil {
		return model.FeatureCollection{}, err
	}
	res, err := cells.ResolutionForEdge(edge)
	if err != nil {
		return model.FeatureCollection{}, &gis.GeometryError{Op: op, Reason: err.Error()}
	}
	if len(points.Features) == 0 {
		return empty(), nil
	}

	counts := map[string]int{}
	var pts []orb.Point
	for i, f := range points.Features {
		if err := gis.Validate(op, i, f.Geometry); err != nil {
			return model.FeatureCollection{}, err
		}
		switch g := f.Geometry.(type) {
		case orb.Point:
			pts = append(pts, g)
		case orb.MultiPoint:
			pts = append(pts, g...)
		default:
			return model.FeatureCollection{}, &gis.GeometryError{Op: op, Index: i, Reason: "expected Point geometry, got " + g.GeoJSONType()}
		}
	}
	for _, p := range pts {
		c, err := cells.CellForPoint(p, res)
		if err != nil {
			return model.FeatureCollection{}, fmt.Errorf("%s: %w", op, err)
		}
		counts[c]++
	}

	var covered []string
	if bb := orb.MultiPoint(pts).Bound(); bb.Min[0] < bb.Max[0] && bb.Min[1] < bb.Max[1] {
		covered, err = cells.CellsForBBox(model.BBox{West: bb.Min[0], South: bb.Min[1], East: bb.Max[0], North: bb.Max[1]}, res)
		if err != nil {
			return model.FeatureCollection{}, fmt.Errorf("%s: %w", op, err)
		}
	}
	if len(covered) > gis.MaxGridCells {
		return model.FeatureCollection{}, &gis.GeometryError{Op: op, Reason: fmt.Sprintf("grid would exceed %d cells", gis.MaxGridCells)}
	}
	all := make(map[string]struct{}, len(covered)+len(counts))
	for _, c := range covered {
		all[c] = struct{}{}
	}
	for c := range counts {
		all[c] = struct{}{}
	}
	ids := make([]string, 0, len(all))
	for c := range all {
		ids = append(ids, c)
	}
	sort.Strings(ids)

	out := model.FeatureCollection{Features: make([]model.Feature, 0, len(ids))}
	for _, id := range ids {
		poly, err := cells.CellPolygon(id)
		if err != nil {
			return model.FeatureCollection{}, fmt.Errorf("%s: %w", op, err)
		}
		out.Features = append(out.Features, model.Feature{
			Geometry:   poly,
			Properties: map[string]any{"count": counts[id], "h3": id},
		})
	}
	return out, nil
}
