// Package sitelens holds the composite helpers scripts call through the
// sitelens binding. They are built on package gis, never mutate their inputs
// and return fresh collections.
package sitelens

import (
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/gis"
)

// Stats summarizes the numeric values of one property.
type Stats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

func empty() model.FeatureCollection {
	return model.FeatureCollection{Features: []model.Feature{}}
}

// FilterByProperty keeps features whose property key strictly equals value.
func FilterByProperty(fc model.FeatureCollection, key string, value any) model.FeatureCollection {
	out := empty()
	for _, f := range fc.Features {
		v, ok := f.Properties[key]
		if ok && StrictEqual(v, value) {
			out.Features = append(out.Features, f.Clone())
		}
	}
	return out
}

// FilterByCondition keeps features for which pred returns true. The predicate
// sees a copy of the properties; its first error aborts the filter.
func FilterByCondition(fc model.FeatureCollection, pred func(props map[string]any) (bool, error)) (model.FeatureCollection, error) {
	out := empty()
	for _, f := range fc.Features {
		keep, err := pred(model.CloneProperties(f.Properties))
		if err != nil {
			return model.FeatureCollection{}, err
		}
		if keep {
			out.Features = append(out.Features, f.Clone())
		}
	}
	return out, nil
}

// UniqueValues lists distinct values of key in first-seen order.
func UniqueValues(fc model.FeatureCollection, key string) []any {
	out := []any{}
	for _, f := range fc.Features {
		v, ok := f.Properties[key]
		if !ok {
			continue
		}
		dup := false
		for _, seen := range out {
			if StrictEqual(seen, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, model.CloneValue(v))
		}
	}
	return out
}

func Statistics(fc model.FeatureCollection, key string) Stats {
	var s Stats
	for _, f := range fc.Features {
		n, ok := number(f.Properties[key])
		if !ok {
			continue
		}
		if s.Count == 0 || n < s.Min {
			s.Min = n
		}
		if s.Count == 0 || n > s.Max {
			s.Max = n
		}
		s.Sum += n
		s.Count++
	}
	if s.Count > 0 {
		s.Mean = s.Sum / float64(s.Count)
	}
	return s
}

func AddProperty(fc model.FeatureCollection, key string, value any) model.FeatureCollection {
	out := fc.Clone()
	for i := range out.Features {
		setProp(&out.Features[i], key, model.CloneValue(value))
	}
	return out
}

// AddPropertyFunc sets key to fn(feature); fn receives a copy.
func AddPropertyFunc(fc model.FeatureCollection, key string, fn func(model.Feature) (any, error)) (model.FeatureCollection, error) {
	out := fc.Clone()
	for i := range out.Features {
		v, err := fn(out.Features[i].Clone())
		if err != nil {
			return model.FeatureCollection{}, err
		}
		setProp(&out.Features[i], key, v)
	}
	return out, nil
}

// AddAreaProperty stores each feature's area in m² under name ("area" if empty).
// Features without geometry, or with non-areal geometry, get 0.
func AddAreaProperty(fc model.FeatureCollection, name string) (model.FeatureCollection, error) {
	if name == "" {
		name = "area"
	}
	return addMeasure(fc, name, func(f model.Feature) (float64, error) {
		if f.Geometry == nil {
			return 0, nil
		}
		return gis.Area(f)
	})
}

// AddLengthProperty stores each feature's length in meters under name ("length" if empty).
// Only LineString and MultiLineString are measured; everything else gets 0.
func AddLengthProperty(fc model.FeatureCollection, name string) (model.FeatureCollection, error) {
	if name == "" {
		name = "length"
	}
	return addMeasure(fc, name, func(f model.Feature) (float64, error) {
		switch f.Geometry.(type) {
		case orb.LineString, orb.MultiLineString:
			return gis.Length(f, gis.DefaultUnits)
		}
		return 0, nil
	})
}

// addMeasure is AddPropertyFunc with geometry errors pointed at the
// feature's position in fc.
func addMeasure(fc model.FeatureCollection, name string, measure func(model.Feature) (float64, error)) (model.FeatureCollection, error) {
	out := fc.Clone()
	for i := range out.Features {
		v, err := measure(out.Features[i])
		if err != nil {
			if ge, ok := gis.AsGeometryError(err); ok {
				ge.Index = i
			}
			return model.FeatureCollection{}, err
		}
		setProp(&out.Features[i], name, v)
	}
	return out, nil
}

func setProp(f *model.Feature, key string, v any) {
	if f.Properties == nil {
		f.Properties = map[string]any{}
	}
	f.Properties[key] = v
}
