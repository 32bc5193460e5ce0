package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is a geometry plus an open property map. A nil Geometry encodes as
// "geometry": null.
type Feature struct {
	ID         any
	Geometry   orb.Geometry
	Properties map[string]any
}

type FeatureCollection struct {
	Features []Feature
}

type featureDoc struct {
	Type       string            `json:"type"`
	ID         any               `json:"id,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties map[string]any    `json:"properties"`
}

func (f Feature) MarshalJSON() ([]byte, error) {
	doc := featureDoc{Type: "Feature", ID: f.ID, Properties: f.Properties}
	if f.Geometry != nil {
		doc.Geometry = geojson.NewGeometry(f.Geometry)
	}
	if doc.Properties == nil {
		doc.Properties = map[string]any{}
	}
	return json.Marshal(doc)
}

func (f *Feature) UnmarshalJSON(b []byte) error {
	var doc struct {
		Type       string          `json:"type"`
		ID         any             `json:"id"`
		Geometry   json.RawMessage `json:"geometry"`
		Properties map[string]any  `json:"properties"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse feature: %w", err)
	}
	if doc.Type != "Feature" {
		return fmt.Errorf(`feature type is %q (want "Feature")`, doc.Type)
	}
	g, err := decodeGeometry(doc.Geometry)
	if err != nil {
		return err
	}
	*f = Feature{ID: doc.ID, Geometry: g, Properties: doc.Properties}
	return nil
}

func (fc FeatureCollection) MarshalJSON() ([]byte, error) {
	feats := fc.Features
	if feats == nil {
		feats = []Feature{}
	}
	return json.Marshal(struct {
		Type     string    `json:"type"`
		Features []Feature `json:"features"`
	}{Type: "FeatureCollection", Features: feats})
}

func (fc *FeatureCollection) UnmarshalJSON(b []byte) error {
	var doc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse feature collection: %w", err)
	}
	if doc.Type != "FeatureCollection" {
		return fmt.Errorf(`type is %q (want "FeatureCollection")`, doc.Type)
	}
	out := make([]Feature, 0, len(doc.Features))
	for i, raw := range doc.Features {
		var f Feature
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		out = append(out, f)
	}
	fc.Features = out
	return nil
}

func decodeGeometry(raw json.RawMessage) (orb.Geometry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("parse geometry: %w", err)
	}
	return g.Geometry(), nil
}

// Clone returns a deep copy; properties are copied recursively.
func (f Feature) Clone() Feature {
	out := Feature{ID: f.ID, Properties: CloneProperties(f.Properties)}
	if f.Geometry != nil {
		out.Geometry = orb.Clone(f.Geometry)
	}
	return out
}

func (fc FeatureCollection) Clone() FeatureCollection {
	out := FeatureCollection{Features: make([]Feature, len(fc.Features))}
	for i := range fc.Features {
		out.Features[i] = fc.Features[i].Clone()
	}
	return out
}

func CloneProperties(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies JSON-shaped values (maps and slices).
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneProperties(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = CloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// GeoJSONKind tells which top-level GeoJSON object a document holds.
type GeoJSONKind int

const (
	GeoJSONGeometry GeoJSONKind = iota
	GeoJSONFeature
	GeoJSONFeatureCollection
)

var ErrNotGeoJSON = errors.New("not a GeoJSON object")

// DecodeGeoJSON accepts a Feature, FeatureCollection or bare geometry and
// returns its features. A bare geometry becomes a single property-less feature.
func DecodeGeoJSON(raw []byte) ([]Feature, GeoJSONKind, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrNotGeoJSON, err)
	}
	switch hdr.Type {
	case "FeatureCollection":
		var fc FeatureCollection
		if err := json.Unmarshal(raw, &fc); err != nil {
			return nil, 0, err
		}
		return fc.Features, GeoJSONFeatureCollection, nil
	case "Feature":
		var f Feature
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, 0, err
		}
		return []Feature{f}, GeoJSONFeature, nil
	case "Point", "MultiPoint", "LineString", "MultiLineString", "Polygon", "MultiPolygon", "GeometryCollection":
		g, err := decodeGeometry(raw)
		if err != nil {
			return nil, 0, err
		}
		return []Feature{{Geometry: g, Properties: map[string]any{}}}, GeoJSONGeometry, nil
	case "":
		return nil, 0, fmt.Errorf(`%w: missing "type"`, ErrNotGeoJSON)
	default:
		return nil, 0, fmt.Errorf("%w: unsupported type %q", ErrNotGeoJSON, hdr.Type)
	}
}
