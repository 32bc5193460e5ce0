package layerstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/gis"
)

var ErrInvalidOutput = errors.New("script output is not an adoptable layer")

const DefaultMaxFeatures = 50_000

// Limits bound what Adopt accepts.
type Limits struct {
	MaxFeatures int
}

// Adopt turns an untrusted script output into a Record. The output must be a
// FeatureCollection or Feature whose geometries all pass gis.Validate and
// whose property keys are non-empty.
func Adopt(output json.RawMessage, name string, style map[string]any, lim Limits) (Record, error) {
	if lim.MaxFeatures <= 0 {
		lim.MaxFeatures = DefaultMaxFeatures
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Record{}, fmt.Errorf("%w: layer name is required", ErrInvalidOutput)
	}
	fs, kind, err := model.DecodeGeoJSON(output)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if kind == model.GeoJSONGeometry {
		return Record{}, fmt.Errorf("%w: expected a Feature or FeatureCollection, got a bare geometry", ErrInvalidOutput)
	}
	if len(fs) > lim.MaxFeatures {
		return Record{}, fmt.Errorf("%w: %d features exceeds the limit of %d", ErrInvalidOutput, len(fs), lim.MaxFeatures)
	}
	for i, f := range fs {
		if err := gis.Validate("adopt", i, f.Geometry); err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
		}
		for k := range f.Properties {
			if strings.TrimSpace(k) == "" {
				return Record{}, fmt.Errorf("%w: feature %d has an empty property key", ErrInvalidOutput, i)
			}
		}
	}

	data := model.FeatureCollection{Features: fs}
	canon, err := json.Marshal(data)
	if err != nil {
		return Record{}, fmt.Errorf("encode layer: %w", err)
	}
	return Record{
		ID:        uuid.NewString(),
		Name:      name,
		Style:     model.CloneProperties(style),
		Data:      data,
		Hash:      fmt.Sprintf("%016x", xxhash.Sum64(canon)),
		CreatedAt: time.Now().UTC(),
	}, nil
}
