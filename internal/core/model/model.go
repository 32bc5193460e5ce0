// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"math"
)

// BBox is a viewport or extent in WGS84 degrees.
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// String representation matching wfs/wms bbox order
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.West, b.South, b.East, b.North)
}

// Array returns [west, south, east, north].
func (b BBox) Array() [4]float64 {
	return [4]float64{b.West, b.South, b.East, b.North}
}

func (b BBox) Validate() error {
	for _, v := range b.Array() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bbox contains non-finite value")
		}
	}
	if b.West < -180 || b.East > 180 || b.West > b.East {
		return fmt.Errorf("longitude must satisfy -180<=west<=east<=180 (got %v,%v)", b.West, b.East)
	}
	if b.South < -90 || b.North > 90 || b.South > b.North {
		return fmt.Errorf("latitude must satisfy -90<=south<=north<=90 (got %v,%v)", b.South, b.North)
	}
	return nil
}

// Layer is a named feature collection as seen by a script.
type Layer struct {
	ID   string            `json:"id"`
	Name string            `json:"name,omitempty"`
	Data FeatureCollection `json:"data"`
}

// ExecutionContext is the read-only snapshot handed to one script execution.
type ExecutionContext struct {
	Layers           []Layer   `json:"layers"`
	SelectedFeatures []Feature `json:"selectedFeatures"`
	MapBounds        *BBox     `json:"mapBounds,omitempty"`
}

type ExecutionRequest struct {
	Script  string           `json:"script"`
	Context ExecutionContext `json:"context"`
}
