// Package mapper converts between geometries and H3 cells.
package mapper

import (
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

type Interface interface {
	ResolutionForEdge(meters float64) (int, error)
	CellsForBBox(bb model.BBox, res int) ([]string, error)
	CellForPoint(p orb.Point, res int) (string, error)
	CellPolygon(cell string) (orb.Polygon, error)
}
