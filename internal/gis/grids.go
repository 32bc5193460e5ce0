package gis

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

// MaxGridCells bounds every grid generator.
const MaxGridCells = 100_000

type gridSpec struct {
	west, south, east, north float64
	cellW, cellH            float64 // degrees
}

// newGridSpec scales cellSide into degrees along the bbox edges.
func newGridSpec(op string, bb [4]float64, cellSide float64, units string, scale float64) (gridSpec, error) {
	if err := checkBBox(op, bb); err != nil {
		return gridSpec{}, err
	}
	side, err := ToMeters(cellSide, units)
	if err != nil {
		return gridSpec{}, err
	}
	if side <= 0 || !finite(side) {
		return gridSpec{}, geomErr(op, 0, "cell size must be positive (got %v)", cellSide)
	}
	g := gridSpec{west: bb[0], south: bb[1], east: bb[2], north: bb[3]}
	midY := (g.south + g.north) / 2
	midX := (g.west + g.east) / 2
	dx := geo.DistanceHaversine(orb.Point{g.west, midY}, orb.Point{g.east, midY})
	dy := geo.DistanceHaversine(orb.Point{midX, g.south}, orb.Point{midX, g.north})
	if dx == 0 || dy == 0 {
		return gridSpec{}, geomErr(op, 0, "bbox has zero width or height")
	}
	g.cellW = side * scale / dx * (g.east - g.west)
	g.cellH = side * scale / dy * (g.north - g.south)
	if est := ((g.east - g.west) / g.cellW) * ((g.north - g.south) / g.cellH); est > MaxGridCells {
		return gridSpec{}, geomErr(op, 0, "grid would exceed %d cells", MaxGridCells)
	}
	return g, nil
}

type cellSink struct {
	op    string
	props map[string]any
	out   []model.Feature
}

func (s *cellSink) add(g orb.Geometry) error {
	if len(s.out) >= MaxGridCells {
		return geomErr(s.op, 0, "grid would exceed %d cells", MaxGridCells)
	}
	s.out = append(s.out, NewFeature(g, s.props))
	return nil
}

func (s *cellSink) collection() model.FeatureCollection {
	return model.FeatureCollection{Features: s.out}
}

// SquareGrid fills bb with cellSide squares, centred so leftover space is split evenly.
func SquareGrid(bb [4]float64, cellSide float64, units string, props map[string]any) (model.FeatureCollection, error) {
	g, err := newGridSpec("squareGrid", bb, cellSide, units, 1)
	if err != nil {
		return model.FeatureCollection{}, err
	}
	cols := math.Floor((g.east - g.west) / g.cellW)
	rows := math.Floor((g.north - g.south) / g.cellH)
	dx := ((g.east - g.west) - cols*g.cellW) / 2
	dy := ((g.north - g.south) - rows*g.cellH) / 2
	sink := &cellSink{op: "squareGrid", props: props}
	for c := 0; c < int(cols); c++ {
		x := g.west + dx + float64(c)*g.cellW
		for r := 0; r < int(rows); r++ {
			y := g.south + dy + float64(r)*g.cellH
			ring := orb.Ring{{x, y}, {x, y + g.cellH}, {x + g.cellW, y + g.cellH}, {x + g.cellW, y}, {x, y}}
			if err := sink.add(orb.Polygon{ring}); err != nil {
				return model.FeatureCollection{}, err
			}
		}
	}
	return sink.collection(), nil
}

// PointGrid places points cellSide apart across bb.
func PointGrid(bb [4]float64, cellSide float64, units string, props map[string]any) (model.FeatureCollection, error) {
	g, err := newGridSpec("pointGrid", bb, cellSide, units, 1)
	if err != nil {
		return model.FeatureCollection{}, err
	}
	cols := math.Floor((g.east - g.west) / g.cellW)
	rows := math.Floor((g.north - g.south) / g.cellH)
	dx := ((g.east - g.west) - cols*g.cellW) / 2
	dy := ((g.north - g.south) - rows*g.cellH) / 2
	sink := &cellSink{op: "pointGrid", props: props}
	for c := 0; c <= int(cols); c++ {
		x := g.west + dx + float64(c)*g.cellW
		for r := 0; r <= int(rows); r++ {
			if err := sink.add(orb.Point{x, g.south + dy + float64(r)*g.cellH}); err != nil {
				return model.FeatureCollection{}, err
			}
		}
	}
	return sink.collection(), nil
}

// TriangleGrid splits each square cell into two triangles, alternating the
// diagonal so neighbouring cells tessellate.
func TriangleGrid(bb [4]float64, cellSide float64, units string, props map[string]any) (model.FeatureCollection, error) {
	g, err := newGridSpec("triangleGrid", bb, cellSide, units, 1)
	if err != nil {
		return model.FeatureCollection{}, err
	}
	sink := &cellSink{op: "triangleGrid", props: props}
	w, h := g.cellW, g.cellH
	for xi, x := 0, g.west; x+w <= g.east+1e-12; xi, x = xi+1, x+w {
		for yi, y := 0, g.south; y+h <= g.north+1e-12; yi, y = yi+1, y+h {
			sw, nw, ne, se := orb.Point{x, y}, orb.Point{x, y + h}, orb.Point{x + w, y + h}, orb.Point{x + w, y}
			var t1, t2 orb.Ring
			if (xi+yi)%2 == 0 {
				t1 = orb.Ring{sw, nw, se, sw}
				t2 = orb.Ring{nw, ne, se, nw}
			} else {
				t1 = orb.Ring{sw, nw, ne, sw}
				t2 = orb.Ring{sw, ne, se, sw}
			}
			if err := sink.add(orb.Polygon{t1}); err != nil {
				return model.FeatureCollection{}, err
			}
			if err := sink.add(orb.Polygon{t2}); err != nil {
				return model.FeatureCollection{}, err
			}
		}
	}
	return sink.collection(), nil
}

// HexGrid lays flat-topped hexagons with circumradius cellSide over bb.
// Odd columns are shifted half a hexagon down.
func HexGrid(bb [4]float64, cellSide float64, units string, props map[string]any) (model.FeatureCollection, error) {
	g, err := newGridSpec("hexGrid", bb, cellSide, units, 2)
	if err != nil {
		return model.FeatureCollection{}, err
	}
	rx, ry := g.cellW/2, g.cellH/2
	hexW := g.cellW
	hexH := math.Sqrt(3) / 2 * g.cellH
	boxW, boxH := g.east-g.west, g.north-g.south
	xStep := 0.75 * hexW

	cols := int(math.Floor((boxW-hexW)/(hexW-rx/2))) + 1
	rows := int(math.Floor((boxH-hexH)/hexH)) + 1
	if cols < 1 || rows < 1 {
		return model.FeatureCollection{Features: []model.Feature{}}, nil
	}
	usedW := float64(cols-1)*xStep + hexW
	usedH := float64(rows) * hexH
	x0 := g.west + (boxW-usedW)/2 + rx
	y0 := g.south + (boxH-usedH)/2 + hexH/2

	var cos, sin [6]float64
	for i := 0; i < 6; i++ {
		a := math.Pi / 3 * float64(i)
		cos[i], sin[i] = math.Cos(a), math.Sin(a)
	}
	sink := &cellSink{op: "hexGrid", props: props}
	for c := 0; c < cols; c++ {
		cx := x0 + float64(c)*xStep
		for r := 0; r < rows; r++ {
			cy := y0 + float64(r)*hexH
			if c%2 == 1 {
				cy -= hexH / 2
				if r == 0 {
					continue
				}
			}
			ring := make(orb.Ring, 0, 7)
			for i := 0; i < 6; i++ {
				ring = append(ring, orb.Point{cx + rx*cos[i], cy + ry*sin[i]})
			}
			ring = append(ring, ring[0])
			if err := sink.add(orb.Polygon{ring}); err != nil {
				return model.FeatureCollection{}, err
			}
		}
	}
	return sink.collection(), nil
}
