package h3mapper

import (
	"reflect"
	"sort"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

func TestBBox_HappyPath_SortedUnique(t *testing.T) {
	m := New()
	bb := model.BBox{West: 17.95, South: 59.30, East: 18.15, North: 59.40}

	cells, err := m.CellsForBBox(bb, 8)
	if err != nil {
		t.Fatalf("CellsForBBox err: %v", err)
	}
	if len(cells) == 0 {
		t.Fatalf("expected non-empty cells for bbox")
	}
	if !sort.StringsAreSorted(cells) {
		t.Fatalf("cells must be sorted")
	}
	if hasDups(cells) {
		t.Fatalf("cells must be de-duplicated")
	}
}

func TestBBox_Deterministic(t *testing.T) {
	m := New()
	bb := model.BBox{West: 18.00, South: 59.32, East: 18.12, North: 59.38}
	first, err := m.CellsForBBox(bb, 9)
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	second, err := m.CellsForBBox(bb, 9)
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical output for repeated calls")
	}
	wider, err := m.CellsForBBox(model.BBox{West: 17.95, South: 59.30, East: 18.15, North: 59.40}, 9)
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	if len(first) > len(wider) {
		t.Fatalf("inner bbox coverage larger than outer (%d > %d)", len(first), len(wider))
	}
}

func TestBounds_InvalidResolutionAndCell(t *testing.T) {
	m := New()
	bb := model.BBox{West: 11, South: 55, East: 12, North: 56}

	if _, err := m.CellsForBBox(bb, -1); err == nil {
		t.Fatalf("expected error for res=-1")
	}
	if _, err := m.CellsForBBox(bb, 16); err == nil {
		t.Fatalf("expected error for res=16")
	}
	if _, err := m.CellForPoint(orb.Point{0, 0}, 16); err == nil {
		t.Fatalf("expected error for res=16 point")
	}
	if _, err := m.CellPolygon("not-a-cell"); err == nil {
		t.Fatalf("expected error for invalid cell")
	}
}

func TestResolutionForEdge(t *testing.T) {
	m := New()
	cases := map[float64]int{1281256: 0, 530: 8, 200: 9, 0.6: 15, 1e9: 0, 0.001: 15}
	for meters, want := range cases {
		got, err := m.ResolutionForEdge(meters)
		if err != nil {
			t.Fatalf("ResolutionForEdge(%v): %v", meters, err)
		}
		if got != want {
			t.Fatalf("ResolutionForEdge(%v)=%d, want %d", meters, got, want)
		}
	}
	if _, err := m.ResolutionForEdge(0); err == nil {
		t.Fatalf("expected error for zero edge")
	}
}

func TestCellForPoint_PolygonContainsPoint(t *testing.T) {
	m := New()
	p := orb.Point{18.0686, 59.3293}
	cell, err := m.CellForPoint(p, 8)
	if err != nil {
		t.Fatalf("CellForPoint: %v", err)
	}
	poly, err := m.CellPolygon(cell)
	if err != nil {
		t.Fatalf("CellPolygon: %v", err)
	}
	r := poly[0]
	if len(r) < 7 || r[0] != r[len(r)-1] {
		t.Fatalf("cell ring not closed hexagon: %v", r)
	}
	if !poly.Bound().Contains(p) {
		t.Fatalf("cell bound %v does not contain %v", poly.Bound(), p)
	}
}

func hasDups(s []string) bool {
	seen := map[string]struct{}{}
	for _, v := range s {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}
