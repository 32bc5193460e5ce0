package sandbox

import (
	"github.com/dop251/goja"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/gis"
)

type native = func(goja.FunctionCall) goja.Value

func (e *env) check(err error) {
	if err != nil {
		e.throw(err)
	}
}

func (e *env) num(v float64, err error) goja.Value {
	e.check(err)
	return e.vm.ToValue(v)
}

func (e *env) boolean(v bool, err error) goja.Value {
	e.check(err)
	return e.vm.ToValue(v)
}

func (e *env) out(v any, err error) goja.Value {
	e.check(err)
	return e.fromGo(v)
}

// geojson decodes any GeoJSON argument, remembering whether it was a collection.
func (e *env) geojson(op string, v goja.Value) ([]model.Feature, bool) {
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Array" {
		return e.collection(op, 0, v).Features, true
	}
	b, ok := e.mustJSON(v)
	if !ok || string(b) == "null" {
		e.throw(&gis.GeometryError{Op: op, Reason: "missing feature"})
	}
	fs, kind, err := model.DecodeGeoJSON(b)
	if err != nil {
		e.throw(&gis.GeometryError{Op: op, Reason: err.Error()})
	}
	return fs, kind == model.GeoJSONFeatureCollection
}

// overridden applies options.properties when given.
func overridden(f model.Feature, props map[string]any) model.Feature {
	if props != nil {
		f.Properties = props
	}
	return f
}

func (x *execution) gisObject() *goja.Object {
	e := x.env
	ns := x.vm.NewObject()
	fns := map[string]native{
		// measurement
		"area": func(c goja.FunctionCall) goja.Value {
			return e.num(gis.Area(e.feature("area", 0, c.Argument(0))))
		},
		"length": func(c goja.FunctionCall) goja.Value {
			f := e.feature("length", 0, c.Argument(0))
			return e.num(gis.Length(f, e.options(c.Argument(1)).units()))
		},
		"distance": func(c goja.FunctionCall) goja.Value {
			a, b := e.point("distance", 0, c.Argument(0)), e.point("distance", 1, c.Argument(1))
			return e.num(gis.Distance(a, b, e.options(c.Argument(2)).units()))
		},
		"bearing": func(c goja.FunctionCall) goja.Value {
			return e.num(gis.Bearing(e.point("bearing", 0, c.Argument(0)), e.point("bearing", 1, c.Argument(1))))
		},
		"destination": func(c goja.FunctionCall) goja.Value {
			o := e.options(c.Argument(3))
			origin := e.point("destination", 0, c.Argument(0))
			return e.out(gis.Destination(origin, e.number("distance", c.Argument(1)), e.number("bearing", c.Argument(2)), o.units(), o.props()))
		},
		"along": func(c goja.FunctionCall) goja.Value {
			line := e.feature("along", 0, c.Argument(0))
			return e.out(gis.Along(line, e.number("distance", c.Argument(1)), e.options(c.Argument(2)).units()))
		},
		"midpoint": func(c goja.FunctionCall) goja.Value {
			return e.out(gis.Midpoint(e.point("midpoint", 0, c.Argument(0)), e.point("midpoint", 1, c.Argument(1))))
		},
		"centroid": func(c goja.FunctionCall) goja.Value {
			f, err := gis.Centroid(e.feature("centroid", 0, c.Argument(0)))
			return e.out(overridden(f, e.options(c.Argument(1)).props()), err)
		},
		"centerOfMass": func(c goja.FunctionCall) goja.Value {
			f, err := gis.CenterOfMass(e.feature("centerOfMass", 0, c.Argument(0)))
			return e.out(overridden(f, e.options(c.Argument(1)).props()), err)
		},
		"center": func(c goja.FunctionCall) goja.Value {
			fs, _ := e.geojson("center", c.Argument(0))
			f, err := gis.Center(fs)
			return e.out(overridden(f, e.options(c.Argument(1)).props()), err)
		},
		"circle": func(c goja.FunctionCall) goja.Value {
			o := e.options(c.Argument(2))
			center := e.point("circle", 0, c.Argument(0))
			return e.out(gis.Circle(center, e.number("radius", c.Argument(1)), int(o.num("steps", 64)), o.units(), o.props()))
		},

		// transformation
		"buffer": func(c goja.FunctionCall) goja.Value {
			fs, isFC := e.geojson("buffer", c.Argument(0))
			dist := e.number("radius", c.Argument(1))
			o := e.options(c.Argument(2))
			steps := int(o.num("steps", 8)) * 4
			if !isFC {
				return e.out(gis.Buffer(fs[0], dist, o.units(), steps))
			}
			out := model.FeatureCollection{Features: []model.Feature{}}
			for i, f := range fs {
				b, err := gis.Buffer(f, dist, o.units(), steps)
				if ge, ok := gis.AsGeometryError(err); ok {
					ge.Index = i
				}
				e.check(err)
				if b != nil {
					out.Features = append(out.Features, *b)
				}
			}
			return e.fromGo(out)
		},
		"simplify": func(c goja.FunctionCall) goja.Value {
			fs, isFC := e.geojson("simplify", c.Argument(0))
			tol := e.options(c.Argument(1)).num("tolerance", 1)
			out := model.FeatureCollection{Features: make([]model.Feature, 0, len(fs))}
			for i, f := range fs {
				s, err := gis.Simplify(f, tol)
				if ge, ok := gis.AsGeometryError(err); ok {
					ge.Index = i
				}
				e.check(err)
				out.Features = append(out.Features, s)
			}
			if !isFC {
				return e.fromGo(out.Features[0])
			}
			return e.fromGo(out)
		},
		"union": func(c goja.FunctionCall) goja.Value {
			return e.out(gis.Union(e.featureArgs("union", c.Arguments)...))
		},
		"intersect": func(c goja.FunctionCall) goja.Value {
			a, b := e.pair("intersect", c.Arguments)
			return e.out(gis.Intersect(a, b))
		},
		"difference": func(c goja.FunctionCall) goja.Value {
			a, b := e.pair("difference", c.Arguments)
			return e.out(gis.Difference(a, b))
		},
		"convex": func(c goja.FunctionCall) goja.Value {
			fs, _ := e.geojson("convex", c.Argument(0))
			return e.out(gis.Convex(fs))
		},

		// predicates
		"booleanContains":   e.predicate("booleanContains", gis.BooleanContains),
		"booleanCrosses":    e.predicate("booleanCrosses", gis.BooleanCrosses),
		"booleanDisjoint":   e.predicate("booleanDisjoint", gis.BooleanDisjoint),
		"booleanEqual":      e.predicate("booleanEqual", gis.BooleanEqual),
		"booleanIntersects": e.predicate("booleanIntersects", gis.BooleanIntersects),
		"booleanOverlap":    e.predicate("booleanOverlap", gis.BooleanOverlap),
		"booleanWithin":     e.predicate("booleanWithin", gis.BooleanWithin),
		"booleanPointInPolygon": func(c goja.FunctionCall) goja.Value {
			p := e.point("booleanPointInPolygon", 0, c.Argument(0))
			poly := e.feature("booleanPointInPolygon", 1, c.Argument(1))
			return e.boolean(gis.BooleanPointInPolygon(p, poly, e.options(c.Argument(2)).boolean("ignoreBoundary")))
		},
		"booleanPointOnLine": func(c goja.FunctionCall) goja.Value {
			p := e.point("booleanPointOnLine", 0, c.Argument(0))
			line := e.feature("booleanPointOnLine", 1, c.Argument(1))
			o := e.options(c.Argument(2))
			return e.boolean(gis.BooleanPointOnLine(p, line, o.boolean("ignoreEndVertices"), o.num("epsilon", 0)))
		},

		// constructors
		"point": func(c goja.FunctionCall) goja.Value {
			var coords []float64
			e.decode("point", 0, c.Argument(0), &coords)
			return e.out(gis.Point(coords, e.props(c.Argument(1))))
		},
		"multiPoint": func(c goja.FunctionCall) goja.Value {
			var coords [][]float64
			e.decode("multiPoint", 0, c.Argument(0), &coords)
			return e.out(gis.MultiPoint(coords, e.props(c.Argument(1))))
		},
		"lineString": func(c goja.FunctionCall) goja.Value {
			var coords [][]float64
			e.decode("lineString", 0, c.Argument(0), &coords)
			return e.out(gis.LineString(coords, e.props(c.Argument(1))))
		},
		"multiLineString": func(c goja.FunctionCall) goja.Value {
			var coords [][][]float64
			e.decode("multiLineString", 0, c.Argument(0), &coords)
			return e.out(gis.MultiLineString(coords, e.props(c.Argument(1))))
		},
		"polygon": func(c goja.FunctionCall) goja.Value {
			var coords [][][]float64
			e.decode("polygon", 0, c.Argument(0), &coords)
			return e.out(gis.Polygon(coords, e.props(c.Argument(1))))
		},
		"multiPolygon": func(c goja.FunctionCall) goja.Value {
			var coords [][][][]float64
			e.decode("multiPolygon", 0, c.Argument(0), &coords)
			return e.out(gis.MultiPolygon(coords, e.props(c.Argument(1))))
		},
		"feature": func(c goja.FunctionCall) goja.Value {
			f := e.feature("feature", 0, c.Argument(0))
			if err := gis.Validate("feature", 0, f.Geometry); err != nil {
				e.throw(err)
			}
			return e.fromGo(gis.NewFeature(f.Geometry, e.props(c.Argument(1))))
		},
		"featureCollection": func(c goja.FunctionCall) goja.Value {
			return e.fromGo(gis.NewFeatureCollection(e.collection("featureCollection", 0, c.Argument(0)).Features))
		},

		// grids
		"hexGrid":      e.grid("hexGrid", gis.HexGrid),
		"squareGrid":   e.grid("squareGrid", gis.SquareGrid),
		"triangleGrid": e.grid("triangleGrid", gis.TriangleGrid),
		"pointGrid":    e.grid("pointGrid", gis.PointGrid),

		// classification
		"nearestPoint": func(c goja.FunctionCall) goja.Value {
			target := e.point("nearestPoint", 0, c.Argument(0))
			return e.out(gis.NearestPoint(target, e.collection("nearestPoint", 1, c.Argument(1))))
		},
		"pointsWithinPolygon": func(c goja.FunctionCall) goja.Value {
			pts := e.collection("pointsWithinPolygon", 0, c.Argument(0))
			polys := e.collection("pointsWithinPolygon", 1, c.Argument(1))
			return e.out(gis.PointsWithinPolygon(pts, polys))
		},

		// aggregation
		"bbox": func(c goja.FunctionCall) goja.Value {
			fs, _ := e.geojson("bbox", c.Argument(0))
			return e.out(gis.BBoxOf("bbox", fs))
		},
		"envelope": func(c goja.FunctionCall) goja.Value {
			fs, _ := e.geojson("envelope", c.Argument(0))
			return e.out(gis.Envelope(fs))
		},
		"bboxPolygon": func(c goja.FunctionCall) goja.Value {
			bb := e.bbox("bboxPolygon", c.Argument(0))
			return e.out(gis.BBoxPolygon(bb, e.options(c.Argument(1)).props()))
		},

		// units
		"convertLength": func(c goja.FunctionCall) goja.Value {
			return e.num(gis.ConvertLength(e.number("length", c.Argument(0)), e.unitArg(c.Argument(1)), e.unitArg(c.Argument(2))))
		},
		"convertArea": func(c goja.FunctionCall) goja.Value {
			return e.num(gis.ConvertArea(e.number("area", c.Argument(0)), e.unitArg(c.Argument(1)), e.unitArg(c.Argument(2))))
		},
		"lengthToDegrees": func(c goja.FunctionCall) goja.Value {
			return e.num(gis.LengthToDegrees(e.number("distance", c.Argument(0)), e.unitArg(c.Argument(1))))
		},
		"degreesToLength": func(c goja.FunctionCall) goja.Value {
			return e.num(gis.DegreesToLength(e.number("degrees", c.Argument(0)), e.unitArg(c.Argument(1))))
		},
	}
	for name, fn := range fns {
		_ = ns.Set(name, fn)
	}
	return ns
}

func (e *env) unitArg(v goja.Value) string {
	if missing(v) {
		return gis.DefaultUnits
	}
	return e.str("units", v)
}

// pair reads f(a, b) or f(collectionOfTwo).
func (e *env) pair(op string, args []goja.Value) (model.Feature, model.Feature) {
	fs := e.featureArgs(op, args)
	if len(fs) != 2 {
		e.throw(&gis.GeometryError{Op: op, Reason: "expected exactly two features"})
	}
	return fs[0], fs[1]
}

func (e *env) predicate(op string, fn func(a, b model.Feature) (bool, error)) native {
	return func(c goja.FunctionCall) goja.Value {
		a := e.feature(op, 0, c.Argument(0))
		b := e.feature(op, 1, c.Argument(1))
		return e.boolean(fn(a, b))
	}
}

type gridFunc func(bb [4]float64, cellSide float64, units string, props map[string]any) (model.FeatureCollection, error)

func (e *env) grid(op string, fn gridFunc) native {
	return func(c goja.FunctionCall) goja.Value {
		bb := e.bbox(op, c.Argument(0))
		side := e.number("cellSide", c.Argument(1))
		o := e.options(c.Argument(2))
		return e.out(fn(bb, side, o.units(), o.props()))
	}
}
