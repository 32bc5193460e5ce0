package sandbox

import (
	"github.com/dop251/goja"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/gis"
	"github.com/mohammed-shakir/geosandbox/internal/sitelens"
)

func (e *env) callable(name string, v goja.Value) goja.Callable {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		e.throwType("%s must be a function", name)
	}
	return fn
}

func (e *env) pointCoords(op string, v goja.Value) orb.Point {
	f := e.point(op, 0, v)
	p, ok := f.Geometry.(orb.Point)
	if !ok {
		e.throw(&gis.GeometryError{Op: op, Reason: "expected Point geometry, got " + f.Geometry.GeoJSONType()})
	}
	return p
}

func (x *execution) sitelensObject() *goja.Object {
	e := x.env
	ns := x.vm.NewObject()
	fns := map[string]native{
		"filterByProperty": func(c goja.FunctionCall) goja.Value {
			fc := e.collection("filterByProperty", 0, c.Argument(0))
			key := e.str("key", c.Argument(1))
			if goja.IsUndefined(c.Argument(2)) {
				// nothing is strictly equal to undefined
				return e.fromGo(model.FeatureCollection{Features: []model.Feature{}})
			}
			return e.fromGo(sitelens.FilterByProperty(fc, key, e.value(c.Argument(2))))
		},
		"filterByCondition": func(c goja.FunctionCall) goja.Value {
			fc := e.collection("filterByCondition", 0, c.Argument(0))
			pred := e.callable("predicate", c.Argument(1))
			return e.out(sitelens.FilterByCondition(fc, func(props map[string]any) (bool, error) {
				r, err := pred(goja.Undefined(), e.fromGo(props))
				if err != nil {
					return false, err
				}
				return r.ToBoolean(), nil
			}))
		},
		"uniqueValues": func(c goja.FunctionCall) goja.Value {
			fc := e.collection("uniqueValues", 0, c.Argument(0))
			return e.fromGo(sitelens.UniqueValues(fc, e.str("key", c.Argument(1))))
		},
		"statistics": func(c goja.FunctionCall) goja.Value {
			fc := e.collection("statistics", 0, c.Argument(0))
			return e.fromGo(sitelens.Statistics(fc, e.str("key", c.Argument(1))))
		},
		"addProperty": func(c goja.FunctionCall) goja.Value {
			fc := e.collection("addProperty", 0, c.Argument(0))
			key := e.str("key", c.Argument(1))
			fn, isFn := goja.AssertFunction(c.Argument(2))
			if !isFn {
				return e.fromGo(sitelens.AddProperty(fc, key, e.value(c.Argument(2))))
			}
			return e.out(sitelens.AddPropertyFunc(fc, key, func(f model.Feature) (any, error) {
				r, err := fn(goja.Undefined(), e.fromGo(f))
				if err != nil {
					return nil, err
				}
				return e.value(r), nil
			}))
		},
		"addAreaProperty": func(c goja.FunctionCall) goja.Value {
			fc := e.collection("addAreaProperty", 0, c.Argument(0))
			return e.out(sitelens.AddAreaProperty(fc, e.optionalStr("name", c.Argument(1))))
		},
		"addLengthProperty": func(c goja.FunctionCall) goja.Value {
			fc := e.collection("addLengthProperty", 0, c.Argument(0))
			return e.out(sitelens.AddLengthProperty(fc, e.optionalStr("name", c.Argument(1))))
		},
		"findNearby": func(c goja.FunctionCall) goja.Value {
			fc := e.collection("findNearby", 0, c.Argument(0))
			p := e.pointCoords("findNearby", c.Argument(1))
			return e.out(sitelens.FindNearby(fc, p, e.number("distance", c.Argument(2)), e.unitArg(c.Argument(3))))
		},
		"dissolveByProperty": func(c goja.FunctionCall) goja.Value {
			fc := e.collection("dissolveByProperty", 0, c.Argument(0))
			return e.fromGo(sitelens.DissolveByProperty(fc, e.str("key", c.Argument(1))))
		},
		"createHeatmapGrid": func(c goja.FunctionCall) goja.Value {
			pts := e.collection("createHeatmapGrid", 0, c.Argument(0))
			return e.out(sitelens.CreateHeatmapGrid(pts, e.number("cellSize", c.Argument(1)), e.unitArg(c.Argument(2))))
		},
	}
	for name, fn := range fns {
		_ = ns.Set(name, fn)
	}
	return ns
}

func (e *env) optionalStr(name string, v goja.Value) string {
	if missing(v) {
		return ""
	}
	return e.str(name, v)
}

func (x *execution) formatObject() *goja.Object {
	e := x.env
	ns := x.vm.NewObject()
	_ = ns.Set("area", func(c goja.FunctionCall) goja.Value {
		return e.vm.ToValue(sitelens.FormatArea(e.number("area", c.Argument(0))))
	})
	_ = ns.Set("length", func(c goja.FunctionCall) goja.Value {
		return e.vm.ToValue(sitelens.FormatLength(e.number("length", c.Argument(0))))
	})
	_ = ns.Set("coordinates", func(c goja.FunctionCall) goja.Value {
		return e.vm.ToValue(sitelens.FormatCoordinates(e.pointCoords("coordinates", c.Argument(0))))
	})
	return ns
}
