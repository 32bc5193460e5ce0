package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/gis"
)

// env converts values across the runtime boundary. All conversion goes through
// JSON so scripts never hold references to host memory.
type env struct {
	vm        *goja.Runtime
	parse     goja.Callable
	stringify goja.Callable
	errorCtor goja.Value
}

func newEnv(vm *goja.Runtime) (*env, error) {
	j := vm.Get("JSON").ToObject(vm)
	parse, ok := goja.AssertFunction(j.Get("parse"))
	if !ok {
		return nil, errors.New("runtime has no JSON.parse")
	}
	stringify, ok := goja.AssertFunction(j.Get("stringify"))
	if !ok {
		return nil, errors.New("runtime has no JSON.stringify")
	}
	return &env{vm: vm, parse: parse, stringify: stringify, errorCtor: vm.Get("Error")}, nil
}

// throw raises err inside the script and does not return.
func (e *env) throw(err error) {
	if ge, ok := gis.AsGeometryError(err); ok {
		panic(e.geometryError(ge))
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex.Value())
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		// re-arm so the interrupt cannot be swallowed by a script catch block
		e.vm.Interrupt(ie.Value())
	}
	panic(e.newError("Error", err.Error()))
}

func (e *env) throwType(format string, args ...any) {
	panic(e.vm.NewTypeError(append([]any{format}, args...)...))
}

func (e *env) newError(name, msg string) *goja.Object {
	obj, err := e.vm.New(e.errorCtor, e.vm.ToValue(msg))
	if err != nil {
		return e.vm.NewGoError(errors.New(msg))
	}
	_ = obj.Set("name", name)
	return obj
}

func (e *env) geometryError(ge *gis.GeometryError) *goja.Object {
	obj := e.newError("GeometryError", ge.Error())
	_ = obj.Set("operation", ge.Op)
	_ = obj.Set("featureIndex", ge.Index)
	return obj
}

// describe turns a thrown JS value into an ExecutionError.
func (e *env) describe(val goja.Value) *model.ExecutionError {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return &model.ExecutionError{Kind: model.KindRuntime, Message: fmt.Sprintf("script threw %v", val)}
	}
	obj, ok := val.(*goja.Object)
	if !ok {
		return &model.ExecutionError{Kind: model.KindRuntime, Message: val.String()}
	}
	name := strProp(obj, "name")
	msg := strProp(obj, "message")
	if name == "GeometryError" {
		ee := &model.ExecutionError{Kind: model.KindGeometry, Message: msg, Operation: strProp(obj, "operation")}
		if v := obj.Get("featureIndex"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			idx := int(v.ToInteger())
			ee.FeatureIndex = &idx
		}
		return ee
	}
	if msg == "" {
		msg = val.String()
	}
	return &model.ExecutionError{Kind: model.KindRuntime, Message: msg}
}

func strProp(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func missing(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// toJSON serializes v with the runtime's JSON.stringify. ok is false for
// values JSON cannot represent (undefined, functions).
func (e *env) toJSON(v goja.Value) (b []byte, ok bool, err error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, false, nil
	}
	r, err := e.stringify(goja.Undefined(), v)
	if err != nil {
		return nil, false, err
	}
	if goja.IsUndefined(r) {
		return nil, false, nil
	}
	return []byte(r.String()), true, nil
}

func (e *env) stringifyOutput(v goja.Value) (json.RawMessage, error) {
	b, ok, err := e.toJSON(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return json.RawMessage("null"), nil
	}
	return b, nil
}

// mustJSON is toJSON for use inside bindings; failures are thrown.
func (e *env) mustJSON(v goja.Value) ([]byte, bool) {
	b, ok, err := e.toJSON(v)
	if err != nil {
		e.throw(err)
	}
	return b, ok
}

func (e *env) fromJSON(b []byte) goja.Value {
	v, err := e.parse(goja.Undefined(), e.vm.ToValue(string(b)))
	if err != nil {
		e.throw(err)
	}
	return v
}

// fromGo hands a fresh JS copy of v to the script.
func (e *env) fromGo(v any) goja.Value {
	b, err := json.Marshal(v)
	if err != nil {
		e.throw(fmt.Errorf("encode result: %w", err))
	}
	return e.fromJSON(b)
}

// feature decodes a Feature or bare geometry argument.
func (e *env) feature(op string, idx int, v goja.Value) model.Feature {
	b, ok := e.mustJSON(v)
	if !ok || string(b) == "null" {
		e.throw(&gis.GeometryError{Op: op, Index: idx, Reason: "missing feature"})
	}
	fs, kind, err := model.DecodeGeoJSON(b)
	if err != nil {
		e.throw(&gis.GeometryError{Op: op, Index: idx, Reason: err.Error()})
	}
	if kind == model.GeoJSONFeatureCollection {
		e.throw(&gis.GeometryError{Op: op, Index: idx, Reason: "expected a Feature or geometry, got FeatureCollection"})
	}
	return fs[0]
}

// point accepts a [lon, lat] array or a Point feature/geometry.
func (e *env) point(op string, idx int, v goja.Value) model.Feature {
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Array" {
		var c []float64
		e.decode(op, idx, v, &c)
		f, err := gis.Point(c, nil)
		if err != nil {
			ge, _ := gis.AsGeometryError(err)
			if ge != nil {
				ge.Op, ge.Index = op, idx
			}
			e.throw(err)
		}
		return f
	}
	return e.feature(op, idx, v)
}

// collection accepts a FeatureCollection, a Feature, a geometry or an array of features.
func (e *env) collection(op string, idx int, v goja.Value) model.FeatureCollection {
	b, ok := e.mustJSON(v)
	if !ok || string(b) == "null" {
		e.throw(&gis.GeometryError{Op: op, Index: idx, Reason: "missing feature collection"})
	}
	if obj, isObj := v.(*goja.Object); isObj && obj.ClassName() == "Array" {
		var raws []json.RawMessage
		if err := json.Unmarshal(b, &raws); err != nil {
			e.throw(&gis.GeometryError{Op: op, Index: idx, Reason: err.Error()})
		}
		fc := model.FeatureCollection{Features: make([]model.Feature, 0, len(raws))}
		for i, raw := range raws {
			var f model.Feature
			if err := json.Unmarshal(raw, &f); err != nil {
				e.throw(&gis.GeometryError{Op: op, Index: i, Reason: err.Error()})
			}
			fc.Features = append(fc.Features, f)
		}
		return fc
	}
	fs, _, err := model.DecodeGeoJSON(b)
	if err != nil {
		e.throw(&gis.GeometryError{Op: op, Index: idx, Reason: err.Error()})
	}
	return model.FeatureCollection{Features: fs}
}

// featureArgs collects features from either f(a, b, ...) or f(collection).
func (e *env) featureArgs(op string, args []goja.Value) []model.Feature {
	if len(args) == 1 {
		return e.collection(op, 0, args[0]).Features
	}
	out := make([]model.Feature, 0, len(args))
	for i, a := range args {
		out = append(out, e.feature(op, i, a))
	}
	return out
}

func (e *env) decode(op string, idx int, v goja.Value, dst any) {
	b, ok := e.mustJSON(v)
	if !ok {
		e.throw(&gis.GeometryError{Op: op, Index: idx, Reason: "missing coordinates"})
	}
	if err := json.Unmarshal(b, dst); err != nil {
		e.throw(&gis.GeometryError{Op: op, Index: idx, Reason: "invalid coordinates: " + err.Error()})
	}
}

// value exports an arbitrary JS value as plain JSON data.
func (e *env) value(v goja.Value) any {
	b, ok := e.mustJSON(v)
	if !ok {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		e.throw(err)
	}
	return out
}

func (e *env) props(v goja.Value) map[string]any {
	if missing(v) {
		return nil
	}
	b, _ := e.mustJSON(v)
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		e.throwType("properties must be an object")
	}
	return out
}

func (e *env) number(name string, v goja.Value) float64 {
	switch v.Export().(type) {
	case int64, float64:
		return v.ToFloat()
	}
	e.throwType("%s must be a number", name)
	return 0
}

func (e *env) str(name string, v goja.Value) string {
	s, ok := v.Export().(string)
	if !ok {
		e.throwType("%s must be a string", name)
	}
	return s
}

func (e *env) bbox(op string, v goja.Value) [4]float64 {
	var bb []float64
	e.decode(op, 0, v, &bb)
	if len(bb) != 4 {
		e.throw(&gis.GeometryError{Op: op, Reason: fmt.Sprintf("bbox needs 4 numbers (got %d)", len(bb))})
	}
	return [4]float64{bb[0], bb[1], bb[2], bb[3]}
}

// options reads an optional trailing options object.
type options struct {
	e   *env
	obj *goja.Object
}

func (e *env) options(v goja.Value) options {
	if missing(v) {
		return options{e: e}
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		e.throwType("options must be an object")
	}
	return options{e: e, obj: obj}
}

func (o options) get(name string) goja.Value {
	if o.obj == nil {
		return nil
	}
	v := o.obj.Get(name)
	if missing(v) {
		return nil
	}
	return v
}

func (o options) str(name, def string) string {
	if v := o.get(name); v != nil {
		return o.e.str(name, v)
	}
	return def
}

func (o options) num(name string, def float64) float64 {
	if v := o.get(name); v != nil {
		return o.e.number(name, v)
	}
	return def
}

func (o options) boolean(name string) bool {
	if v := o.get(name); v != nil {
		return v.ToBoolean()
	}
	return false
}

func (o options) props() map[string]any {
	return o.e.props(o.get("properties"))
}

func (o options) units() string { return o.str("units", gis.DefaultUnits) }
