package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

func isInterrupt(err error) bool {
	var ie *goja.InterruptedError
	return errors.As(err, &ie)
}

// parseGo converts v into a fresh JS value without throwing; used while the
// bindings are assembled, before any script code runs.
func (e *env) parseGo(v any) (goja.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return e.parse(goja.Undefined(), e.vm.ToValue(string(b)))
}

// bindings returns the wrapper arguments in bindingNames order.
func (x *execution) bindings(ectx model.ExecutionContext) ([]goja.Value, error) {
	layers := x.vm.NewObject()
	byKey := make(map[string]goja.Value, 2*len(ectx.Layers))
	define := func(key string, v goja.Value) error {
		if key == "" {
			return nil
		}
		byKey[key] = v
		return layers.DefineDataProperty(key, v, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_TRUE)
	}
	// names first so an id always wins a collision
	vals := make([]goja.Value, len(ectx.Layers))
	for i, l := range ectx.Layers {
		v, err := x.env.parseGo(l.Data)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.ID, err)
		}
		vals[i] = v
		if err := define(l.Name, v); err != nil {
			return nil, err
		}
	}
	for i, l := range ectx.Layers {
		if err := define(l.ID, vals[i]); err != nil {
			return nil, err
		}
	}

	selected := ectx.SelectedFeatures
	if selected == nil {
		selected = []model.Feature{}
	}
	sel, err := x.env.parseGo(selected)
	if err != nil {
		return nil, fmt.Errorf("selected features: %w", err)
	}
	bounds := goja.Null()
	if ectx.MapBounds != nil {
		if bounds, err = x.env.parseGo(ectx.MapBounds); err != nil {
			return nil, fmt.Errorf("map bounds: %w", err)
		}
	}

	getLayer := func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if missing(arg) {
			return goja.Null()
		}
		if v, ok := byKey[arg.String()]; ok {
			return v
		}
		return goja.Null()
	}

	return []goja.Value{
		x.console(),
		x.gisObject(),
		x.sitelensObject(),
		x.formatObject(),
		layers,
		sel,
		bounds,
		x.vm.ToValue(getLayer),
	}, nil
}
