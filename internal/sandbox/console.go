package sandbox

import (
	"encoding/json"

	"github.com/dop251/goja"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

func (x *execution) console() *goja.Object {
	c := x.vm.NewObject()
	for _, lvl := range []model.LogLevel{model.LevelLog, model.LevelInfo, model.LevelWarn, model.LevelError} {
		_ = c.Set(string(lvl), func(call goja.FunctionCall) goja.Value {
			x.log(lvl, call.Arguments)
			return goja.Undefined()
		})
	}
	return c
}

// log records one entry. Once MaxLogEntries is reached further entries are
// dropped and the result is marked truncated.
func (x *execution) log(level model.LogLevel, args []goja.Value) {
	x.logMu.Lock()
	full := len(x.logs) >= x.maxLogs
	if full {
		x.truncated = true
	}
	x.logMu.Unlock()
	if full {
		return
	}

	entry := model.LogEntry{Level: level, Args: make([]json.RawMessage, 0, len(args))}
	for _, a := range args {
		entry.Args = append(entry.Args, x.logArg(a))
	}
	x.logMu.Lock()
	x.logs = append(x.logs, entry)
	x.logMu.Unlock()
}

// logArg serializes like JSON.stringify and falls back to String(v) for
// values JSON cannot carry.
func (x *execution) logArg(v goja.Value) json.RawMessage {
	b, ok, err := x.env.toJSON(v)
	if err != nil {
		if isInterrupt(err) {
			x.env.throw(err)
		}
	} else if ok {
		return b
	}
	s := "undefined"
	if v != nil {
		s = v.String()
	}
	out, _ := json.Marshal(s)
	return out
}
