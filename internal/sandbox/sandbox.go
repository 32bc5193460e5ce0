// Package sandbox runs user analysis scripts in an isolated goja runtime.
//
// Each execution gets a fresh runtime whose only reachable names are the
// bound capability objects. Scripts are bounded in time, output size and log
// volume, and every execution ends in exactly one model.ExecutionResult.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dop251/goja"
	jsast "github.com/dop251/goja/ast"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

type State int

const (
	Idle State = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	Timeout          time.Duration
	MaxLogEntries    int
	MaxOutputBytes   int
	MaxScriptBytes   int
	MaxCallStack     int
	ProgramCacheSize int
	Logger           *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Timeout:          5 * time.Second,
		MaxLogEntries:    1000,
		MaxOutputBytes:   8 << 20,
		MaxScriptBytes:   256 << 10,
		MaxCallStack:     1024,
		ProgramCacheSize: 128,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxLogEntries <= 0 {
		o.MaxLogEntries = d.MaxLogEntries
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = d.MaxOutputBytes
	}
	if o.MaxScriptBytes <= 0 {
		o.MaxScriptBytes = d.MaxScriptBytes
	}
	if o.MaxCallStack <= 0 {
		o.MaxCallStack = d.MaxCallStack
	}
	if o.ProgramCacheSize <= 0 {
		o.ProgramCacheSize = d.ProgramCacheSize
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// bindingNames are the only parameters of the wrapper function, in call order.
var bindingNames = []string{"console", "gis", "sitelens", "format", "layers", "selectedFeatures", "mapBounds", "getLayer"}

type interruptReason string

const (
	reasonTimeout interruptReason = "timeout"
	reasonCancel  interruptReason = "cancel"
)

type Sandbox struct {
	opts     Options
	programs *lru.Cache[uint64, *goja.Program]
	startNow func() time.Time

	mu    sync.Mutex
	state State
	vm    *goja.Runtime
}

func New(opts Options) (*Sandbox, error) {
	opts = opts.withDefaults()
	cache, err := lru.New[uint64, *goja.Program](opts.ProgramCacheSize)
	if err != nil {
		return nil, fmt.Errorf("sandbox: program cache: %w", err)
	}
	return &Sandbox{opts: opts, programs: cache, startNow: time.Now}, nil
}

func (s *Sandbox) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cancel interrupts the running script. It is a no-op when nothing runs.
func (s *Sandbox) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running || s.vm == nil {
		return false
	}
	s.vm.Interrupt(reasonCancel)
	return true
}

// Execute runs script against ectx. A call made while another execution is
// running fails immediately with KindRejected and leaves the running one alone.
func (s *Sandbox) Execute(ctx context.Context, script string, ectx model.ExecutionContext) model.ExecutionResult {
	start := s.startNow()
	vm := goja.New()

	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return model.Failed(model.KindRejected, "an execution is already running", 0)
	}
	s.state = Running
	s.vm = vm
	s.mu.Unlock()

	run := &execution{sandbox: s, vm: vm, maxLogs: s.opts.MaxLogEntries}
	res := run.do(ctx, script, ectx)
	res.Duration = s.startNow().Sub(start)

	final := Completed
	switch res.Kind() {
	case "":
	case model.KindCancelled:
		final = Cancelled
	default:
		final = Failed
	}
	s.mu.Lock()
	s.state = final
	s.vm = nil
	s.mu.Unlock()

	s.opts.Logger.DebugContext(ctx, "sandbox execution finished",
		"status", string(res.Status),
		"kind", string(res.Kind()),
		"logs", len(res.Logs),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res
}

func (s *Sandbox) program(script string) (*goja.Program, error) {
	key := xxhash.Sum64String(script)
	if p, ok := s.programs.Get(key); ok {
		return p, nil
	}
	src := "(function(" + strings.Join(bindingNames, ", ") + ") {\n" + script + "\n})"
	parsed, err := goja.Parse("script.js", src)
	if err != nil {
		return nil, err
	}
	if !singleFunction(parsed) {
		return nil, errUnbalancedBody
	}
	p, err := goja.CompileAST(parsed, true)
	if err != nil {
		return nil, err
	}
	s.programs.Add(key, p)
	return p, nil
}

var errUnbalancedBody = &goja.CompilerSyntaxError{CompilerError: goja.CompilerError{
	Message: "script body closes its enclosing function",
}}

// singleFunction reports whether the wrapped source parsed to exactly the
// wrapper function literal, so a script cannot close the wrapper early and
// run statements outside it.
func singleFunction(prg *jsast.Program) bool {
	if len(prg.Body) != 1 {
		return false
	}
	st, ok := prg.Body[0].(*jsast.ExpressionStatement)
	if !ok {
		return false
	}
	_, ok = st.Expression.(*jsast.FunctionLiteral)
	return ok
}

// execution is the state of one run on one runtime.
type execution struct {
	sandbox *Sandbox
	vm      *goja.Runtime
	env     *env

	logMu     sync.Mutex
	logs      []model.LogEntry
	truncated bool
	maxLogs   int
}

func (x *execution) snapshotLogs() ([]model.LogEntry, bool) {
	x.logMu.Lock()
	defer x.logMu.Unlock()
	out := make([]model.LogEntry, len(x.logs))
	copy(out, x.logs)
	return out, x.truncated
}

func (x *execution) fail(kind model.ErrorKind, msg string) model.ExecutionResult {
	return x.failErr(&model.ExecutionError{Kind: kind, Message: msg})
}

func (x *execution) failErr(e *model.ExecutionError) model.ExecutionResult {
	logs, truncated := x.snapshotLogs()
	r := model.Failure(e, logs, 0)
	r.LogsTruncated = truncated
	return r
}

func (x *execution) do(ctx context.Context, script string, ectx model.ExecutionContext) (res model.ExecutionResult) {
	opts := x.sandbox.opts
	defer func() {
		if p := recover(); p != nil {
			opts.Logger.ErrorContext(ctx, "sandbox binding panicked", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			res = x.fail(model.KindRuntime, fmt.Sprintf("internal error: %v", p))
		}
	}()

	if len(script) > opts.MaxScriptBytes {
		return x.fail(model.KindRuntime, fmt.Sprintf("script exceeds %d bytes", opts.MaxScriptBytes))
	}
	if err := ctx.Err(); err != nil {
		return x.fail(model.KindCancelled, "execution cancelled before start")
	}

	x.vm.SetMaxCallStackSize(opts.MaxCallStack)
	env, err := newEnv(x.vm)
	if err != nil {
		return x.fail(model.KindRuntime, err.Error())
	}
	x.env = env

	prog, err := x.sandbox.program(script)
	if err != nil {
		return x.fail(model.KindRuntime, compileMessage(err))
	}

	timer := time.AfterFunc(opts.Timeout, func() { x.vm.Interrupt(reasonTimeout) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { x.vm.Interrupt(reasonCancel) })
	defer stop()

	args, err := x.bindings(ectx)
	if err != nil {
		return x.classify(err)
	}
	fnVal, err := x.vm.RunProgram(prog)
	if err != nil {
		return x.classify(err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return x.fail(model.KindRuntime, "script did not compile to a function")
	}
	ret, err := fn(goja.Undefined(), args...)
	if err != nil {
		return x.classify(err)
	}

	if p, ok := ret.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			ret = p.Result()
		case goja.PromiseStateRejected:
			return x.classify(&thrown{val: p.Result()})
		default:
			return x.fail(model.KindRuntime, "script returned a promise that never settled")
		}
	}

	out, err := env.stringifyOutput(ret)
	if err != nil {
		return x.classify(err)
	}
	if len(out) > opts.MaxOutputBytes {
		return x.fail(model.KindRuntime, fmt.Sprintf("output exceeds %d bytes", opts.MaxOutputBytes))
	}
	logs, truncated := x.snapshotLogs()
	r := model.Success(out, logs, 0)
	r.LogsTruncated = truncated
	return r
}

// thrown carries a rejected promise value through the same path as exceptions.
type thrown struct{ val goja.Value }

func (t *thrown) Error() string { return t.val.String() }

func (x *execution) classify(err error) model.ExecutionResult {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		switch ie.Value() {
		case reasonTimeout:
			return x.fail(model.KindTimeout, fmt.Sprintf("script exceeded %s", x.sandbox.opts.Timeout))
		case reasonCancel:
			return x.fail(model.KindCancelled, "execution cancelled")
		}
		return x.fail(model.KindRuntime, ie.Error())
	}
	var val goja.Value
	var ex *goja.Exception
	var th *thrown
	switch {
	case errors.As(err, &ex):
		val = ex.Value()
	case errors.As(err, &th):
		val = th.val
	default:
		return x.fail(model.KindRuntime, err.Error())
	}
	return x.failErr(x.env.describe(val))
}

func compileMessage(err error) string {
	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) {
		return se.Error()
	}
	return err.Error()
}
