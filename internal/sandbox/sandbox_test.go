package sandbox

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/gis"
	"github.com/mohammed-shakir/geosandbox/internal/sitelens"
)

func newTestSandbox(t *testing.T, opts Options) *Sandbox {
	t.Helper()
	sb, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sb
}

func testContext() model.ExecutionContext {
	return model.ExecutionContext{
		Layers: []model.Layer{{
			ID:   "l1",
			Name: "Parcels",
			Data: model.FeatureCollection{Features: []model.Feature{
				{Geometry: orb.Polygon{{{0, 0}, {0.001, 0}, {0.001, 0.001}, {0, 0.001}, {0, 0}}}, Properties: map[string]any{"zone": "R1", "value": 10.0}},
				{Geometry: orb.Point{0.0005, 0.0005}, Properties: map[string]any{"zone": "C2", "value": 30.0}},
			}},
		}},
		SelectedFeatures: []model.Feature{{Geometry: orb.Point{1, 2}, Properties: map[string]any{}}},
		MapBounds:        &model.BBox{West: -1, South: -1, East: 1, North: 1},
	}
}

func run(t *testing.T, sb *Sandbox, script string) model.ExecutionResult {
	t.Helper()
	res := sb.Execute(context.Background(), script, testContext())
	if err := res.Validate(); err != nil {
		t.Fatalf("result violates invariant: %v (%+v)", err, res)
	}
	return res
}

func wantOutput(t *testing.T, res model.ExecutionResult, want string) {
	t.Helper()
	if !res.OK() {
		t.Fatalf("expected success, got %s: %v", res.Kind(), res.Error)
	}
	if string(res.Output) != want {
		t.Fatalf("output=%s, want %s", res.Output, want)
	}
}

func wantKind(t *testing.T, res model.ExecutionResult, kind model.ErrorKind) {
	t.Helper()
	if res.Kind() != kind {
		t.Fatalf("kind=%q, want %q (output=%s err=%v)", res.Kind(), kind, res.Output, res.Error)
	}
}

func TestExecute_ReturnValue(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	wantOutput(t, run(t, sb, "return 42"), "42")
	wantOutput(t, run(t, sb, "return { a: [1, 'x'] }"), `{"a":[1,"x"]}`)
	wantOutput(t, run(t, sb, "const x = 1;"), "null")
	if sb.State() != Completed {
		t.Fatalf("state=%v, want completed", sb.State())
	}
}

func TestExecute_ThrowAndLogOrder(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `console.log("a", 1); console.warn({b: true}); throw new Error("boom")`)
	wantKind(t, res, model.KindRuntime)
	if res.Error.Message != "boom" {
		t.Fatalf("message=%q", res.Error.Message)
	}
	if len(res.Logs) != 2 {
		t.Fatalf("logs=%+v", res.Logs)
	}
	if res.Logs[0].Level != model.LevelLog || string(res.Logs[0].Args[0]) != `"a"` || string(res.Logs[0].Args[1]) != "1" {
		t.Fatalf("first log=%+v", res.Logs[0])
	}
	if res.Logs[1].Level != model.LevelWarn || string(res.Logs[1].Args[0]) != `{"b":true}` {
		t.Fatalf("second log=%+v", res.Logs[1])
	}
	if sb.State() != Failed {
		t.Fatalf("state=%v, want failed", sb.State())
	}
}

func TestExecute_ThrownNonError(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `throw "plain"`)
	wantKind(t, res, model.KindRuntime)
	if res.Error.Message != "plain" {
		t.Fatalf("message=%q", res.Error.Message)
	}
}

func TestExecute_SyntaxError(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `return (`)
	wantKind(t, res, model.KindRuntime)
}

func TestExecute_BodyCannotCloseWrapper(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	for _, script := range []string{
		`}); (function(){ return 7;`,
		`}, function(){ return 7;`,
		`}) || (function(){ return 7;`,
	} {
		res := run(t, sb, script)
		wantKind(t, res, model.KindRuntime)
		if !strings.HasPrefix(res.Error.Message, "SyntaxError: ") {
			t.Fatalf("%q: message=%q", script, res.Error.Message)
		}
	}
	wantOutput(t, run(t, sb, `function inner() { return 7; } return inner()`), "7")
}

func TestExecute_ArgumentTypeErrors(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `
		const out = [];
		try { gis.circle(gis.point([0, 0]), "far") } catch (e) { out.push(e instanceof TypeError, e.message) }
		try { sitelens.filterByCondition(getLayer("Parcels"), 5) } catch (e) { out.push(e instanceof TypeError, e.message) }
		return out`)
	wantOutput(t, res, `[true,"radius must be a number",true,"predicate must be a function"]`)
}

func TestExecute_UnserializableLogArgFallsBack(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `const o = {}; o.self = o; console.log(o, undefined, function f() {}); return 1`)
	wantOutput(t, res, "1")
	args := res.Logs[0].Args
	if string(args[0]) != `"[object Object]"` || string(args[1]) != `"undefined"` {
		t.Fatalf("args=%s %s", args[0], args[1])
	}
}

func TestExecute_Timeout(t *testing.T) {
	sb := newTestSandbox(t, Options{Timeout: 50 * time.Millisecond})
	res := run(t, sb, `console.log("before"); while (true) {}`)
	wantKind(t, res, model.KindTimeout)
	if len(res.Logs) != 1 {
		t.Fatalf("expected logs gathered before the timeout, got %+v", res.Logs)
	}
	if res.OK() || len(res.Output) != 0 {
		t.Fatalf("timeout must not carry output")
	}
	wantOutput(t, run(t, sb, "return 'next'"), `"next"`)
}

func TestExecute_TimeoutNotSwallowedByCatch(t *testing.T) {
	sb := newTestSandbox(t, Options{Timeout: 50 * time.Millisecond})
	res := run(t, sb, `for (;;) { try { while (true) {} } catch (e) {} }`)
	wantKind(t, res, model.KindTimeout)
}

func TestCancel_IdleIsNoop(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	if sb.Cancel() {
		t.Fatalf("cancel on idle sandbox reported true")
	}
	if sb.State() != Idle {
		t.Fatalf("state=%v, want idle", sb.State())
	}
	wantOutput(t, run(t, sb, "return 1"), "1")
}

func waitRunning(t *testing.T, sb *Sandbox) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for sb.State() != Running {
		if time.Now().After(deadline) {
			t.Fatalf("sandbox never started running")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCancel_Running(t *testing.T) {
	sb := newTestSandbox(t, Options{Timeout: 10 * time.Second})
	done := make(chan model.ExecutionResult, 1)
	go func() { done <- sb.Execute(context.Background(), `console.info("go"); while (true) {}`, testContext()) }()
	waitRunning(t, sb)
	time.Sleep(20 * time.Millisecond)

	rejected := sb.Execute(context.Background(), "return 1", testContext())
	wantKind(t, rejected, model.KindRejected)

	if !sb.Cancel() {
		t.Fatalf("cancel reported nothing running")
	}
	res := <-done
	wantKind(t, res, model.KindCancelled)
	if len(res.Logs) > 1 {
		t.Fatalf("logs=%+v", res.Logs)
	}
	if sb.State() != Cancelled {
		t.Fatalf("state=%v, want cancelled", sb.State())
	}
}

func TestExecute_ContextCancellation(t *testing.T) {
	sb := newTestSandbox(t, Options{Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res := sb.Execute(ctx, `while (true) {}`, testContext())
	wantKind(t, res, model.KindCancelled)
}

func TestExecute_NoHostGlobals(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `return [typeof require, typeof fetch, typeof setTimeout, typeof process, typeof XMLHttpRequest]`)
	wantOutput(t, res, `["undefined","undefined","undefined","undefined","undefined"]`)
}

func TestExecute_StrictMode(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `leaked = 1; return leaked`)
	wantKind(t, res, model.KindRuntime)
}

func TestExecute_ContextBindings(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `
		const byName = getLayer("Parcels");
		const byId = getLayer("l1");
		return [
			byName.features.length,
			byId === layers["l1"],
			getLayer("missing"),
			getLayer(),
			selectedFeatures[0].geometry.coordinates,
			mapBounds.west,
			Object.keys(layers).sort(),
		];`)
	wantOutput(t, res, `[2,true,null,null,[1,2],-1,["Parcels","l1"]]`)
}

func TestExecute_NullMapBounds(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	ectx := testContext()
	ectx.MapBounds = nil
	ectx.SelectedFeatures = nil
	res := sb.Execute(context.Background(), `return [mapBounds, selectedFeatures.length]`, ectx)
	wantOutput(t, res, `[null,0]`)
}

func TestExecute_ContextNotMutated(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	ectx := testContext()
	before, _ := json.Marshal(ectx)
	res := sb.Execute(context.Background(), `
		layers.Parcels.features[0].properties.zone = "X";
		layers.Parcels.features.pop();
		selectedFeatures.length = 0;
		mapBounds.west = 99;
		return 1`, ectx)
	wantOutput(t, res, "1")
	after, _ := json.Marshal(ectx)
	if string(before) != string(after) {
		t.Fatalf("context mutated:\n%s\n%s", before, after)
	}
}

func TestExecute_GeometryError(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `return gis.union(layers.Parcels.features[0], gis.polygon([[[0,0],[1,1],[1,0],[0,1],[0,0]]]))`)
	wantKind(t, res, model.KindGeometry)
	if res.Error.Operation != "union" || res.Error.FeatureIndex == nil || *res.Error.FeatureIndex != 1 {
		t.Fatalf("error detail=%+v", res.Error)
	}

	res = run(t, sb, `gis.polygon([[[0,0],[1,0],[0,0]]])`)
	wantKind(t, res, model.KindGeometry)
	if res.Error.Operation != "polygon" {
		t.Fatalf("operation=%q", res.Error.Operation)
	}
}

func TestExecute_GeometryErrorCatchable(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `try { gis.area(null) } catch (e) { return [e.name, e.operation, e.featureIndex, e instanceof Error] }`)
	wantOutput(t, res, `["GeometryError","area",0,true]`)
}

func TestExecute_Helpers(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `
		const fc = getLayer("Parcels");
		const r1 = sitelens.filterByProperty(fc, "zone", "R1");
		const stats = sitelens.statistics(fc, "value");
		const area = gis.area(r1.features[0]);
		const near = sitelens.findNearby(fc, [0.0005, 0.0005], 10, "meters");
		return {
			n: r1.features.length,
			stats,
			areaText: format.area(area),
			unique: sitelens.uniqueValues(fc, "zone"),
			near: near.features.length,
			coords: format.coordinates([18.0686, 59.3293]),
		};`)
	wantOutput(t, res, `{"n":1,"stats":{"min":10,"max":30,"mean":20,"sum":40,"count":2},"areaText":"`+
		mustAreaText(t)+`","unique":["R1","C2"],"near":2,"coords":"59.329300, 18.068600"}`)
}

func mustAreaText(t *testing.T) string {
	t.Helper()
	a, err := gis.Area(testContext().Layers[0].Data.Features[0])
	if err != nil {
		t.Fatalf("area: %v", err)
	}
	return sitelens.FormatArea(a)
}

func TestExecute_CallbackErrorsPropagate(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `return sitelens.filterByCondition(getLayer("l1"), (p) => { throw new Error("pred failed") })`)
	wantKind(t, res, model.KindRuntime)
	if res.Error.Message != "pred failed" {
		t.Fatalf("message=%q", res.Error.Message)
	}

	res = run(t, sb, `return sitelens.addProperty(getLayer("l1"), "double", (f) => f.properties.value * 2).features.map(f => f.properties.double)`)
	wantOutput(t, res, `[20,60]`)
}

func TestExecute_Promises(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	wantOutput(t, run(t, sb, `return Promise.resolve(5)`), "5")
	wantOutput(t, run(t, sb, `return (async () => { const v = await Promise.resolve(3); return v + 4 })()`), "7")
	rejected := run(t, sb, `return Promise.reject(new Error("nope"))`)
	wantKind(t, rejected, model.KindRuntime)
	if rejected.Error.Message != "nope" {
		t.Fatalf("message=%q", rejected.Error.Message)
	}
	wantKind(t, run(t, sb, `return new Promise(() => {})`), model.KindRuntime)
}

func TestExecute_LogLimit(t *testing.T) {
	sb := newTestSandbox(t, Options{MaxLogEntries: 3})
	res := run(t, sb, `for (let i = 0; i < 5; i++) console.log(i); return "ok"`)
	wantOutput(t, res, `"ok"`)
	if len(res.Logs) != 3 || !res.LogsTruncated {
		t.Fatalf("logs=%d truncated=%v", len(res.Logs), res.LogsTruncated)
	}
	if string(res.Logs[2].Args[0]) != "2" {
		t.Fatalf("kept the wrong entries: %+v", res.Logs)
	}
}

func TestExecute_OutputAndScriptLimits(t *testing.T) {
	sb := newTestSandbox(t, Options{MaxOutputBytes: 16, MaxScriptBytes: 64})
	wantKind(t, run(t, sb, `return "x".repeat(100)`), model.KindRuntime)
	wantKind(t, run(t, sb, "return 1;"+strings.Repeat(" ", 100)), model.KindRuntime)
}

func TestExecute_StackOverflow(t *testing.T) {
	sb := newTestSandbox(t, Options{MaxCallStack: 64})
	res := run(t, sb, `function f() { return f() } return f()`)
	wantKind(t, res, model.KindRuntime)
}

func TestProgramCache_Reused(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	wantOutput(t, run(t, sb, "return 2"), "2")
	if sb.programs.Len() != 1 {
		t.Fatalf("cache len=%d", sb.programs.Len())
	}
	wantOutput(t, run(t, sb, "return 2"), "2")
	if sb.programs.Len() != 1 {
		t.Fatalf("cache len=%d after reuse", sb.programs.Len())
	}
}

func TestExecute_DurationUsesClock(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	base := time.Unix(0, 0)
	calls := 0
	sb.startNow = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 10 * time.Millisecond)
	}
	res := run(t, sb, "return 1")
	if res.Duration != 10*time.Millisecond {
		t.Fatalf("duration=%v", res.Duration)
	}
	if !reflect.DeepEqual(res.Logs, []model.LogEntry{}) {
		t.Fatalf("logs=%#v", res.Logs)
	}
}

func TestExecute_ConstructorsMeasureLikeGeometries(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	ring := orb.Ring{{18.06, 59.32}, {18.08, 59.32}, {18.08, 59.34}, {18.06, 59.34}, {18.06, 59.32}}
	line := orb.LineString{{18.06, 59.32}, {18.07, 59.33}, {18.09, 59.33}}
	wantArea, err := gis.Area(gis.NewFeature(orb.Polygon{ring}, nil))
	if err != nil {
		t.Fatalf("area: %v", err)
	}
	wantLength, err := gis.Length(gis.NewFeature(line, nil), gis.DefaultUnits)
	if err != nil {
		t.Fatalf("length: %v", err)
	}

	res := run(t, sb, `
		const poly = gis.polygon([[[18.06, 59.32], [18.08, 59.32], [18.08, 59.34], [18.06, 59.34], [18.06, 59.32]]]);
		const line = gis.lineString([[18.06, 59.32], [18.07, 59.33], [18.09, 59.33]]);
		return [gis.area(poly), gis.length(line), gis.area(gis.point([18.06, 59.32]))]`)
	if !res.OK() {
		t.Fatalf("expected success, got %s: %v", res.Kind(), res.Error)
	}
	var got []float64
	if err := json.Unmarshal(res.Output, &got); err != nil {
		t.Fatalf("output %s: %v", res.Output, err)
	}
	if len(got) != 3 || got[0] != wantArea || got[1] != wantLength || got[2] != 0 {
		t.Fatalf("got %v, want [%v %v 0]", got, wantArea, wantLength)
	}
}

func TestExecute_MeasurePropertiesIndexAndNullGeometry(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	res := run(t, sb, `
		const sq = gis.polygon([[[0, 0], [0.01, 0], [0.01, 0.01], [0, 0.01], [0, 0]]]);
		const blank = { type: "Feature", geometry: null, properties: {} };
		const bad = { type: "Feature", geometry: { type: "Polygon", coordinates: [[[0, 0], [1, 0], [0, 0]]] }, properties: {} };
		const lengths = sitelens.addLengthProperty([sq, blank]).features.map(f => f.properties.length);
		const areas = sitelens.addAreaProperty([blank]).features.map(f => f.properties.area);
		try { sitelens.addAreaProperty([sq, blank, bad]) } catch (e) { return [lengths, areas, e.name, e.featureIndex] }
		return "no error"`)
	wantOutput(t, res, `[[0,0],[0],"GeometryError",2]`)
}
