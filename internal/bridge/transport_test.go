package bridge

import (
	"context"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/sandbox"
)

const helperEnv = "GEOSANDBOX_BRIDGE_HELPER"

// TestMain lets the test binary double as a subprocess worker.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "worker":
		sb, err := sandbox.New(sandbox.Options{Timeout: 200 * time.Millisecond})
		if err != nil {
			os.Exit(2)
		}
		if err := sandbox.NewWorker(sb, nil).ServeStream(context.Background(), os.Stdin, os.Stdout); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	case "capped-worker":
		if err := sandbox.LimitMemory(256 << 20); err != nil {
			os.Exit(2)
		}
		sb, err := sandbox.New(sandbox.Options{Timeout: 30 * time.Second})
		if err != nil {
			os.Exit(2)
		}
		_ = sandbox.NewWorker(sb, nil).ServeStream(context.Background(), os.Stdin, os.Stdout)
		os.Exit(0)
	case "crash":
		buf := make([]byte, 1)
		_, _ = os.Stdin.Read(buf)
		os.Exit(3)
	}
	os.Exit(m.Run())
}

func parcels() model.ExecutionContext {
	return model.ExecutionContext{Layers: []model.Layer{{
		ID:   "p",
		Name: "parcels",
		Data: model.FeatureCollection{Features: []model.Feature{
			{Geometry: orb.Point{1, 1}, Properties: map[string]any{"zone": "R1"}},
			{Geometry: orb.Point{2, 2}, Properties: map[string]any{"zone": "C1"}},
		}},
	}}}
}

func TestInProcess_EndToEnd(t *testing.T) {
	b := newBridge(t, InProcess{Options: sandbox.Options{Timeout: 100 * time.Millisecond}},
		Options{Timeout: 100 * time.Millisecond, CancelGrace: 200 * time.Millisecond})

	res, err := b.Execute(context.Background(), `return sitelens.filterByProperty(getLayer("parcels"), "zone", "R1").features.length`, parcels())
	if err != nil || string(res.Output) != "1" {
		t.Fatalf("res=%+v err=%v", res, err)
	}

	res, err = b.Execute(context.Background(), `console.log("spin"); while (true) {}`, parcels())
	if err != nil || res.Kind() != model.KindTimeout || len(res.Logs) != 1 {
		t.Fatalf("timeout res=%+v err=%v", res, err)
	}

	res, err = b.Execute(context.Background(), `throw new Error("boom")`, parcels())
	if err != nil || res.Kind() != model.KindRuntime || res.Error.Message != "boom" {
		t.Fatalf("throw res=%+v err=%v", res, err)
	}
}

func TestInProcess_Cancel(t *testing.T) {
	b := newBridge(t, InProcess{Options: sandbox.Options{Timeout: 10 * time.Second}},
		Options{Timeout: 10 * time.Second, CancelGrace: time.Second})
	ch := make(chan model.ExecutionResult, 1)
	go func() {
		res, _ := b.Execute(context.Background(), `while (true) {}`, parcels())
		ch <- res
	}()
	waitPending(t, b)
	time.Sleep(20 * time.Millisecond)
	b.Cancel()
	select {
	case res := <-ch:
		if res.Kind() != model.KindCancelled {
			t.Fatalf("res=%+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("cancel did not resolve the execution")
	}
}

func helperTransport(t *testing.T, mode string) Subprocess {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}
	return Subprocess{Path: exe, Env: []string{helperEnv + "=" + mode}}
}

func TestSubprocess_EndToEnd(t *testing.T) {
	b := newBridge(t, helperTransport(t, "worker"), Options{Timeout: 200 * time.Millisecond, CancelGrace: time.Second})

	res, err := b.Execute(context.Background(), `return [typeof process, layers.p.features.length]`, parcels())
	if err != nil || string(res.Output) != `["undefined",2]` {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	res, err = b.Execute(context.Background(), `while (true) {}`, parcels())
	if err != nil || res.Kind() != model.KindTimeout {
		t.Fatalf("timeout res=%+v err=%v", res, err)
	}
}

func TestSubprocess_Crash(t *testing.T) {
	b := newBridge(t, helperTransport(t, "crash"), Options{Timeout: 5 * time.Second})
	res, err := b.Execute(context.Background(), `return 1`, parcels())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Kind() != model.KindCrashed {
		t.Fatalf("res=%+v", res)
	}
}

func TestSubprocess_MemoryExhaustionCrashesOnlyTheWorker(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("hard memory cap needs linux")
	}
	b := newBridge(t, helperTransport(t, "capped-worker"), Options{Timeout: 30 * time.Second, CancelGrace: time.Second})

	res, err := b.Execute(context.Background(), `
		const keep = [];
		while (true) { keep.push(new Array(1 << 20).fill(7)); }`, parcels())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Kind() != model.KindCrashed {
		t.Fatalf("res=%+v", res)
	}

	res, err = b.Execute(context.Background(), `return 1`, parcels())
	if err != nil || string(res.Output) != "1" {
		t.Fatalf("replacement worker res=%+v err=%v", res, err)
	}
}
