package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

type fakeBridge struct {
	closed atomic.Bool
}

func (f *fakeBridge) Execute(context.Context, string, model.ExecutionContext) (model.ExecutionResult, error) {
	return model.Success(nil, nil, 0), nil
}
func (f *fakeBridge) Cancel() bool { return false }
func (f *fakeBridge) Close() error {
	f.closed.Store(true)
	return nil
}

func newRegistry(t *testing.T, size int) (*Registry, *[]*fakeBridge) {
	t.Helper()
	var made []*fakeBridge
	r, err := New(size, func() (Bridge, error) {
		b := &fakeBridge{}
		made = append(made, b)
		return b, nil
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, &made
}

func TestGet_ReusesPerSession(t *testing.T) {
	r, made := newRegistry(t, 4)
	a1, _ := r.Get("a")
	a2, _ := r.Get("a")
	b, _ := r.Get("b")
	if a1 != a2 || a1 == b || len(*made) != 2 {
		t.Fatalf("bridges not reused per session: made=%d", len(*made))
	}
	if _, err := r.Get(""); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestEviction_ClosesBridge(t *testing.T) {
	r, made := newRegistry(t, 2)
	_, _ = r.Get("a")
	_, _ = r.Get("b")
	_, _ = r.Get("a")
	_, _ = r.Get("c") // evicts b

	if !(*made)[1].closed.Load() {
		t.Fatalf("evicted session bridge was not closed")
	}
	if (*made)[0].closed.Load() {
		t.Fatalf("recently used session was closed")
	}
	if _, ok := r.Lookup("b"); ok {
		t.Fatalf("evicted session still present")
	}
	if r.Len() != 2 {
		t.Fatalf("len=%d", r.Len())
	}
}

func TestEndAndClose(t *testing.T) {
	r, made := newRegistry(t, 4)
	_, _ = r.Get("a")
	_, _ = r.Get("b")
	if !r.End("a") || !(*made)[0].closed.Load() {
		t.Fatalf("End did not close the bridge")
	}
	if r.End("a") {
		t.Fatalf("End reported an absent session")
	}
	r.Close()
	if !(*made)[1].closed.Load() || r.Len() != 0 {
		t.Fatalf("Close left sessions open")
	}
}

func TestFactoryError(t *testing.T) {
	r, err := New(1, func() (Bridge, error) { return nil, errors.New("no worker") }, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Get("a"); err == nil {
		t.Fatalf("expected factory error")
	}
}
