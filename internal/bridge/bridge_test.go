package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/sandbox/protocol"
)

type fakeConn struct {
	frames    chan Frame
	closed    chan struct{}
	closeOnce sync.Once
	reapOnce  sync.Once
	keepOpen  bool
	onSend    func(c *fakeConn, m protocol.Message)
}

func (c *fakeConn) Send(m protocol.Message) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	if c.onSend != nil {
		c.onSend(c, m)
	}
	return nil
}

func (c *fakeConn) Frames() <-chan Frame { return c.frames }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	if !c.keepOpen {
		c.reap()
	}
	return nil
}

// reap simulates the worker going away.
func (c *fakeConn) reap() { c.reapOnce.Do(func() { close(c.frames) }) }

func (c *fakeConn) reply(id string, r model.ExecutionResult) {
	c.frames <- Frame{Msg: protocol.Result(id, r)}
}

type fakeTransport struct {
	mu       sync.Mutex
	conns    []*fakeConn
	err      error
	keepOpen bool
	onSend   func(c *fakeConn, m protocol.Message)
}

func (t *fakeTransport) Start() (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	c := &fakeConn{frames: make(chan Frame, 16), closed: make(chan struct{}), keepOpen: t.keepOpen, onSend: t.onSend}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) starts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

func echo(c *fakeConn, m protocol.Message) {
	if m.Kind == protocol.KindExecute {
		c.reply(m.ID, model.Success(json.RawMessage(`"`+m.Script+`"`), nil, time.Millisecond))
	}
}

func newBridge(t *testing.T, tr Transport, opts Options) *Bridge {
	t.Helper()
	b, err := New(tr, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func waitPending(t *testing.T, b *Bridge) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.Lock()
		p := b.pending
		b.mu.Unlock()
		if p != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no execution became pending")
		}
		time.Sleep(time.Millisecond)
	}
}

type outcome struct {
	res model.ExecutionResult
	err error
}

func goExecute(ctx context.Context, b *Bridge, script string) <-chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		res, err := b.Execute(ctx, script, model.ExecutionContext{})
		ch <- outcome{res, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatalf("execution never resolved")
		return outcome{}
	}
}

func TestExecute_CorrelatesResult(t *testing.T) {
	tr := &fakeTransport{onSend: echo}
	b := newBridge(t, tr, Options{})
	for _, s := range []string{"one", "two"} {
		res, err := b.Execute(context.Background(), s, model.ExecutionContext{})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !res.OK() || string(res.Output) != `"`+s+`"` {
			t.Fatalf("res=%+v", res)
		}
	}
	if tr.starts() != 1 {
		t.Fatalf("worker restarted needlessly: starts=%d", tr.starts())
	}
	if b.ProtocolErrors() != 0 {
		t.Fatalf("protocol errors=%d", b.ProtocolErrors())
	}
}

func TestExecute_BusyLeavesInFlightAlone(t *testing.T) {
	tr := &fakeTransport{}
	b := newBridge(t, tr, Options{Timeout: 10 * time.Second})
	first := goExecute(context.Background(), b, "first")
	waitPending(t, b)

	if _, err := b.Execute(context.Background(), "second", model.ExecutionContext{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	b.mu.Lock()
	id := b.pending.id
	b.mu.Unlock()
	tr.conn(0).reply(id, model.Success(json.RawMessage("1"), nil, time.Millisecond))
	o := await(t, first)
	if o.err != nil || !o.res.OK() {
		t.Fatalf("first=%+v err=%v", o.res, o.err)
	}
}

func TestProtocolErrors_UnknownIDAndBadFrames(t *testing.T) {
	tr := &fakeTransport{onSend: echo}
	b := newBridge(t, tr, Options{})
	if _, err := b.Execute(context.Background(), "x", model.ExecutionContext{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	c := tr.conn(0)
	c.reply("never-sent", model.Success(json.RawMessage("1"), nil, 0))
	c.frames <- Frame{Err: protocol.ErrInvalidMessage}
	c.frames <- Frame{Msg: protocol.Cancel("x")}

	deadline := time.Now().Add(2 * time.Second)
	for b.ProtocolErrors() != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("protocol errors=%d want 3", b.ProtocolErrors())
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := b.Execute(context.Background(), "y", model.ExecutionContext{}); err != nil {
		t.Fatalf("bridge unusable after protocol errors: %v", err)
	}
}

func TestCancel_IdleIsNoop(t *testing.T) {
	tr := &fakeTransport{onSend: echo}
	b := newBridge(t, tr, Options{})
	if b.Cancel() {
		t.Fatalf("idle cancel reported in-flight work")
	}
	if tr.starts() != 0 {
		t.Fatalf("idle cancel started a worker")
	}
}

func TestCancel_AcknowledgedKeepsWorker(t *testing.T) {
	var mu sync.Mutex
	var running string
	tr := &fakeTransport{onSend: func(c *fakeConn, m protocol.Message) {
		mu.Lock()
		defer mu.Unlock()
		switch m.Kind {
		case protocol.KindExecute:
			if m.Script == "quick" {
				echo(c, m)
				return
			}
			running = m.ID
		case protocol.KindCancel:
			if m.ID == running {
				logs := []model.LogEntry{{Level: model.LevelLog, Args: []json.RawMessage{json.RawMessage(`"partial"`)}}}
				c.reply(m.ID, model.Failure(&model.ExecutionError{Kind: model.KindCancelled, Message: "execution cancelled"}, logs, time.Millisecond))
			}
		}
	}}
	b := newBridge(t, tr, Options{Timeout: 10 * time.Second, CancelGrace: time.Second})
	ch := goExecute(context.Background(), b, "loop")
	waitPending(t, b)

	if !b.Cancel() {
		t.Fatalf("cancel found nothing in flight")
	}
	o := await(t, ch)
	if o.res.Kind() != model.KindCancelled || len(o.res.Logs) != 1 {
		t.Fatalf("res=%+v", o.res)
	}
	if _, err := b.Execute(context.Background(), "quick", model.ExecutionContext{}); err != nil {
		t.Fatalf("Execute after cancel: %v", err)
	}
	if tr.starts() != 1 {
		t.Fatalf("acknowledged cancel must not restart the worker: starts=%d", tr.starts())
	}
}

func TestCancel_IgnoredTearsDownAndDropsLateResult(t *testing.T) {
	tr := &fakeTransport{keepOpen: true}
	b := newBridge(t, tr, Options{Timeout: 10 * time.Second, CancelGrace: 20 * time.Millisecond})
	ch := goExecute(context.Background(), b, "stuck")
	waitPending(t, b)
	b.mu.Lock()
	id := b.pending.id
	b.mu.Unlock()

	b.Cancel()
	o := await(t, ch)
	if o.res.Kind() != model.KindCancelled {
		t.Fatalf("res=%+v", o.res)
	}
	old := tr.conn(0)
	select {
	case <-old.closed:
	default:
		t.Fatalf("unresponsive worker was not torn down")
	}

	old.reply(id, model.Success(json.RawMessage("1"), nil, 0))
	old.reap()
	time.Sleep(20 * time.Millisecond)
	if b.ProtocolErrors() != 0 {
		t.Fatalf("late result for a cancelled request counted as protocol error")
	}

	tr.mu.Lock()
	tr.onSend = echo
	tr.mu.Unlock()
	res, err := b.Execute(context.Background(), "fresh", model.ExecutionContext{})
	if err != nil || !res.OK() {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if tr.starts() != 2 {
		t.Fatalf("expected a fresh worker, starts=%d", tr.starts())
	}
}

func TestExecute_DeadlineTearsDownWorker(t *testing.T) {
	tr := &fakeTransport{}
	b := newBridge(t, tr, Options{Timeout: 30 * time.Millisecond, CancelGrace: 20 * time.Millisecond})
	res, err := b.Execute(context.Background(), "hang", model.ExecutionContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Kind() != model.KindTimeout || res.OK() {
		t.Fatalf("res=%+v", res)
	}
	if res.Duration < 50*time.Millisecond {
		t.Fatalf("duration=%v, want at least timeout+grace", res.Duration)
	}
	tr.mu.Lock()
	tr.onSend = echo
	tr.mu.Unlock()
	if _, err := b.Execute(context.Background(), "again", model.ExecutionContext{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tr.starts() != 2 {
		t.Fatalf("starts=%d want 2", tr.starts())
	}
}

func TestExecute_WorkerCrash(t *testing.T) {
	tr := &fakeTransport{onSend: func(c *fakeConn, m protocol.Message) {
		if m.Kind == protocol.KindExecute {
			c.reap()
		}
	}}
	b := newBridge(t, tr, Options{})
	res, err := b.Execute(context.Background(), "boom", model.ExecutionContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Kind() != model.KindCrashed {
		t.Fatalf("res=%+v", res)
	}
}

func TestExecute_ContextCancelActsAsCancel(t *testing.T) {
	tr := &fakeTransport{}
	b := newBridge(t, tr, Options{Timeout: 10 * time.Second, CancelGrace: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	ch := goExecute(ctx, b, "wait")
	waitPending(t, b)
	cancel()
	if o := await(t, ch); o.res.Kind() != model.KindCancelled {
		t.Fatalf("res=%+v", o.res)
	}
}

func TestClose(t *testing.T) {
	tr := &fakeTransport{}
	b := newBridge(t, tr, Options{Timeout: 10 * time.Second})
	ch := goExecute(context.Background(), b, "wait")
	waitPending(t, b)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if o := await(t, ch); o.res.Kind() != model.KindCancelled {
		t.Fatalf("in-flight after close=%+v", o.res)
	}
	if _, err := b.Execute(context.Background(), "x", model.ExecutionContext{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestExecute_StartFailure(t *testing.T) {
	tr := &fakeTransport{err: errors.New("no fork for you")}
	b := newBridge(t, tr, Options{})
	if _, err := b.Execute(context.Background(), "x", model.ExecutionContext{}); err == nil {
		t.Fatalf("expected start error")
	}
	tr.mu.Lock()
	tr.err, tr.onSend = nil, echo
	tr.mu.Unlock()
	if _, err := b.Execute(context.Background(), "x", model.ExecutionContext{}); err != nil {
		t.Fatalf("bridge stuck after start failure: %v", err)
	}
}
