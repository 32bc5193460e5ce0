// Package bridge is the host-side client of a sandbox worker. It serializes
// requests, correlates results by id and owns the worker lifecycle: workers
// that time out, ignore a cancel or crash are torn down and replaced on the
// next Execute.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/core/observability"
	"github.com/mohammed-shakir/geosandbox/internal/logger"
	"github.com/mohammed-shakir/geosandbox/internal/sandbox/protocol"
)

var (
	ErrBusy   = errors.New("bridge: an execution is already in flight")
	ErrClosed = errors.New("bridge: closed")
)

type Options struct {
	// Timeout is the sandbox time limit; the bridge gives the worker
	// Timeout+CancelGrace before tearing it down.
	Timeout      time.Duration
	CancelGrace  time.Duration
	DiscardedIDs int
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.CancelGrace <= 0 {
		o.CancelGrace = 250 * time.Millisecond
	}
	if o.DiscardedIDs <= 0 {
		o.DiscardedIDs = 64
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

type request struct {
	id   string
	once sync.Once
	done chan struct{}
	res  model.ExecutionResult
}

func (r *request) resolve(res model.ExecutionResult) bool {
	first := false
	r.once.Do(func() {
		r.res = res
		close(r.done)
		first = true
	})
	return first
}

type Bridge struct {
	transport Transport
	opts      Options
	log       *slog.Logger
	discarded *lru.Cache[string, struct{}]
	protoErrs atomic.Int64
	newID     func() string
	now       func() time.Time

	mu      sync.Mutex
	conn    Conn
	pending *request
	closed  bool
}

func New(t Transport, opts Options) (*Bridge, error) {
	opts = opts.withDefaults()
	discarded, err := lru.New[string, struct{}](opts.DiscardedIDs)
	if err != nil {
		return nil, fmt.Errorf("bridge: discarded id cache: %w", err)
	}
	return &Bridge{
		transport: t,
		opts:      opts,
		log:       opts.Logger,
		discarded: discarded,
		newID:     uuid.NewString,
		now:       time.Now,
	}, nil
}

// Execute runs script in the worker and waits for its result. Sandbox-side
// failures come back as a failure result; the error is only set for ErrBusy,
// ErrClosed or when no worker could be started.
func (b *Bridge) Execute(ctx context.Context, script string, ectx model.ExecutionContext) (model.ExecutionResult, error) {
	id := b.newID()
	msg, err := protocol.Execute(id, script, ectx)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("bridge: %w", err)
	}
	ctx = logger.WithExecutionID(ctx, id)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return model.ExecutionResult{}, ErrClosed
	}
	if b.pending != nil {
		b.mu.Unlock()
		return model.ExecutionResult{}, ErrBusy
	}
	conn, err := b.ensureConnLocked()
	if err != nil {
		b.mu.Unlock()
		return model.ExecutionResult{}, err
	}
	req := &request{id: id, done: make(chan struct{})}
	b.pending = req
	b.mu.Unlock()

	start := b.now()
	if err := conn.Send(msg); err != nil {
		b.log.ErrorContext(ctx, "bridge failed to dispatch execution", "err", err)
		b.abandon(req, "crash", model.Failed(model.KindCrashed, "worker unavailable: "+err.Error(), 0))
	}

	deadline := time.NewTimer(b.opts.Timeout + b.opts.CancelGrace)
	defer deadline.Stop()
	select {
	case <-req.done:
	case <-deadline.C:
		b.log.WarnContext(ctx, "bridge deadline expired, tearing down worker", "timeout", b.opts.Timeout)
		b.abandon(req, "timeout", model.Failed(model.KindTimeout, fmt.Sprintf("script exceeded %s", b.opts.Timeout), 0))
	case <-ctx.Done():
		b.Cancel()
	}
	<-req.done

	res := req.res
	if res.Duration == 0 {
		res.Duration = b.now().Sub(start)
	}
	observability.ObserveExecution(res.OK(), string(res.Kind()), res.Duration, len(res.Logs))
	b.log.DebugContext(ctx, "bridge execution resolved", "status", string(res.Status), "kind", string(res.Kind()))
	return res, nil
}

// Cancel asks the worker to stop the in-flight execution and waits up to
// CancelGrace for its acknowledgement; past that the worker is torn down and
// the execution resolves as cancelled. It reports whether anything was in
// flight.
func (b *Bridge) Cancel() bool {
	b.mu.Lock()
	req, conn := b.pending, b.conn
	b.mu.Unlock()
	if req == nil {
		return false
	}
	if conn != nil {
		if err := conn.Send(protocol.Cancel(req.id)); err != nil {
			b.log.Warn("bridge failed to send cancel", "execution_id", req.id, "err", err)
		}
	}
	grace := time.NewTimer(b.opts.CancelGrace)
	defer grace.Stop()
	select {
	case <-req.done:
	case <-grace.C:
		b.abandon(req, "cancel", model.Failed(model.KindCancelled, "execution cancelled", 0))
	}
	return true
}

// Close resolves any in-flight execution as cancelled and stops the worker.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	req, conn := b.pending, b.conn
	b.pending, b.conn = nil, nil
	if req != nil {
		b.discarded.Add(req.id, struct{}{})
	}
	b.mu.Unlock()

	if req != nil {
		req.resolve(model.Failed(model.KindCancelled, "bridge closed", 0))
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// ProtocolErrors counts worker frames that matched no known request.
func (b *Bridge) ProtocolErrors() int64 { return b.protoErrs.Load() }

func (b *Bridge) ensureConnLocked() (Conn, error) {
	if b.conn != nil {
		return b.conn, nil
	}
	c, err := b.transport.Start()
	if err != nil {
		return nil, fmt.Errorf("bridge: start worker: %w", err)
	}
	b.conn = c
	go b.readLoop(c)
	return c, nil
}

// abandon resolves req with res, remembers its id so a late result is not
// mistaken for a protocol error, and replaces the worker.
func (b *Bridge) abandon(req *request, reason string, res model.ExecutionResult) {
	b.mu.Lock()
	var conn Conn
	if b.pending == req {
		b.pending = nil
		b.discarded.Add(req.id, struct{}{})
		conn, b.conn = b.conn, nil
	}
	b.mu.Unlock()

	if !req.resolve(res) {
		return
	}
	if conn != nil {
		observability.IncWorkerRestart(reason)
		if err := conn.Close(); err != nil {
			b.log.Warn("bridge worker teardown failed", "reason", reason, "err", err)
		}
	}
}

func (b *Bridge) readLoop(c Conn) {
	for f := range c.Frames() {
		if f.Err != nil {
			b.protocolError("unreadable frame", "", f.Err)
			continue
		}
		b.deliver(f.Msg)
	}

	b.mu.Lock()
	if b.conn != c {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	req := b.pending
	b.pending = nil
	if req != nil {
		b.discarded.Add(req.id, struct{}{})
	}
	b.mu.Unlock()

	observability.IncWorkerRestart("crash")
	if req != nil {
		b.log.Error("bridge worker exited mid-execution", "execution_id", req.id)
		req.resolve(model.Failed(model.KindCrashed, "sandbox worker exited unexpectedly", 0))
	}
}

func (b *Bridge) deliver(m protocol.Message) {
	if err := m.Validate(); err != nil {
		b.protocolError("invalid message", m.ID, err)
		return
	}
	if m.Kind != protocol.KindResult {
		b.protocolError("unexpected message kind", m.ID, fmt.Errorf("kind %q", m.Kind))
		return
	}

	b.mu.Lock()
	req := b.pending
	match := req != nil && req.id == m.ID
	if match {
		b.pending = nil
	}
	stale := !match && b.discarded.Contains(m.ID)
	b.mu.Unlock()

	switch {
	case match:
		req.resolve(*m.Result)
	case stale:
		b.log.Debug("bridge dropped late result", "execution_id", m.ID)
	default:
		b.protocolError("result for unknown request", m.ID, nil)
	}
}

func (b *Bridge) protocolError(msg, id string, err error) {
	b.protoErrs.Add(1)
	observability.IncProtocolError()
	b.log.Error("bridge protocol error: "+msg, "execution_id", id, "err", err)
}
