package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/logger"
	"github.com/mohammed-shakir/geosandbox/internal/sandbox/protocol"
)

// Worker drives one Sandbox from a message stream. Executions run off the
// receive loop so a cancel can reach a running script.
type Worker struct {
	sb  *Sandbox
	log *slog.Logger

	mu      sync.Mutex
	current string
	wg      sync.WaitGroup
}

func NewWorker(sb *Sandbox, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Worker{sb: sb, log: log}
}

// Serve handles messages from in until it is closed or ctx ends, then waits
// for the running execution. Ending ctx also cancels that execution.
func (w *Worker) Serve(ctx context.Context, in <-chan protocol.Message, send func(protocol.Message) error) error {
	defer w.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-in:
			if !ok {
				return nil
			}
			w.handle(ctx, m, send)
		}
	}
}

func (w *Worker) handle(ctx context.Context, m protocol.Message, send func(protocol.Message) error) {
	if err := m.Validate(); err != nil {
		w.log.WarnContext(ctx, "worker dropped invalid message", "kind", string(m.Kind), "id", m.ID, "err", err)
		return
	}
	switch m.Kind {
	case protocol.KindCancel:
		w.mu.Lock()
		running := w.current == m.ID
		w.mu.Unlock()
		if running {
			w.sb.Cancel()
		}
	case protocol.KindExecute:
		w.mu.Lock()
		busy := w.current != ""
		if !busy {
			w.current = m.ID
		}
		w.mu.Unlock()
		if busy {
			w.reply(ctx, send, protocol.Result(m.ID, model.Failed(model.KindRejected, "an execution is already running", 0)))
			return
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			res := w.run(ctx, m)
			w.mu.Lock()
			w.current = ""
			w.mu.Unlock()
			w.reply(ctx, send, protocol.Result(m.ID, res))
		}()
	default:
		w.log.WarnContext(ctx, "worker ignored message", "kind", string(m.Kind), "id", m.ID)
	}
}

func (w *Worker) run(ctx context.Context, m protocol.Message) model.ExecutionResult {
	var ectx model.ExecutionContext
	if err := json.Unmarshal(m.Context, &ectx); err != nil {
		return model.Failed(model.KindRuntime, fmt.Sprintf("invalid execution context: %v", err), 0)
	}
	ctx = logger.WithExecutionID(ctx, m.ID)
	return w.sb.Execute(ctx, m.Script, ectx)
}

func (w *Worker) reply(ctx context.Context, send func(protocol.Message) error, m protocol.Message) {
	if err := send(m); err != nil {
		w.log.ErrorContext(ctx, "worker failed to send result", "id", m.ID, "err", err)
	}
}

// ServeStream runs the worker over newline-delimited JSON, as used by the
// subprocess transport. It returns nil when r reaches EOF.
func (w *Worker) ServeStream(ctx context.Context, r io.Reader, wr io.Writer) error {
	dec := protocol.NewDecoder(r)
	enc := protocol.NewEncoder(wr)
	in := make(chan protocol.Message)
	readErr := make(chan error, 1)

	go func() {
		defer close(in)
		for {
			m, err := dec.Decode()
			if errors.Is(err, protocol.ErrInvalidMessage) {
				w.log.WarnContext(ctx, "worker skipped malformed frame", "err", err)
				continue
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
			select {
			case in <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := w.Serve(ctx, in, enc.Encode); err != nil {
		return err
	}
	select {
	case err := <-readErr:
		return fmt.Errorf("worker stream: %w", err)
	default:
		return nil
	}
}
