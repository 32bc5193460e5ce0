package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/geosandbox/internal/sandbox"
	"github.com/mohammed-shakir/geosandbox/internal/sandbox/protocol"
)

// Frame is one inbound unit from a worker: a decoded message, or the error
// that made a frame unreadable.
type Frame struct {
	Msg protocol.Message
	Err error
}

// Conn is a live worker. Frames is closed when the worker is gone.
type Conn interface {
	Send(m protocol.Message) error
	Frames() <-chan Frame
	Close() error
}

// Transport spawns workers.
type Transport interface {
	Start() (Conn, error)
}

var errConnClosed = errors.New("worker connection closed")

// InProcess runs each worker as a goroutine driving its own Sandbox.
type InProcess struct {
	Options sandbox.Options
	Logger  *slog.Logger
}

func (t InProcess) Start() (Conn, error) {
	sb, err := sandbox.New(t.Options)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &inprocConn{
		in:     make(chan protocol.Message),
		frames: make(chan Frame, 4),
		ctx:    ctx,
		cancel: cancel,
	}
	w := sandbox.NewWorker(sb, t.Logger)
	go func() {
		defer close(c.frames)
		_ = w.Serve(ctx, c.in, func(m protocol.Message) error {
			select {
			case c.frames <- Frame{Msg: m}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return c, nil
}

type inprocConn struct {
	in     chan protocol.Message
	frames chan Frame
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (c *inprocConn) Send(m protocol.Message) error {
	select {
	case c.in <- m:
		return nil
	case <-c.ctx.Done():
		return errConnClosed
	}
}

func (c *inprocConn) Frames() <-chan Frame { return c.frames }

// Close stops the worker; a running script is interrupted.
func (c *inprocConn) Close() error {
	c.once.Do(c.cancel)
	return nil
}
