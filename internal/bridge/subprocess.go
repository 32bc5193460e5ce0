package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/mohammed-shakir/geosandbox/internal/sandbox/protocol"
)

// Subprocess runs each worker as a child process speaking newline-delimited
// JSON on stdin/stdout. The child gets only Env, never the host environment.
type Subprocess struct {
	Path   string
	Args   []string
	Env    []string
	Stderr io.Writer
	Logger *slog.Logger
}

func (t Subprocess) Start() (Conn, error) {
	cmd := exec.Command(t.Path, t.Args...)
	cmd.Env = append([]string{}, t.Env...)
	cmd.Stderr = t.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", t.Path, err)
	}
	log := t.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &procConn{
		cmd:    cmd,
		stdin:  stdin,
		enc:    protocol.NewEncoder(stdin),
		frames: make(chan Frame, 4),
		exited: make(chan struct{}),
	}
	go c.read(protocol.NewDecoder(stdout), log)
	return c, nil
}

type procConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *protocol.Encoder
	frames chan Frame
	exited chan struct{}
	once   sync.Once
}

func (c *procConn) read(dec *protocol.Decoder, log *slog.Logger) {
	defer close(c.exited)
	defer close(c.frames)
	for {
		m, err := dec.Decode()
		if errors.Is(err, protocol.ErrInvalidMessage) {
			c.frames <- Frame{Err: err}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("worker stream ended", "err", err)
			}
			break
		}
		c.frames <- Frame{Msg: m}
	}
	if err := c.cmd.Wait(); err != nil {
		log.Debug("worker process exited", "pid", c.cmd.Process.Pid, "err", err)
	}
}

func (c *procConn) Send(m protocol.Message) error {
	select {
	case <-c.exited:
		return errConnClosed
	default:
	}
	return c.enc.Encode(m)
}

func (c *procConn) Frames() <-chan Frame { return c.frames }

// Close kills the process. The frame channel closes once it is reaped.
func (c *procConn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.stdin.Close()
		if kerr := c.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = fmt.Errorf("kill worker: %w", kerr)
		}
	})
	return err
}
