// Package protocol defines the messages exchanged between a bridge and a
// sandbox worker, and their newline-delimited JSON framing.
package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

type Kind string

const (
	KindExecute Kind = "execute"
	KindCancel  Kind = "cancel"
	KindResult  Kind = "result"
)

// MaxMessageBytes bounds one framed message.
const MaxMessageBytes = 64 << 20

// Message is one frame. Execute carries Script and Context, Cancel only ID,
// Result the outcome for ID.
type Message struct {
	Kind    Kind                   `json:"kind"`
	ID      string                 `json:"id"`
	Script  string                 `json:"script,omitempty"`
	Context json.RawMessage        `json:"context,omitempty"`
	Result  *model.ExecutionResult `json:"result,omitempty"`
}

var ErrInvalidMessage = errors.New("invalid message")

// Validate checks the fields required by Kind.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	switch m.Kind {
	case KindExecute:
		if len(m.Context) == 0 {
			return fmt.Errorf("%w: execute without context", ErrInvalidMessage)
		}
	case KindCancel:
	case KindResult:
		if m.Result == nil {
			return fmt.Errorf("%w: result without payload", ErrInvalidMessage)
		}
		if err := m.Result.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

func Execute(id, script string, ectx model.ExecutionContext) (Message, error) {
	raw, err := json.Marshal(ectx)
	if err != nil {
		return Message{}, fmt.Errorf("encode context: %w", err)
	}
	return Message{Kind: KindExecute, ID: id, Script: script, Context: raw}, nil
}

func Cancel(id string) Message { return Message{Kind: KindCancel, ID: id} }

func Result(id string, r model.ExecutionResult) Message {
	return Message{Kind: KindResult, ID: id, Result: &r}
}

// Encoder writes one JSON object per line. Safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder { return &Encoder{enc: json.NewEncoder(w)} }

func (e *Encoder) Encode(m Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(m); err != nil {
		return fmt.Errorf("encode %s message: %w", m.Kind, err)
	}
	return nil
}

// Decoder reads newline-delimited messages.
type Decoder struct {
	sc *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), MaxMessageBytes)
	return &Decoder{sc: sc}
}

// Decode returns io.EOF when the stream ends cleanly. Malformed frames return
// an error wrapping ErrInvalidMessage; the stream stays usable.
func (d *Decoder) Decode() (Message, error) {
	for d.sc.Scan() {
		line := d.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return m, nil
	}
	if err := d.sc.Err(); err != nil {
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	return Message{}, io.EOF
}
