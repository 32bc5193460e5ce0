// Package events publishes one audit record per script execution to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/core/observability"
)

// Event is the audit record. The script text itself is never published,
// only its fingerprint.
type Event struct {
	ExecutionID string    `json:"executionId"`
	SessionID   string    `json:"sessionId,omitempty"`
	ScriptHash  string    `json:"scriptHash"`
	ScriptBytes int       `json:"scriptBytes"`
	Status      string    `json:"status"`
	Kind        string    `json:"kind,omitempty"`
	DurationMS  float64   `json:"durationMs"`
	LogEntries  int       `json:"logEntries"`
	OutputBytes int       `json:"outputBytes"`
	Layers      int       `json:"layers"`
	TS          time.Time `json:"ts"`
}

// NewEvent summarizes one execution.
func NewEvent(executionID, sessionID, script string, ectx model.ExecutionContext, res model.ExecutionResult) Event {
	return Event{
		ExecutionID: executionID,
		SessionID:   sessionID,
		ScriptHash:  fmt.Sprintf("%016x", xxhash.Sum64String(script)),
		ScriptBytes: len(script),
		Status:      string(res.Status),
		Kind:        string(res.Kind()),
		DurationMS:  float64(res.Duration) / float64(time.Millisecond),
		LogEntries:  len(res.Logs),
		OutputBytes: len(res.Output),
		Layers:      len(ectx.Layers),
		TS:          time.Now().UTC(),
	}
}

// Sink receives events. Publish must not block the request path.
type Sink interface {
	Publish(ev Event)
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Close() error  { return nil }

type Publisher struct {
	topic    string
	log      *slog.Logger
	events   chan Event
	prod     sarama.AsyncProducer
	stopped  chan struct{}
	errsDone chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, log), nil
}

// NewWithProducer wraps an existing producer; the Publisher takes ownership.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p := &Publisher{
		topic:    topic,
		log:      log,
		events:   make(chan Event, queueSize),
		prod:     prod,
		stopped:  make(chan struct{}),
		errsDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncEventDropped("encode")
				p.log.Error("events: marshal failed", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.SessionID),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errsDone)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncEventDropped("producer")
				p.log.Warn("events: producer error", "err", err.Err)
			}
		}
	}()

	return p
}

// Publish enqueues ev, dropping it when the queue is full.
func (p *Publisher) Publish(ev Event) {
	select {
	case p.events <- ev:
	default:
		observability.IncEventDropped("queue_full")
	}
}

// Close flushes queued events and closes the producer.
func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	err := p.prod.Close()
	<-p.errsDone
	if err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
