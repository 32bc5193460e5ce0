// Package executor runs scripts on behalf of sessions. It assembles the
// execution snapshot from stored and inline layers, hands it to the session's
// bridge and publishes an audit event for every result.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/events"
	"github.com/mohammed-shakir/geosandbox/internal/layerstore"
	"github.com/mohammed-shakir/geosandbox/internal/logger"
	"github.com/mohammed-shakir/geosandbox/internal/sessions"
)

// ErrInvalidRequest marks input problems the caller can fix.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one script run. LayerRefs are resolved from the store (id first,
// then name) and precede inline Layers in the snapshot.
type Request struct {
	Script           string
	LayerRefs        []string
	Layers           []model.Layer
	SelectedFeatures []model.Feature
	MapBounds        *model.BBox
}

type Interface interface {
	Execute(ctx context.Context, sessionID string, req Request) (model.ExecutionResult, error)
	Cancel(sessionID string) bool
	EndSession(sessionID string) bool
	Adopt(ctx context.Context, output json.RawMessage, name string, style map[string]any) (layerstore.Record, error)
	Layer(ctx context.Context, id string) (layerstore.Record, error)
	Ready(ctx context.Context) error
}

type Executor struct {
	sessions *sessions.Registry
	store    layerstore.Store
	sink     events.Sink
	logger   *slog.Logger
	limits   layerstore.Limits
	newID    func() string
}

func New(reg *sessions.Registry, store layerstore.Store, sink events.Sink, log *slog.Logger) *Executor {
	if sink == nil {
		sink = events.Nop{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		sessions: reg,
		store:    store,
		sink:     sink,
		logger:   log,
		limits:   layerstore.Limits{MaxFeatures: layerstore.DefaultMaxFeatures},
		newID:    logger.NewID,
	}
}

// Execute runs req in the session's sandbox. A script failure is a normal
// result; the error return covers only host-side problems such as an unknown
// layer, an invalid session or a busy bridge.
func (e *Executor) Execute(ctx context.Context, sessionID string, req Request) (model.ExecutionResult, error) {
	ectx, err := e.snapshot(ctx, req)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	b, err := e.sessions.Get(sessionID)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("session: %w", err)
	}

	execID := e.newID()
	ctx = logger.WithExecutionID(logger.WithSessionID(ctx, sessionID), execID)

	res, err := b.Execute(ctx, req.Script, ectx)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("execute: %w", err)
	}

	e.logger.LogAttrs(ctx, slog.LevelInfo, "execution finished",
		slog.String("status", string(res.Status)),
		slog.String("kind", string(res.Kind())),
		slog.Duration("duration", res.Duration),
		slog.Int("logs", len(res.Logs)),
	)
	e.sink.Publish(events.NewEvent(execID, sessionID, req.Script, ectx, res))
	return res, nil
}

func (e *Executor) snapshot(ctx context.Context, req Request) (model.ExecutionContext, error) {
	if req.MapBounds != nil {
		if err := req.MapBounds.Validate(); err != nil {
			return model.ExecutionContext{}, fmt.Errorf("%w: mapBounds: %v", ErrInvalidRequest, err)
		}
	}
	stored, err := layerstore.Resolve(ctx, e.store, req.LayerRefs)
	if err != nil {
		return model.ExecutionContext{}, err
	}
	layers := append(stored, req.Layers...)
	seen := make(map[string]struct{}, len(layers))
	for _, l := range layers {
		if l.ID == "" {
			return model.ExecutionContext{}, fmt.Errorf("%w: layer without id", ErrInvalidRequest)
		}
		if _, dup := seen[l.ID]; dup {
			return model.ExecutionContext{}, fmt.Errorf("%w: duplicate layer id %q", ErrInvalidRequest, l.ID)
		}
		seen[l.ID] = struct{}{}
	}
	sel := req.SelectedFeatures
	if sel == nil {
		sel = []model.Feature{}
	}
	return model.ExecutionContext{Layers: layers, SelectedFeatures: sel, MapBounds: req.MapBounds}, nil
}

// Cancel cancels the session's in-flight execution, if any.
func (e *Executor) Cancel(sessionID string) bool {
	b, ok := e.sessions.Lookup(sessionID)
	if !ok {
		return false
	}
	return b.Cancel()
}

func (e *Executor) EndSession(sessionID string) bool {
	return e.sessions.End(sessionID)
}

// Adopt validates a script output and stores it as a new layer.
func (e *Executor) Adopt(ctx context.Context, output json.RawMessage, name string, style map[string]any) (layerstore.Record, error) {
	rec, err := layerstore.Adopt(output, name, style, e.limits)
	if err != nil {
		return layerstore.Record{}, err
	}
	start := time.Now()
	if err := e.store.Put(ctx, rec); err != nil {
		return layerstore.Record{}, fmt.Errorf("store layer: %w", err)
	}
	e.logger.LogAttrs(ctx, slog.LevelInfo, "layer adopted",
		slog.String("layer_id", rec.ID),
		slog.String("name", rec.Name),
		slog.Int("features", len(rec.Data.Features)),
		slog.Duration("store", time.Since(start)),
	)
	return rec, nil
}

func (e *Executor) Layer(ctx context.Context, id string) (layerstore.Record, error) {
	return e.store.Get(ctx, id)
}

func (e *Executor) Ready(ctx context.Context) error {
	return e.store.Ping(ctx)
}
