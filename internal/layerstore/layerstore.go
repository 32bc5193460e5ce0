// Package layerstore persists layers that scripts may reference by id, and
// admits script output as new layers only after validating it.
package layerstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

var ErrNotFound = errors.New("layer not found")

// Record is a stored layer.
type Record struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Style     map[string]any          `json:"style,omitempty"`
	Data      model.FeatureCollection `json:"data"`
	Hash      string                  `json:"hash"`
	CreatedAt time.Time               `json:"createdAt"`
}

// Layer is the script-facing view of r.
func (r Record) Layer() model.Layer {
	return model.Layer{ID: r.ID, Name: r.Name, Data: r.Data.Clone()}
}

type Store interface {
	Get(ctx context.Context, id string) (Record, error)
	Put(ctx context.Context, r Record) error
	Ping(ctx context.Context) error
}

// NameLookup is implemented by stores that index layers by name.
type NameLookup interface {
	GetByName(ctx context.Context, name string) (Record, error)
}

// Resolve loads refs in order; each ref is an id or, when s supports it, a
// layer name. A missing ref fails the whole call with an error wrapping
// ErrNotFound.
func Resolve(ctx context.Context, s Store, refs []string) ([]model.Layer, error) {
	out := make([]model.Layer, 0, len(refs))
	for _, ref := range refs {
		r, err := s.Get(ctx, ref)
		if errors.Is(err, ErrNotFound) {
			if nl, ok := s.(NameLookup); ok {
				r, err = nl.GetByName(ctx, ref)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", ref, err)
		}
		out = append(out, r.Layer())
	}
	return out, nil
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	recs   map[string]Record
	byName map[string]string
}

func NewMemory() *Memory {
	return &Memory{recs: map[string]Record{}, byName: map[string]string{}}
}

func (m *Memory) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recs[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	r.Data = r.Data.Clone()
	return r, nil
}

func (m *Memory) Put(_ context.Context, r Record) error {
	if r.ID == "" {
		return errors.New("layerstore: record without id")
	}
	r.Data = r.Data.Clone()
	m.mu.Lock()
	m.recs[r.ID] = r
	m.byName[nameIndex(r.Name)] = r.ID
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetByName(ctx context.Context, name string) (Record, error) {
	m.mu.RLock()
	id, ok := m.byName[nameIndex(name)]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return m.Get(ctx, id)
}

func nameIndex(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func (m *Memory) Ping(context.Context) error { return nil }
