// Package sessions keeps one bridge per client session. Sessions are held in
// an LRU; an evicted session's bridge is closed.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

// Bridge is the part of *bridge.Bridge a session needs.
type Bridge interface {
	Execute(ctx context.Context, script string, ectx model.ExecutionContext) (model.ExecutionResult, error)
	Cancel() bool
	Close() error
}

type Factory func() (Bridge, error)

var ErrInvalidSession = errors.New("sessions: invalid session id")

type Registry struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, Bridge]
	factory Factory
	log     *slog.Logger
}

func New(size int, factory Factory, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	r := &Registry{factory: factory, log: log}
	cache, err := lru.NewWithEvict(size, func(id string, b Bridge) {
		if err := b.Close(); err != nil {
			log.Warn("session bridge close failed", "session_id", id, "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	r.cache = cache
	return r, nil
}

// Get returns the session's bridge, creating it on first use.
func (r *Registry) Get(id string) (Bridge, error) {
	if id == "" || len(id) > 128 {
		return nil, ErrInvalidSession
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.cache.Get(id); ok {
		return b, nil
	}
	b, err := r.factory()
	if err != nil {
		return nil, fmt.Errorf("sessions: new bridge: %w", err)
	}
	r.cache.Add(id, b)
	r.log.Debug("session opened", "session_id", id)
	return b, nil
}

// Lookup returns an existing session's bridge without creating one.
func (r *Registry) Lookup(id string) (Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Get(id)
}

// End closes and forgets one session.
func (r *Registry) End(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Remove(id)
}

func (r *Registry) Len() int { return r.cache.Len() }

// Close ends every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
}
