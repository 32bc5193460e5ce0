package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/geosandbox/internal/layerstore"
)

// Store implements layerstore.Store on a Client. Records expire after ttl.
type Store struct {
	cli       *Client
	ttl       time.Duration
	opTimeout time.Duration
}

func NewStore(cli *Client, ttl, opTimeout time.Duration) *Store {
	return &Store{cli: cli, ttl: ttl, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Get(ctx context.Context, id string) (layerstore.Record, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	b, err := s.cli.Get(ctx, layerKey(id))
	if errors.Is(err, errMiss) {
		return layerstore.Record{}, layerstore.ErrNotFound
	}
	if err != nil {
		return layerstore.Record{}, err
	}
	var r layerstore.Record
	if err := json.Unmarshal(b, &r); err != nil {
		return layerstore.Record{}, fmt.Errorf("decode layer %q: %w", id, err)
	}
	return r, nil
}

// GetByName returns the layer most recently stored under name.
func (s *Store) GetByName(ctx context.Context, name string) (layerstore.Record, error) {
	octx, cancel := s.opCtx(ctx)
	id, err := s.cli.Get(octx, nameKey(name))
	cancel()
	if errors.Is(err, errMiss) {
		return layerstore.Record{}, layerstore.ErrNotFound
	}
	if err != nil {
		return layerstore.Record{}, err
	}
	return s.Get(ctx, string(id))
}

func (s *Store) Put(ctx context.Context, r layerstore.Record) error {
	if r.ID == "" {
		return errors.New("layerstore: record without id")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode layer %q: %w", r.ID, err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.cli.SetPair(ctx, layerKey(r.ID), body, nameKey(r.Name), []byte(r.ID), s.ttl)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.cli.Ping(ctx)
}
