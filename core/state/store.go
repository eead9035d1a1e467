// Package state persists per-conversation and per-user bot state as JSON
// documents in a key-value store. Backends: process memory, PostgreSQL, Redis.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("state: store closed")

// Entry is one key/value pair written by SetMany.
type Entry struct {
	Key   string
	Value []byte
}

// Store is a minimal key-value store. Get reports a missing key with ok=false
// and a nil error. SetMany writes all entries or none.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	SetMany(ctx context.Context, entries ...Entry) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Accessor reads and writes values of T under a fixed key namespace.
type Accessor[T any] struct {
	store Store
	name  string
}

// NewAccessor binds a namespace such as "conversation" or "user" to store.
func NewAccessor[T any](store Store, name string) *Accessor[T] {
	return &Accessor[T]{store: store, name: name}
}

// Key returns the storage key for id.
func (a *Accessor[T]) Key(id string) string {
	return a.name + "/" + id
}

// Load returns the stored value for id, or the zero value of T when absent.
func (a *Accessor[T]) Load(ctx context.Context, id string) (T, error) {
	var v T
	raw, ok, err := a.store.Get(ctx, a.Key(id))
	if err != nil {
		return v, fmt.Errorf("state: load %s: %w", a.Key(id), err)
	}
	if !ok {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("state: decode %s: %w", a.Key(id), err)
	}
	return v, nil
}

// Entry encodes v for a batched write.
func (a *Accessor[T]) Entry(id string, v T) (Entry, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Entry{}, fmt.Errorf("state: encode %s: %w", a.Key(id), err)
	}
	return Entry{Key: a.Key(id), Value: raw}, nil
}

// Save writes v for id.
func (a *Accessor[T]) Save(ctx context.Context, id string, v T) error {
	e, err := a.Entry(id, v)
	if err != nil {
		return err
	}
	if err := a.store.Set(ctx, e.Key, e.Value); err != nil {
		return fmt.Errorf("state: save %s: %w", e.Key, err)
	}
	return nil
}

// Delete removes the value for id.
func (a *Accessor[T]) Delete(ctx context.Context, id string) error {
	if err := a.store.Delete(ctx, a.Key(id)); err != nil {
		return fmt.Errorf("state: delete %s: %w", a.Key(id), err)
	}
	return nil
}
