// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package storage provides the pluggable aggregate repository for the indexer.
// Aggregates are JSON documents addressed by (kind, id). Supported backends:
// in-memory and BadgerDB (see storage/kv), PostgreSQL and SQLite.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Backend identifies the storage backend type
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendBadger   Backend = "badger"
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// Config for storage backend
type Config struct {
	Backend Backend
	URL     string            // Connection URL (postgres://) or sqlite file path
	Options map[string]string // Backend-specific options
	DataDir string            // For file-based backends (BadgerDB, SQLite)
}

// Kind names an aggregate keyspace
type Kind string

// KindMeta holds indexer bookkeeping such as the follower cursor
const KindMeta Kind = "meta"

// KV represents a key-value pair
type KV struct {
	Key   string
	Value []byte
}

// Op is one write in an atomic batch. A nil Value with Delete set removes the key.
type Op struct {
	Kind   Kind
	ID     string
	Value  []byte
	Delete bool
}

// Repository is the aggregate store used by the ledger and the query API.
type Repository interface {
	// Get returns ErrNotFound if the id is absent.
	Get(ctx context.Context, kind Kind, id string) ([]byte, error)
	Put(ctx context.Context, kind Kind, id string, value []byte) error
	Delete(ctx context.Context, kind Kind, id string) error
	// List returns entries whose id starts with prefix in ascending id order.
	// A limit of 0 means no limit.
	List(ctx context.Context, kind Kind, prefix string, limit int) ([]KV, error)
	// Write applies ops atomically.
	Write(ctx context.Context, ops []Op) error
	Close() error
}

// Errors
var (
	ErrNotFound     = errors.New("not found")
	ErrNotSupported = errors.New("not supported by this backend")
	ErrClosed       = errors.New("store is closed")
)

// ParseBackend parses a backend string
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "memory", "mem", "memdb":
		return BackendMemory, nil
	case "badger", "badgerdb":
		return BackendBadger, nil
	case "postgres", "postgresql", "pg":
		return BackendPostgres, nil
	case "sqlite", "sqlite3":
		return BackendSQLite, nil
	default:
		return "", fmt.Errorf("unknown backend: %s", s)
	}
}

// Load decodes the aggregate stored under (kind, id). It returns nil, nil
// when the id is absent.
func Load[T any](ctx context.Context, r Repository, kind Kind, id string) (*T, error) {
	data, err := r.Get(ctx, kind, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return v, nil
}

// Save encodes v and stores it under (kind, id)
func Save(ctx context.Context, r Repository, kind Kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	return r.Put(ctx, kind, id, data)
}

// LoadAll decodes every aggregate of kind whose id starts with prefix
func LoadAll[T any](ctx context.Context, r Repository, kind Kind, prefix string, limit int) ([]*T, error) {
	kvs, err := r.List(ctx, kind, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s %q: %w", kind, prefix, err)
	}
	out := make([]*T, 0, len(kvs))
	for _, kv := range kvs {
		v := new(T)
		if err := json.Unmarshal(kv.Value, v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kind, kv.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
