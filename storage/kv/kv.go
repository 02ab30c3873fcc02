// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package kv provides the aggregate repository on top of github.com/luxfi/database.
// The indexer can run on its own BadgerDB, in memory, or inside the node's
// database under a prefix.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"

	"github.com/luxfi/binaryindexer/storage"
)

// PrefixEntities namespaces every aggregate inside the underlying database
var PrefixEntities = []byte("ent:")

// Config for the KV store
type Config struct {
	// Path to the database directory (for file-based backends)
	Path string

	// InProcess enables sharing the node's database
	InProcess bool

	// NodeDB is the node's database (only used when InProcess is true)
	NodeDB database.Database

	// Prefix to use for indexer data (to avoid conflicts with node data)
	Prefix []byte
}

// Store implements storage.Repository over a luxfi/database.Database.
// Keys are kind:id inside the entities prefix.
type Store struct {
	db       database.Database
	entities database.Database
	owned    bool // whether we own the db and should close it

	mu     sync.RWMutex
	closed bool
}

var _ storage.Repository = (*Store)(nil)

// New creates a new KV store
func New(cfg Config) (*Store, error) {
	var db database.Database
	var owned bool

	if cfg.InProcess && cfg.NodeDB != nil {
		prefix := cfg.Prefix
		if len(prefix) == 0 {
			prefix = []byte("binaryindexer:")
		}
		db = prefixdb.New(prefix, cfg.NodeDB)
	} else {
		var err error
		db, err = badgerdb.New(cfg.Path, nil, "", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open badgerdb: %w", err)
		}
		owned = true
	}

	return wrap(db, owned), nil
}

// NewMemory creates an in-memory KV store (for testing)
func NewMemory() *Store {
	return wrap(memdb.New(), true)
}

func wrap(db database.Database, owned bool) *Store {
	return &Store{
		db:       db,
		entities: prefixdb.New(PrefixEntities, db),
		owned:    owned,
	}
}

// Database returns the underlying database
func (s *Store) Database() database.Database {
	return s.db
}

// Key builds the storage key of an aggregate
func Key(kind storage.Kind, id string) []byte {
	return CompositeKey([]byte(kind), []byte(id))
}

func mapErr(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return storage.ErrNotFound
	}
	if errors.Is(err, database.ErrClosed) {
		return storage.ErrClosed
	}
	return err
}

// Get retrieves a value
func (s *Store) Get(_ context.Context, kind storage.Kind, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	v, err := s.entities.Get(Key(kind, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return v, nil
}

// Put stores a value
func (s *Store) Put(_ context.Context, kind storage.Kind, id string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return mapErr(s.entities.Put(Key(kind, id), value))
}

// Delete removes a key
func (s *Store) Delete(_ context.Context, kind storage.Kind, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return mapErr(s.entities.Delete(Key(kind, id)))
}

// Has checks if a key exists
func (s *Store) Has(kind storage.Kind, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, storage.ErrClosed
	}
	return s.entities.Has(Key(kind, id))
}

// List iterates ids of kind starting with prefix in key order
func (s *Store) List(_ context.Context, kind storage.Kind, prefix string, limit int) ([]storage.KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	kindPrefix := Key(kind, "")
	iter := s.entities.NewIteratorWithPrefix(Key(kind, prefix))
	defer iter.Release()

	var results []storage.KV
	for iter.Next() && (limit == 0 || len(results) < limit) {
		results = append(results, storage.KV{
			Key:   string(iter.Key()[len(kindPrefix):]),
			Value: append([]byte{}, iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, mapErr(err)
	}
	return results, nil
}

// Write applies ops in a single batch
func (s *Store) Write(_ context.Context, ops []storage.Op) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}

	batch := s.entities.NewBatch()
	for _, op := range ops {
		var err error
		if op.Delete {
			err = batch.Delete(Key(op.Kind, op.ID))
		} else {
			err = batch.Put(Key(op.Kind, op.ID), op.Value)
		}
		if err != nil {
			return fmt.Errorf("batch %s %s: %w", op.Kind, op.ID, err)
		}
	}
	return mapErr(batch.Write())
}

// HealthCheck performs a health check
func (s *Store) HealthCheck(ctx context.Context) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	return s.db.HealthCheck(ctx)
}

// Close closes the store
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	// Only close if we own the database
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// CompositeKey creates a composite key from multiple parts
func CompositeKey(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p) + 1 // +1 for separator
	}
	key := make([]byte, 0, size)
	for i, p := range parts {
		if i > 0 {
			key = append(key, ':')
		}
		key = append(key, p...)
	}
	return key
}
