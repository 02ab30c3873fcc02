// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/luxfi/binaryindexer/storage"
)

type opKey struct {
	kind storage.Kind
	id   string
}

// txn buffers the writes of one handler invocation. Reads see buffered
// writes; nothing reaches the repository until commit, so an aborted handler
// leaves the store untouched.
type txn struct {
	ctx   context.Context
	repo  storage.Repository
	ops   map[opKey]storage.Op
	order []opKey
}

func newTxn(ctx context.Context, repo storage.Repository) *txn {
	return &txn{ctx: ctx, repo: repo, ops: make(map[opKey]storage.Op)}
}

func (t *txn) record(op storage.Op) {
	k := opKey{op.Kind, op.ID}
	if _, ok := t.ops[k]; !ok {
		t.order = append(t.order, k)
	}
	t.ops[k] = op
}

func (t *txn) save(kind storage.Kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	t.record(storage.Op{Kind: kind, ID: id, Value: data})
	return nil
}

func (t *txn) remove(kind storage.Kind, id string) {
	t.record(storage.Op{Kind: kind, ID: id, Delete: true})
}

// load returns the aggregate under (kind, id), or nil if absent
func load[T any](t *txn, kind storage.Kind, id string) (*T, error) {
	if op, ok := t.ops[opKey{kind, id}]; ok {
		if op.Delete {
			return nil, nil
		}
		v := new(T)
		if err := json.Unmarshal(op.Value, v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kind, id, err)
		}
		return v, nil
	}
	return storage.Load[T](t.ctx, t.repo, kind, id)
}

// loadAll returns every aggregate of kind with the id prefix, in id order,
// including buffered writes.
func loadAll[T any](t *txn, kind storage.Kind, prefix string) ([]*T, error) {
	kvs, err := t.repo.List(t.ctx, kind, prefix, 0)
	if err != nil {
		return nil, fmt.Errorf("list %s %q: %w", kind, prefix, err)
	}
	merged := make(map[string][]byte, len(kvs))
	for _, kv := range kvs {
		merged[kv.Key] = kv.Value
	}
	for k, op := range t.ops {
		if k.kind != kind || !strings.HasPrefix(k.id, prefix) {
			continue
		}
		if op.Delete {
			delete(merged, k.id)
		} else {
			merged[k.id] = op.Value
		}
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		v := new(T)
		if err := json.Unmarshal(merged[id], v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kind, id, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *txn) commit() error {
	if len(t.order) == 0 {
		return nil
	}
	ops := make([]storage.Op, 0, len(t.order))
	for _, k := range t.order {
		ops = append(ops, t.ops[k])
	}
	return t.repo.Write(t.ctx, ops)
}
