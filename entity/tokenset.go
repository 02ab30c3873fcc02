// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package entity

import (
	"encoding/json"
	"math/big"
)

// TokenIDSet is an insertion-ordered set of token ids. The zero value is empty.
type TokenIDSet struct {
	ids []string
}

// NewTokenIDSet builds a set from ids, dropping duplicates
func NewTokenIDSet(ids ...*big.Int) TokenIDSet {
	var s TokenIDSet
	for _, id := range ids {
		s.Insert(id)
	}
	return s
}

func (s *TokenIDSet) index(key string) int {
	for i, id := range s.ids {
		if id == key {
			return i
		}
	}
	return -1
}

// Insert adds id and reports whether it was absent
func (s *TokenIDSet) Insert(id *big.Int) bool {
	key := TokenKey(id)
	if s.index(key) >= 0 {
		return false
	}
	s.ids = append(s.ids, key)
	return true
}

// Remove deletes id and reports whether it was present
func (s *TokenIDSet) Remove(id *big.Int) bool {
	i := s.index(TokenKey(id))
	if i < 0 {
		return false
	}
	s.ids = append(s.ids[:i], s.ids[i+1:]...)
	return true
}

// Contains reports whether id is in the set
func (s TokenIDSet) Contains(id *big.Int) bool {
	return s.index(TokenKey(id)) >= 0
}

// Len returns the number of ids
func (s TokenIDSet) Len() int {
	return len(s.ids)
}

// Values returns a copy of the ids in insertion order
func (s TokenIDSet) Values() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

func (s TokenIDSet) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

func (s *TokenIDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	s.ids = s.ids[:0]
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	return nil
}
