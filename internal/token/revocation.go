// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package token

import "sync"

// revocationSet is the process-wide set of revoked token ids. Inserts are
// monotonic: once a token id is added it is never removed for the life of
// the process. Duplicate inserts are no-ops.
type revocationSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func newRevocationSet() *revocationSet {
	return &revocationSet{ids: make(map[string]struct{})}
}

// Add inserts id, reporting whether it was newly added.
func (s *revocationSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *revocationSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *revocationSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
