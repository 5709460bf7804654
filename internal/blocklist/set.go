package blocklist

import (
	"slices"
	"sync"
)

// Set maps world ids to their deduplicated rules. Rules keep first-seen
// order. Set is safe for concurrent readers once loaded.
type Set struct {
	mu     sync.RWMutex
	worlds map[string][]ObjectRule
	keys   map[string]map[string]struct{}
}

func NewSet() *Set {
	return &Set{worlds: map[string][]ObjectRule{}, keys: map[string]map[string]struct{}{}}
}

// Add unions rules into worldID's set and returns how many were new.
func (s *Set) Add(worldID string, rules ...ObjectRule) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen, ok := s.keys[worldID]
	if !ok {
		seen = map[string]struct{}{}
		s.keys[worldID] = seen
	}
	added := 0
	for _, r := range rules {
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		s.worlds[worldID] = append(s.worlds[worldID], r)
		added++
	}
	return added
}

// Merge unions every block of doc.
func (s *Set) Merge(doc Document) {
	for _, b := range doc.Blocks {
		if b.WorldID == "" {
			continue
		}
		s.Add(b.WorldID, b.GameObjects...)
	}
}

// For returns a copy of worldID's rules.
func (s *Set) For(worldID string) []ObjectRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.worlds[worldID])
}

func (s *Set) Has(worldID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.worlds[worldID]) > 0
}

func (s *Set) Worlds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.worlds))
	for w := range s.worlds {
		out = append(out, w)
	}
	slices.Sort(out)
	return out
}

// Len is the total rule count across worlds.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rs := range s.worlds {
		n += len(rs)
	}
	return n
}
