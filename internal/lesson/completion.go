package lesson

import (
	"sort"
	"sync"
)

// CompletionSet holds the marker ids a lesson view has seen answered correctly.
// One set is owned by each view and shared by reference with all of its
// exercise instances.
type CompletionSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewCompletionSet creates a set seeded with already-completed markers
func NewCompletionSet(seed ...string) *CompletionSet {
	s := &CompletionSet{ids: make(map[string]struct{}, len(seed))}
	for _, id := range seed {
		if id != "" {
			s.ids[id] = struct{}{}
		}
	}
	return s
}

// Has reports whether a marker is complete
func (s *CompletionSet) Has(markerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[markerID]
	return ok
}

// Mark records a marker as complete; it reports false if it already was
func (s *CompletionSet) Mark(markerID string) bool {
	if markerID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[markerID]; ok {
		return false
	}
	s.ids[markerID] = struct{}{}
	return true
}

// Len returns the number of completed markers
func (s *CompletionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// IDs returns the completed markers in sorted order
func (s *CompletionSet) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
