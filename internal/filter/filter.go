// Package filter implements the per-sink event kind allow-lists.
package filter

import (
	"sync"

	"github.com/dylive/barrage-relay/internal/barrage"
)

// Set is an allow-list of event kinds. An empty set allows every kind.
// Replace swaps a complete snapshot, so a concurrent Allows call never
// observes a half-updated configuration.
type Set struct {
	mu      sync.RWMutex
	allowed map[barrage.EventKind]struct{}
}

// NewSet builds a set allowing only the given kinds; no kinds means
// allow-all.
func NewSet(kinds ...barrage.EventKind) *Set {
	s := &Set{}
	s.Replace(kinds)
	return s
}

// NewSetFromCodes builds a set from raw integer kind codes, as carried by
// the configuration surface. Non-positive codes are ignored.
func NewSetFromCodes(codes []int) *Set {
	kinds := make([]barrage.EventKind, 0, len(codes))
	for _, c := range codes {
		if c > 0 {
			kinds = append(kinds, barrage.EventKind(c))
		}
	}
	return NewSet(kinds...)
}

// Replace swaps the allow-list for a new one.
func (s *Set) Replace(kinds []barrage.EventKind) {
	var next map[barrage.EventKind]struct{}
	if len(kinds) > 0 {
		next = make(map[barrage.EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			next[k] = struct{}{}
		}
	}
	s.mu.Lock()
	s.allowed = next
	s.mu.Unlock()
}

// Allows reports whether the kind passes this filter.
func (s *Set) Allows(k barrage.EventKind) bool {
	s.mu.RLock()
	allowed := s.allowed
	s.mu.RUnlock()

	if len(allowed) == 0 {
		return true
	}
	_, ok := allowed[k]
	return ok
}

// Chain groups the three independent sink filters.
type Chain struct {
	Print *Set
	Push  *Set
	Log   *Set
}

// NewChain builds the filter chain from raw configuration codes.
func NewChain(printCodes, pushCodes, logCodes []int) *Chain {
	return &Chain{
		Print: NewSetFromCodes(printCodes),
		Push:  NewSetFromCodes(pushCodes),
		Log:   NewSetFromCodes(logCodes),
	}
}
