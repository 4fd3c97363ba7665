package events

import "sync"

// Sizes accumulates measured object sizes per entity.  It remembers the
// last size seen for every object path, so overwrites replace rather than
// double-count and removals subtract the remembered size.  It is the
// measured-usage input of the refresh cycle.
type Sizes struct {
	mu      sync.Mutex
	objects map[string]int64 // path -> last known size
	totals  map[string]int64 // entity -> total bytes
}

func NewSizes() *Sizes {
	return &Sizes{
		objects: make(map[string]int64),
		totals:  make(map[string]int64),
	}
}

// Apply records one object change for entity.
func (s *Sizes) Apply(entity string, c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.objects[c.Path]
	if c.Removed {
		delete(s.objects, c.Path)
		s.addTotal(entity, -prev)
		return
	}
	s.objects[c.Path] = c.SizeBytes
	s.addTotal(entity, c.SizeBytes-prev)
}

func (s *Sizes) addTotal(entity string, delta int64) {
	total := s.totals[entity] + delta
	if total < 0 {
		// A removal for an object we never saw created.
		total = 0
	}
	s.totals[entity] = total
}

// Snapshot returns a copy of the per-entity totals.
func (s *Sizes) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := make(map[string]int64, len(s.totals))
	for entity, total := range s.totals {
		totals[entity] = total
	}
	return totals
}
