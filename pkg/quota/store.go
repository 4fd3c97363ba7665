// Package quota holds the shared in-memory model of disk space usage and
// configured limits, keyed by entity within a scope.
package quota

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// NoLimit as a LimitBytes value means no quota is configured for the entity.
const NoLimit int64 = -1

// ErrStoreFull is returned by Update when the store already holds its
// configured capacity of entries and the key is new.
var ErrStoreFull = errors.New("quota store full")

// Entry is the tracked state of one entity within one scope.  UsedBytes is
// always the last value pushed by the refresher; the store never computes
// sizes on its own.
type Entry struct {
	Entity     string
	Scope      string
	UsedBytes  int64
	LimitBytes int64
}

type entryKey struct {
	entity string
	scope  string
}

// Store maps (entity, scope) to the last refreshed usage and limit.  One
// RWMutex protects the whole map; no operation performs I/O while holding
// it, so hold times stay short regardless of store size.
//
// A nil *Store behaves like a store that was never initialized: lookups and
// enumerations find nothing, which callers treat as "quota unknown".
type Store struct {
	mu       sync.RWMutex
	capacity int
	entries  map[entryKey]Entry
}

// New returns an empty store bounded to capacity live entries.
func New(capacity int) *Store {
	return &Store{
		capacity: capacity,
		entries:  make(map[entryKey]Entry, capacity),
	}
}

// Update creates or replaces the entry for (entity, scope).  Usage and
// limit are replaced together; a concurrent Lookup sees either the old
// pair or the new one, never a mix.
func (s *Store) Update(entity, scope string, usedBytes, limitBytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entryKey{entity: entity, scope: scope}
	if _, ok := s.entries[k]; !ok && len(s.entries) >= s.capacity {
		return fmt.Errorf("%w (%d entries): cannot track %q in scope %q",
			ErrStoreFull, s.capacity, entity, scope)
	}
	s.entries[k] = Entry{
		Entity:     entity,
		Scope:      scope,
		UsedBytes:  usedBytes,
		LimitBytes: limitBytes,
	}
	return nil
}

// Lookup returns the entry for (entity, scope).  The second return is
// false when the key is absent or the store is nil; callers treat both
// the same way.
func (s *Store) Lookup(entity, scope string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryKey{entity: entity, scope: scope}]
	return e, ok
}

// Enumerate returns a snapshot of all entries of one scope, taken under a
// single read critical section and sorted by entity for stable reporting.
func (s *Store) Enumerate(scope string) []Entry {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	var entries []Entry
	for k, e := range s.entries {
		if k.scope == scope {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Entity < entries[j].Entity })
	return entries
}

// Reset removes every entry of scope and nothing else.  A process calls it
// once before becoming authoritative for the scope, to discard entries a
// previous, abnormally terminated instance may have left behind.
func (s *Store) Reset(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if k.scope == scope {
			delete(s.entries, k)
		}
	}
}

// Len returns the number of live entries across all scopes.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
