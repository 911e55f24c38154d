package report

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound indicates no report matches the lookup.
	ErrNotFound = errors.New("report not found")

	// ErrVersionConflict indicates an append raced another version.
	ErrVersionConflict = errors.New("report version conflict")
)

// Store keeps every version of every report in memory.
type Store struct {
	mu        sync.RWMutex
	versions  map[string][]*Report
	byLedger  map[string]*Report
	byContent map[string]*Report
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		versions:  make(map[string][]*Report),
		byLedger:  make(map[string]*Report),
		byContent: make(map[string]*Report),
	}
}

// Append stores r as the next version for its execution and returns the
// stored copy. r.Version must be zero or the next version number.
func (s *Store) Append(r *Report) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := len(s.versions[r.ExecutionID]) + 1
	if r.Version != 0 && r.Version != next {
		return nil, fmt.Errorf("%w: execution %s has %d versions, got version %d",
			ErrVersionConflict, r.ExecutionID, next-1, r.Version)
	}
	stored := r.Clone()
	stored.Version = next
	s.versions[r.ExecutionID] = append(s.versions[r.ExecutionID], stored)
	if ref := stored.Integrity.LedgerReference; ref != "" {
		s.byLedger[ref] = stored
	}
	if ref := stored.Integrity.ContentReference; ref != "" {
		s.byContent[ref] = stored
	}
	return stored.Clone(), nil
}

// Latest returns the newest version for executionID.
func (s *Store) Latest(executionID string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[executionID]
	if len(vs) == 0 {
		return nil, fmt.Errorf("%w: execution %s", ErrNotFound, executionID)
	}
	return vs[len(vs)-1].Clone(), nil
}

// Version returns one version for executionID.
func (s *Store) Version(executionID string, version int) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[executionID]
	if version < 1 || version > len(vs) {
		return nil, fmt.Errorf("%w: execution %s version %d", ErrNotFound, executionID, version)
	}
	return vs[version-1].Clone(), nil
}

// History returns every version for executionID, oldest first.
func (s *Store) History(executionID string) []*Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[executionID]
	out := make([]*Report, len(vs))
	for i, r := range vs {
		out[i] = r.Clone()
	}
	return out
}

// List returns the latest version of every report, newest first.
func (s *Store) List() []*Report {
	s.mu.RLock()
	out := make([]*Report, 0, len(s.versions))
	for _, vs := range s.versions {
		out = append(out, vs[len(vs)-1].Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ExecutionID < out[j].ExecutionID
	})
	return out
}

// ByLedger returns the report sealed under a ledger reference.
func (s *Store) ByLedger(ref string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byLedger[ref]
	if !ok {
		return nil, fmt.Errorf("%w: ledger reference %s", ErrNotFound, ref)
	}
	return r.Clone(), nil
}

// ByContent returns the report whose content is stored under ref.
func (s *Store) ByContent(ref string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byContent[ref]
	if !ok {
		return nil, fmt.Errorf("%w: content reference %s", ErrNotFound, ref)
	}
	return r.Clone(), nil
}
