package sealer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrContentNotFound indicates an unknown content reference.
	ErrContentNotFound = errors.New("content not found")

	// ErrLedgerNotFound indicates an unknown ledger reference.
	ErrLedgerNotFound = errors.New("ledger entry not found")
)

// ContentStore holds serialized reports under opaque references.
type ContentStore interface {
	Put(ctx context.Context, content []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Ledger records sealing payloads. Submission is at-least-once; submitting
// the same payload twice yields the same reference.
type Ledger interface {
	Submit(ctx context.Context, payload []byte) (string, error)
	Confirm(ctx context.Context, ref string) (bool, error)
}

// LedgerReader is implemented by ledgers that can return a recorded payload.
type LedgerReader interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

const memoryContentScheme = "sha256:"

// MemoryContentStore is a content-addressed in-process store.
type MemoryContentStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryContentStore creates an empty store.
func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{blobs: make(map[string][]byte)}
}

// Put stores content under its digest.
func (s *MemoryContentStore) Put(_ context.Context, content []byte) (string, error) {
	ref := memoryContentScheme + hexSum(content)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; !ok {
		s.blobs[ref] = append([]byte(nil), content...)
	}
	return ref, nil
}

// Get returns the content stored under ref.
func (s *MemoryContentStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, ref)
	}
	return append([]byte(nil), b...), nil
}

const memoryLedgerScheme = "memledger:"

// MemoryLedger is an append-only in-process ledger that deduplicates
// identical payloads.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries [][]byte
	index   map[string]int
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{index: make(map[string]int)}
}

// Submit appends payload unless an identical payload was already recorded.
func (l *MemoryLedger) Submit(_ context.Context, payload []byte) (string, error) {
	key := hexSum(payload)
	l.mu.Lock()
	defer l.mu.Unlock()
	seq, ok := l.index[key]
	if !ok {
		l.entries = append(l.entries, append([]byte(nil), payload...))
		seq = len(l.entries)
		l.index[key] = seq
	}
	return memoryLedgerScheme + strconv.Itoa(seq), nil
}

// Confirm reports whether ref was recorded.
func (l *MemoryLedger) Confirm(ctx context.Context, ref string) (bool, error) {
	_, err := l.Fetch(ctx, ref)
	if errors.Is(err, ErrLedgerNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Fetch returns the payload recorded under ref.
func (l *MemoryLedger) Fetch(_ context.Context, ref string) ([]byte, error) {
	seq, err := strconv.Atoi(strings.TrimPrefix(ref, memoryLedgerScheme))
	if err != nil || !strings.HasPrefix(ref, memoryLedgerScheme) {
		return nil, fmt.Errorf("%w: malformed reference %q", ErrLedgerNotFound, ref)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 1 || seq > len(l.entries) {
		return nil, fmt.Errorf("%w: %s", ErrLedgerNotFound, ref)
	}
	return append([]byte(nil), l.entries[seq-1]...), nil
}

// Len returns the number of distinct recorded payloads.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
