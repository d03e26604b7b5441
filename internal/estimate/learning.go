package estimate

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ErrStaleCorrection is returned when a correction is written with a version
// not newer than the stored one.
var ErrStaleCorrection = errors.New("stale correction version")

// Correction maps a raw ingredient name to a reference table key.
type Correction struct {
	Raw       string
	Key       string
	Version   int64
	UpdatedAt time.Time
}

// LearningStore is a versioned key-value store of corrections.
//
// Put with Version 0 always wins and stores the next version. Put with an
// explicit version wins only when it is greater than the stored version,
// otherwise it fails with ErrStaleCorrection.
type LearningStore interface {
	Get(ctx context.Context, raw string) (Correction, bool, error)
	Put(ctx context.Context, c Correction) (Correction, error)
}

// MemoryLearningStore is an in-process LearningStore.
type MemoryLearningStore struct {
	mu      sync.RWMutex
	entries map[string]Correction
	now     func() time.Time
}

var _ LearningStore = (*MemoryLearningStore)(nil)

// NewMemoryLearningStore returns an empty in-memory store.
func NewMemoryLearningStore() *MemoryLearningStore {
	return &MemoryLearningStore{
		entries: make(map[string]Correction),
		now:     time.Now,
	}
}

// Get returns the correction for raw.
func (s *MemoryLearningStore) Get(_ context.Context, raw string) (Correction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.entries[raw]
	return c, ok, nil
}

// Put stores c following last-write-wins by version.
func (s *MemoryLearningStore) Put(_ context.Context, c Correction) (Correction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.entries[c.Raw]
	next, err := nextVersion(prev.Version, c.Version)
	if err != nil {
		return prev, err
	}
	c.Version = next
	c.UpdatedAt = s.now().UTC()
	s.entries[c.Raw] = c
	return c, nil
}

// Len returns the number of stored corrections.
func (s *MemoryLearningStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func nextVersion(stored, requested int64) (int64, error) {
	if requested == 0 {
		return stored + 1, nil
	}
	if requested <= stored {
		return 0, ErrStaleCorrection
	}
	return requested, nil
}
