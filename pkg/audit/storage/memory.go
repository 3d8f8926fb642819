package storage

import (
	"context"
	"sort"
	"sync"

	"mercator-hq/gatekeeper/pkg/audit"
)

// MemoryStorage implements audit.Storage in memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries []*audit.Entry
	last    map[string]*audit.Entry
}

// NewMemoryStorage creates an empty memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{last: make(map[string]*audit.Entry)}
}

// Append stores a copy of entry.
func (s *MemoryStorage) Append(ctx context.Context, entry *audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.ID == entry.ID || (e.InstanceID == entry.InstanceID && e.Sequence == entry.Sequence) {
			return audit.NewStorageError("memory", "append", audit.ErrDuplicateSequence)
		}
	}

	stored := entry.Clone()
	s.entries = append(s.entries, stored)
	if prev := s.last[stored.InstanceID]; prev == nil || stored.Sequence > prev.Sequence {
		s.last[stored.InstanceID] = stored
	}
	return nil
}

// List returns copies of matching entries.
func (s *MemoryStorage) List(ctx context.Context, query *audit.Query) ([]*audit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []*audit.Entry
	for _, e := range s.entries {
		if query.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.InstanceID != b.InstanceID {
			return a.InstanceID < b.InstanceID
		}
		return a.Sequence < b.Sequence
	})

	return paginate(out, query), nil
}

// Last returns the newest entry of an instance.
func (s *MemoryStorage) Last(ctx context.Context, instanceID string) (*audit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last[instanceID].Clone(), nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}

// Size returns the number of stored entries.
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func paginate(entries []*audit.Entry, query *audit.Query) []*audit.Entry {
	if query == nil {
		return entries
	}
	if query.Offset > 0 {
		if query.Offset >= len(entries) {
			return nil
		}
		entries = entries[query.Offset:]
	}
	if query.Limit > 0 && query.Limit < len(entries) {
		entries = entries[:query.Limit]
	}
	return entries
}
