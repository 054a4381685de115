package workerstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-process maps.
// Used for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	closed  bool
	failing bool
}

// NewMemoryStore creates an empty in-memory worker store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// SetFailing makes every call return an error, simulating an unreachable node
func (s *MemoryStore) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *MemoryStore) checkUp() error {
	if s.failing || s.closed {
		return context.DeadlineExceeded
	}
	return nil
}

// Ping verifies the simulated node is reachable
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkUp()
}

// Put inserts or replaces the record for its key
func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUp(); err != nil {
		return err
	}

	now := time.Now().UTC()
	c := *rec
	c.Payload = append([]byte(nil), rec.Payload...)
	c.UpdatedAt = now
	if existing, ok := s.records[rec.Key]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	s.records[rec.Key] = &c
	return nil
}

// Get returns the record for a key
func (s *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkUp(); err != nil {
		return nil, err
	}

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	c := *rec
	c.Payload = append([]byte(nil), rec.Payload...)
	return &c, nil
}

// Delete removes the record for a key
func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUp(); err != nil {
		return false, err
	}

	if _, ok := s.records[key]; !ok {
		return false, nil
	}
	delete(s.records, key)
	return true, nil
}

// Search returns records matching the query, newest first
func (s *MemoryStore) Search(ctx context.Context, q Query) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkUp(); err != nil {
		return nil, err
	}

	var matched []*Record
	for _, rec := range s.records {
		if q.RecordType != "" && rec.RecordType != q.RecordType {
			continue
		}
		if q.Owner != "" && rec.Owner != q.Owner {
			continue
		}
		c := *rec
		c.Payload = append([]byte(nil), rec.Payload...)
		matched = append(matched, &c)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Key < matched[j].Key
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Usage reports the simulated node's footprint
func (s *MemoryStore) Usage(ctx context.Context) (*Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkUp(); err != nil {
		return nil, err
	}

	var u Usage
	for _, rec := range s.records {
		u.UsedBytes += rec.SizeBytes
		u.RecordCount++
	}
	return &u, nil
}

// Close marks the store closed
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
