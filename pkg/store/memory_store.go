package store

import (
	"context"
	"sort"
	"sync"

	"shelfkeeper/pkg/domain"
	"shelfkeeper/pkg/query"
)

// MemoryStore keeps collections in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[int64]domain.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[int64]domain.Record)}
}

func (s *MemoryStore) List(_ context.Context, resource string) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll := s.collections[resource]
	out := make([]domain.Record, 0, len(coll))
	for _, rec := range coll {
		out = append(out, clone(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := query.ID(out[i])
		b, _ := query.ID(out[j])
		return a < b
	})
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, resource string, id int64) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.collections[resource][id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (s *MemoryStore) Create(_ context.Context, resource string, rec domain.Record) (domain.Record, error) {
	id, ok, err := recordID(rec)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[resource]
	if coll == nil {
		coll = make(map[int64]domain.Record)
		s.collections[resource] = coll
	}
	if !ok {
		for existing := range coll {
			if existing > id {
				id = existing
			}
		}
		id++
	} else if _, taken := coll[id]; taken {
		return nil, ErrConflict
	}
	stored := clone(rec)
	stored["id"] = id
	coll[id] = stored
	return clone(stored), nil
}

func (s *MemoryStore) Replace(_ context.Context, resource string, id int64, rec domain.Record) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[resource]
	if _, ok := coll[id]; !ok {
		return nil, ErrNotFound
	}
	stored := clone(rec)
	stored["id"] = id
	coll[id] = stored
	return clone(stored), nil
}

func (s *MemoryStore) Patch(_ context.Context, resource string, id int64, fields domain.Record) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.collections[resource][id]
	if !ok {
		return nil, ErrNotFound
	}
	stored := clone(current)
	for k, v := range fields {
		if k == "id" {
			continue
		}
		stored[k] = v
	}
	s.collections[resource][id] = stored
	return clone(stored), nil
}

func (s *MemoryStore) Delete(_ context.Context, resource string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[resource][id]; !ok {
		return ErrNotFound
	}
	delete(s.collections[resource], id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
