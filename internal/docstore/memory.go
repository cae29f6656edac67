package docstore

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

type memoryCollection struct {
	order []string
	docs  map[string]map[string]any
}

// MemoryStore keeps documents in process memory. Values are deep-copied on the
// way in and out, so callers never share maps with the store.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection
	closed      bool
	// persist runs under mu after every successful mutation.
	persist func(snapshot map[string]*memoryCollection) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: map[string]*memoryCollection{}}
}

func (s *MemoryStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := validateQuery(collection, q); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyContextErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	coll := s.collections[collection]
	if coll == nil {
		return []Document{}, nil
	}
	out := make([]Document, 0, len(coll.order))
	for _, id := range coll.order {
		data := coll.docs[id]
		if !matchesFilters(data, q.Filters) {
			continue
		}
		clone, err := cloneData(data)
		if err != nil {
			return nil, err
		}
		out = append(out, Document{ID: id, Data: clone})
	}
	return applyQuery(out, q), nil
}

func (s *MemoryStore) Count(ctx context.Context, collection string, q Query) (int, error) {
	q.Limit, q.Offset = 0, 0
	docs, err := s.Query(ctx, collection, q)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (s *MemoryStore) Insert(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := NewID()
	if err := s.CommitBatch(ctx, []Write{{Collection: collection, ID: id, Data: data}}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MemoryStore) UpdateByID(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return classifyContextErr(err)
	}
	clone, err := cloneData(fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	coll := s.collections[collection]
	if coll == nil || coll.docs[id] == nil {
		return ErrNotFound
	}
	prev := coll.docs[id]
	coll.docs[id] = mergeFields(maps.Clone(prev), clone)
	if err := s.persistLocked(); err != nil {
		coll.docs[id] = prev
		return err
	}
	return nil
}

func (s *MemoryStore) CommitBatch(ctx context.Context, writes []Write) error {
	if err := validateWrites(writes); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return classifyContextErr(err)
	}
	prepared := make([]Write, 0, len(writes))
	for _, w := range writes {
		clone, err := cloneData(w.Data)
		if err != nil {
			return err
		}
		if w.ID == "" {
			w.ID = NewID()
		}
		prepared = append(prepared, Write{Collection: w.Collection, ID: w.ID, Data: clone})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	seen := map[string]bool{}
	for _, w := range prepared {
		key := w.Collection + "/" + w.ID
		if seen[key] {
			return fmt.Errorf("%w: duplicate document id %s in batch", ErrInvalidInput, w.ID)
		}
		seen[key] = true
		if coll := s.collections[w.Collection]; coll != nil && coll.docs[w.ID] != nil {
			return fmt.Errorf("%w: document %s already exists", ErrInvalidInput, w.ID)
		}
	}
	// Order lengths before the batch; -1 marks a collection the batch created.
	before := map[string]int{}
	for _, w := range prepared {
		coll := s.collections[w.Collection]
		if coll == nil {
			coll = &memoryCollection{docs: map[string]map[string]any{}}
			s.collections[w.Collection] = coll
			before[w.Collection] = -1
		} else if _, ok := before[w.Collection]; !ok {
			before[w.Collection] = len(coll.order)
		}
		coll.order = append(coll.order, w.ID)
		coll.docs[w.ID] = w.Data
	}
	if err := s.persistLocked(); err != nil {
		s.rollbackLocked(prepared, before)
		return err
	}
	return nil
}

func (s *MemoryStore) rollbackLocked(writes []Write, before map[string]int) {
	for name, n := range before {
		if n < 0 {
			delete(s.collections, name)
			continue
		}
		coll := s.collections[name]
		for _, w := range writes {
			if w.Collection == name {
				delete(coll.docs, w.ID)
			}
		}
		coll.order = coll.order[:n]
	}
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) persistLocked() error {
	if s.persist == nil {
		return nil
	}
	return s.persist(s.collections)
}
