package store

import (
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/routegw/internal/route"
)

// MemoryStore keeps definitions in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	defs  map[string]*route.Definition
	order []string
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		defs: make(map[string]*route.Definition),
		now:  time.Now,
	}
}

// FindAll returns copies of every definition in insertion order.
func (s *MemoryStore) FindAll(ctx context.Context) ([]*route.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*route.Definition, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.defs[id].Clone())
	}
	return out, nil
}

// FindByID returns a copy of the definition with id.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*route.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.defs[id]
	if !ok {
		return nil, notFound(id)
	}
	return def.Clone(), nil
}

// Save stores a copy of def.
func (s *MemoryStore) Save(ctx context.Context, def *route.Definition) (*route.Definition, error) {
	if def == nil {
		return nil, invalidDefinition()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.defs[def.ID]
	stored := prepare(def, existing, s.now())
	if existing == nil {
		s.order = append(s.order, stored.ID)
	}
	s.defs[stored.ID] = stored
	return stored.Clone(), nil
}

// Delete removes the definition with id.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.defs[id]; !ok {
		return notFound(id)
	}
	delete(s.defs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
