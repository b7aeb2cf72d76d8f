package talk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrTalkNotFound = errors.New("talk not found")
	ErrTalkExists   = errors.New("talk already exists")
)

// Store persists talks. Modify is atomic per talk: concurrent engine
// instances never lose each other's patches.
type Store interface {
	Get(ctx context.Context, name string) (*Talk, error)
	Exists(ctx context.Context, name string) (bool, error)
	// Create stores a new talk and assigns its Number.
	Create(ctx context.Context, t *Talk) error
	Delete(ctx context.Context, name string) error
	// Modify applies the patch and returns the updated talk. When the
	// patch fails the stored talk is unchanged.
	Modify(ctx context.Context, name string, patch Patch) (*Talk, error)
	// Active lists active talks ordered by name.
	Active(ctx context.Context) ([]*Talk, error)
	// List returns up to limit talks, most recently updated first.
	List(ctx context.Context, limit int) ([]*Talk, error)
}

// InMemoryStore is a threadsafe in-memory store for tests and single
// process deployments without a database.
type InMemoryStore struct {
	mu     sync.RWMutex
	talks  map[string]*Talk
	number int64
	now    func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		talks: make(map[string]*Talk),
		now:   time.Now,
	}
}

func (s *InMemoryStore) Get(ctx context.Context, name string) (*Talk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.talks[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrTalkNotFound)
	}
	return cloneTalk(t), nil
}

func (s *InMemoryStore) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.talks[name]
	return ok, nil
}

func (s *InMemoryStore) Create(ctx context.Context, t *Talk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.talks[t.Name]; ok {
		return fmt.Errorf("%s: %w", t.Name, ErrTalkExists)
	}
	s.number++
	t.Number = s.number
	t.Version = 1
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	s.talks[t.Name] = cloneTalk(t)
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.talks[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrTalkNotFound)
	}
	delete(s.talks, name)
	return nil
}

func (s *InMemoryStore) Modify(ctx context.Context, name string, patch Patch) (*Talk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.talks[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrTalkNotFound)
	}
	t := cloneTalk(stored)
	if err := patch.Apply(t); err != nil {
		return nil, err
	}
	t.Version++
	t.UpdatedAt = s.now()
	s.talks[name] = cloneTalk(t)
	return t, nil
}

func (s *InMemoryStore) Active(ctx context.Context) ([]*Talk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Talk, 0)
	for _, t := range s.talks {
		if t.Active {
			out = append(out, cloneTalk(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemoryStore) List(ctx context.Context, limit int) ([]*Talk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Talk, 0, len(s.talks))
	for _, t := range s.talks {
		out = append(out, cloneTalk(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Number > out[j].Number
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cloneTalk deep-copies through the JSON document form, the same shape the
// Postgres store persists.
func cloneTalk(t *Talk) *Talk {
	data, err := json.Marshal(t)
	if err != nil {
		panic(fmt.Sprintf("talk %s is not serializable: %v", t.Name, err))
	}
	var out Talk
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("talk %s is not deserializable: %v", t.Name, err))
	}
	return &out
}
