package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/service/dao"
	"github.com/gpumesh/marketplace/service/dao/criteria"
)

// Service implements an in-memory, thread-safe store for tasks.  Records are
// cloned on Save and Load so a background worker and a cancelling requester
// never mutate the same instance; the store is the single point of truth.
type Service struct {
	tasks map[string]*model.Task
	mux   sync.RWMutex
}

var (
	_ dao.Service[string, model.Task] = (*Service)(nil)
	_ dao.Mutator[string, model.Task] = (*Service)(nil)
)

func New() *Service {
	return &Service{tasks: map[string]*model.Task{}}
}

func (s *Service) Save(_ context.Context, t *model.Task) error {
	if t == nil {
		return dao.ErrNilEntity
	}
	if t.ID == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *Service) Load(_ context.Context, id string) (*model.Task, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mux.RLock()
	t, ok := s.tasks[id]
	s.mux.RUnlock()
	if !ok {
		return nil, dao.ErrNotFound
	}
	return t.Clone(), nil
}

// Mutate applies fn to the stored task under the store lock.  Concurrent
// status changes serialize here, so the guarded transition inside fn always
// observes the latest stored state and a terminal status is never
// overwritten by a stale writer.
func (s *Service) Mutate(_ context.Context, id string, fn func(*model.Task) error) (*model.Task, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	mutated := t.Clone()
	if err := fn(mutated); err != nil {
		return nil, err
	}
	s.tasks[id] = mutated.Clone()
	return mutated, nil
}

func (s *Service) Delete(_ context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

// List returns tasks ordered by creation time descending, filtered by the
// supplied parameters (Status, Type, RequesterID, GPUID).
func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*model.Task, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	out := make([]*model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		fields := map[string]string{
			"Status":      string(t.Status),
			"Type":        string(t.Type),
			"RequesterID": t.RequesterID,
			"GPUID":       t.GPUID,
		}
		if !criteria.Match(fields, parameters) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
