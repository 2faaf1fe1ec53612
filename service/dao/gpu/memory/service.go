package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/service/dao"
	"github.com/gpumesh/marketplace/service/dao/criteria"
)

// Service implements an in-memory, thread-safe store for GPUs.  Records are
// cloned on the way in and out so that callers never share mutable state with
// the store – mutations become visible only through Save, like rows in a
// database.
type Service struct {
	gpus map[string]*model.GPU
	mux  sync.RWMutex
}

var _ dao.Service[string, model.GPU] = (*Service)(nil)

func New() *Service {
	return &Service{gpus: map[string]*model.GPU{}}
}

func (s *Service) Save(_ context.Context, g *model.GPU) error {
	if g == nil {
		return dao.ErrNilEntity
	}
	if g.ID == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.gpus[g.ID] = g.Clone()
	return nil
}

func (s *Service) Load(_ context.Context, id string) (*model.GPU, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mux.RLock()
	g, ok := s.gpus[id]
	s.mux.RUnlock()
	if !ok {
		return nil, dao.ErrNotFound
	}
	return g.Clone(), nil
}

func (s *Service) Delete(_ context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.gpus[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.gpus, id)
	return nil
}

// List returns GPUs in registration order (creation time ascending), filtered
// by the supplied parameters (Status, Model, OwnerID).
func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*model.GPU, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	out := make([]*model.GPU, 0, len(s.gpus))
	for _, g := range s.gpus {
		fields := map[string]string{
			"Status":  string(g.Status),
			"Model":   string(g.Model),
			"OwnerID": g.OwnerID,
		}
		if !criteria.Match(fields, parameters) {
			continue
		}
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
