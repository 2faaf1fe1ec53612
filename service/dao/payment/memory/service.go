package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/service/dao"
	"github.com/gpumesh/marketplace/service/dao/criteria"
)

// Service implements an in-memory, thread-safe store for payments.
type Service struct {
	payments map[string]*model.Payment
	mux      sync.RWMutex
}

var _ dao.Service[string, model.Payment] = (*Service)(nil)

func New() *Service {
	return &Service{payments: map[string]*model.Payment{}}
}

func (s *Service) Save(_ context.Context, p *model.Payment) error {
	if p == nil {
		return dao.ErrNilEntity
	}
	if p.ID == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.payments[p.ID] = p.Clone()
	return nil
}

func (s *Service) Load(_ context.Context, id string) (*model.Payment, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mux.RLock()
	p, ok := s.payments[id]
	s.mux.RUnlock()
	if !ok {
		return nil, dao.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Service) Delete(_ context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.payments[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.payments, id)
	return nil
}

// List returns payments ordered by creation time descending, filtered by the
// supplied parameters (Status, TaskID, PayerID, RecipientID).
func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*model.Payment, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	out := make([]*model.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		fields := map[string]string{
			"Status":      string(p.Status),
			"TaskID":      p.TaskID,
			"PayerID":     p.PayerID,
			"RecipientID": p.RecipientID,
		}
		if !criteria.Match(fields, parameters) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
