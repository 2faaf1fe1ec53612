package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/gpumesh/marketplace/internal/clock"
	"github.com/gpumesh/marketplace/internal/idgen"
	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/model/fault"
	"github.com/gpumesh/marketplace/service/dao"
)

// Draft carries the owner supplied fields of a GPU registration.
type Draft struct {
	Name         string                 `json:"name"`
	Model        model.GPUModel         `json:"model"`
	VRAMGB       int                    `json:"vramGb"`
	PricePerHour decimal.Decimal        `json:"pricePerHour"`
	Specs        map[string]interface{} `json:"specs,omitempty"`
}

// Update carries the optional fields of an owner update; nil fields are left
// unchanged.
type Update struct {
	Name         *string
	VRAMGB       *int
	PricePerHour *decimal.Decimal
	Status       *model.GPUStatus
	Specs        map[string]interface{}
}

// Constraints narrows the candidate set during reservation.  The zero value
// matches every GPU.
type Constraints struct {
	Model           model.GPUModel
	MinVRAMGB       int
	MaxPricePerHour decimal.Decimal
}

// Pick selects one GPU out of a non-empty candidate slice.  Candidates are in
// registration order; a nil Pick takes the first.
type Pick func(candidates []*model.GPU) *model.GPU

// Filter narrows List results.
type Filter struct {
	Status          string
	Model           string
	OwnerID         string
	MinVRAMGB       int
	MaxPricePerHour decimal.Decimal
}

// Service manages GPU records and their availability status.
type Service struct {
	gpuDAO dao.Service[string, model.GPU]

	// mux serializes reserve/release/delete so that a GPU observed as
	// available cannot be flipped by two callers at once.
	mux sync.Mutex
}

// Option customises the registry service.
type Option func(*Service)

// WithGPUDAO sets the GPU store implementation.
func WithGPUDAO(gpuDAO dao.Service[string, model.GPU]) Option {
	return func(s *Service) {
		s.gpuDAO = gpuDAO
	}
}

// New creates a registry service.
func New(options ...Option) (*Service, error) {
	s := &Service{}
	for _, opt := range options {
		opt(s)
	}
	if s.gpuDAO == nil {
		return nil, fmt.Errorf("gpu store is required")
	}
	return s, nil
}

// Register adds a GPU for rental on behalf of its owner; the card starts
// available.
func (s *Service) Register(ctx context.Context, ownerID string, draft Draft) (*model.GPU, error) {
	gpu := &model.GPU{
		ID:           idgen.New(),
		Name:         draft.Name,
		Model:        draft.Model,
		VRAMGB:       draft.VRAMGB,
		OwnerID:      ownerID,
		PricePerHour: draft.PricePerHour,
		Status:       model.GPUStatusAvailable,
		Specs:        draft.Specs,
		CreatedAt:    clock.Now(),
	}
	if err := s.gpuDAO.Save(ctx, gpu); err != nil {
		return nil, fault.Wrap(err, "failed to save gpu")
	}
	return gpu, nil
}

// Get returns a GPU by id.
func (s *Service) Get(ctx context.Context, id string) (*model.GPU, error) {
	gpu, err := s.gpuDAO.Load(ctx, id)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, fault.New(fault.NotFound, "gpu %s not found", id)
		}
		return nil, fault.Wrap(err, "failed to load gpu %s", id)
	}
	return gpu, nil
}

// List returns GPUs matching the filter in registration order.
func (s *Service) List(ctx context.Context, filter Filter) ([]*model.GPU, error) {
	var parameters []*dao.Parameter
	if filter.Status != "" {
		parameters = append(parameters, dao.NewParameter("Status", filter.Status))
	}
	if filter.Model != "" {
		parameters = append(parameters, dao.NewParameter("Model", filter.Model))
	}
	if filter.OwnerID != "" {
		parameters = append(parameters, dao.NewParameter("OwnerID", filter.OwnerID))
	}
	gpus, err := s.gpuDAO.List(ctx, parameters...)
	if err != nil {
		return nil, fault.Wrap(err, "failed to list gpus")
	}
	out := gpus[:0]
	for _, gpu := range gpus {
		if filter.MinVRAMGB > 0 && gpu.VRAMGB < filter.MinVRAMGB {
			continue
		}
		if filter.MaxPricePerHour.IsPositive() && gpu.PricePerHour.GreaterThan(filter.MaxPricePerHour) {
			continue
		}
		out = append(out, gpu)
	}
	return out, nil
}

// Update applies an owner update.  Status changes go through the guarded
// transition; in_use is never settable directly.
func (s *Service) Update(ctx context.Context, id string, update Update) (*model.GPU, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	gpu, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Name != nil {
		gpu.Name = *update.Name
	}
	if update.VRAMGB != nil {
		gpu.VRAMGB = *update.VRAMGB
	}
	if update.PricePerHour != nil {
		gpu.PricePerHour = *update.PricePerHour
	}
	if update.Specs != nil {
		gpu.Specs = update.Specs
	}
	if update.Status != nil && *update.Status != gpu.Status {
		if err := gpu.SetStatus(*update.Status); err != nil {
			return nil, err
		}
	}
	if err := s.gpuDAO.Save(ctx, gpu); err != nil {
		return nil, fault.Wrap(err, "failed to save gpu %s", id)
	}
	return gpu, nil
}

// Reserve flips one GPU to in_use and returns it.  A non-empty target names a
// specific card, which must be available and satisfy the constraints, else
// the reservation fails with ResourceUnavailable.  With no target the first
// available candidate (per pick) is taken; none at all fails with
// NoResourceAvailable.
func (s *Service) Reserve(ctx context.Context, target string, constraints *Constraints, pick Pick) (*model.GPU, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if target != "" {
		gpu, err := s.gpuDAO.Load(ctx, target)
		if err != nil {
			if errors.Is(err, dao.ErrNotFound) {
				return nil, fault.New(fault.ResourceUnavailable, "gpu %s not found", target)
			}
			return nil, fault.Wrap(err, "failed to load gpu %s", target)
		}
		if !s.matches(gpu, constraints) {
			return nil, fault.New(fault.ResourceUnavailable, "gpu %s does not satisfy constraints", target)
		}
		return s.reserve(ctx, gpu)
	}

	candidates, err := s.gpuDAO.List(ctx, dao.NewParameter("Status", string(model.GPUStatusAvailable)))
	if err != nil {
		return nil, fault.Wrap(err, "failed to list gpus")
	}
	filtered := candidates[:0]
	for _, gpu := range candidates {
		if s.matches(gpu, constraints) {
			filtered = append(filtered, gpu)
		}
	}
	if len(filtered) == 0 {
		return nil, fault.New(fault.NoResourceAvailable, "no available gpus found to process this task")
	}
	gpu := filtered[0]
	if pick != nil {
		if picked := pick(filtered); picked != nil {
			gpu = picked
		}
	}
	return s.reserve(ctx, gpu)
}

func (s *Service) reserve(ctx context.Context, gpu *model.GPU) (*model.GPU, error) {
	if err := gpu.Reserve(); err != nil {
		return nil, err
	}
	if err := s.gpuDAO.Save(ctx, gpu); err != nil {
		return nil, fault.Wrap(err, "failed to save gpu %s", gpu.ID)
	}
	return gpu, nil
}

func (s *Service) matches(gpu *model.GPU, c *Constraints) bool {
	if c == nil {
		return true
	}
	if c.Model != "" && gpu.Model != c.Model {
		return false
	}
	if c.MinVRAMGB > 0 && gpu.VRAMGB < c.MinVRAMGB {
		return false
	}
	if c.MaxPricePerHour.IsPositive() && gpu.PricePerHour.GreaterThan(c.MaxPricePerHour) {
		return false
	}
	return true
}

// Release returns a GPU to the available pool.  Releasing a card that is not
// in use is a no-op so cleanup paths can retry safely.
func (s *Service) Release(ctx context.Context, id string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	gpu, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	gpu.Release()
	if err := s.gpuDAO.Save(ctx, gpu); err != nil {
		return fault.Wrap(err, "failed to save gpu %s", id)
	}
	return nil
}

// Delete removes a GPU.  A card currently executing a task cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	gpu, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if gpu.Status == model.GPUStatusInUse {
		return fault.New(fault.ResourceBusy, "gpu %s is processing a task", id)
	}
	if err := s.gpuDAO.Delete(ctx, id); err != nil {
		return fault.Wrap(err, "failed to delete gpu %s", id)
	}
	return nil
}
