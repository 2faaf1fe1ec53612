package settlement

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
	"github.com/gpumesh/marketplace/service/registry"
	"github.com/gpumesh/marketplace/tracing"
)

// Service validates and creates payments against completed tasks.
type Service struct {
	taskDAO    dao.Service[string, model.Task]
	paymentDAO dao.Service[string, model.Payment]
	registry   *registry.Service
	rail       Rail

	// mux serializes settlement per process so two concurrent calls cannot
	// both pass the one-payment-per-task check.
	mux sync.Mutex
}

// Option customises the settlement service.
type Option func(*Service)

// WithTaskDAO sets the task store implementation.
func WithTaskDAO(taskDAO dao.Service[string, model.Task]) Option {
	return func(s *Service) { s.taskDAO = taskDAO }
}

// WithPaymentDAO sets the payment store implementation.
func WithPaymentDAO(paymentDAO dao.Service[string, model.Payment]) Option {
	return func(s *Service) { s.paymentDAO = paymentDAO }
}

// WithRegistry sets the GPU registry, used to resolve the payment recipient.
func WithRegistry(reg *registry.Service) Option {
	return func(s *Service) { s.registry = reg }
}

// WithRail sets the payment rail.
func WithRail(rail Rail) Option {
	return func(s *Service) { s.rail = rail }
}

// New creates a settlement service.
func New(options ...Option) (*Service, error) {
	s := &Service{}
	for _, opt := range options {
		opt(s)
	}
	if s.taskDAO == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if s.paymentDAO == nil {
		return nil, fmt.Errorf("payment store is required")
	}
	if s.registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if s.rail == nil {
		s.rail = NewMockRail()
	}
	return s, nil
}

// Settle creates a payment for a completed task.  The caller must be the
// task's requester, the task must be completed, no payment may exist for it
// yet and the amount must equal the task's computed cost exactly.
func (s *Service) Settle(ctx context.Context, payerID, taskID string, amount decimal.Decimal) (payment *model.Payment, err error) {
	ctx, span := tracing.StartSpan(ctx, "settlement.Settle", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"task.id": taskID})

	task, err := s.taskDAO.Load(ctx, taskID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, fault.New(fault.NotFound, "task %s not found", taskID)
		}
		return nil, fault.Wrap(err, "failed to load task %s", taskID)
	}
	if task.RequesterID != payerID {
		return nil, fault.New(fault.Forbidden, "task %s does not belong to caller", taskID)
	}
	if task.Status != model.TaskStatusCompleted {
		return nil, fault.New(fault.InvalidState, "task %s is %s, only completed tasks can be settled", taskID, task.Status)
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	existing, err := s.paymentDAO.List(ctx, dao.NewParameter("TaskID", taskID))
	if err != nil {
		return nil, fault.Wrap(err, "failed to list payments for task %s", taskID)
	}
	for _, prior := range existing {
		// A failed rail attempt does not block retrying the settlement.
		if prior.Status != model.PaymentStatusFailed {
			return nil, fault.New(fault.AlreadySettled, "payment already exists for task %s", taskID)
		}
	}
	if !amount.Equal(task.Cost) {
		return nil, fault.New(fault.AmountMismatch, "payment amount must be equal to task cost: %s", task.Cost)
	}

	gpu, err := s.registry.Get(ctx, task.GPUID)
	if err != nil {
		return nil, fault.Wrap(err, "failed to resolve recipient for task %s", taskID)
	}

	payment = &model.Payment{
		ID:          idgen.New(),
		TaskID:      taskID,
		PayerID:     payerID,
		RecipientID: gpu.OwnerID,
		Amount:      amount,
		Status:      model.PaymentStatusPending,
		CreatedAt:   clock.Now(),
	}
	if err = s.rail.Process(ctx, payment); err != nil {
		payment.MarkFailed()
		if saveErr := s.paymentDAO.Save(ctx, payment); saveErr != nil {
			return nil, fault.Wrap(saveErr, "rail failed (%v) and payment %s could not be saved", err, payment.ID)
		}
		return nil, fault.Wrap(err, "payment rail failed for task %s", taskID)
	}
	if err = s.paymentDAO.Save(ctx, payment); err != nil {
		return nil, fault.Wrap(err, "failed to save payment for task %s", taskID)
	}
	return payment, nil
}
