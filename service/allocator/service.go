package allocator

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/model/fault"
	"github.com/gpumesh/marketplace/runtime/execution"
	"github.com/gpumesh/marketplace/service/dao"
	"github.com/gpumesh/marketplace/service/messaging"
	"github.com/gpumesh/marketplace/service/registry"
	"github.com/gpumesh/marketplace/tracing"
)

// Service binds submitted tasks to GPUs and hands them to the processor via
// the execution queue.
type Service struct {
	registry *registry.Service
	taskDAO  dao.Service[string, model.Task]
	queue    messaging.Queue[execution.Execution]
	strategy Strategy

	// mux makes GPU reservation and task creation a single unit; without it
	// two submissions could both observe the same GPU as available.
	mux sync.Mutex
}

// Option customises the allocator service.
type Option func(*Service)

// WithRegistry sets the GPU registry.
func WithRegistry(reg *registry.Service) Option {
	return func(s *Service) { s.registry = reg }
}

// WithTaskDAO sets the task store implementation.
func WithTaskDAO(taskDAO dao.Service[string, model.Task]) Option {
	return func(s *Service) { s.taskDAO = taskDAO }
}

// WithQueue sets the execution queue.
func WithQueue(queue messaging.Queue[execution.Execution]) Option {
	return func(s *Service) { s.queue = queue }
}

// WithStrategy sets the GPU selection strategy.
func WithStrategy(strategy Strategy) Option {
	return func(s *Service) { s.strategy = strategy }
}

// New creates an allocator service.
func New(options ...Option) (*Service, error) {
	s := &Service{}
	for _, opt := range options {
		opt(s)
	}
	if s.registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if s.taskDAO == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if s.queue == nil {
		return nil, fmt.Errorf("execution queue is required")
	}
	if s.strategy == nil {
		s.strategy = FirstAvailable
	}
	return s, nil
}

// Submit reserves a GPU for the draft, persists the task as pending and
// publishes the execution to the queue.  The caller gets the pending task
// back immediately; execution proceeds in the background.
func (s *Service) Submit(ctx context.Context, requesterID string, draft model.TaskDraft) (task *model.Task, err error) {
	ctx, span := tracing.StartSpan(ctx, "allocator.Submit", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	s.mux.Lock()
	defer s.mux.Unlock()

	gpu, err := s.registry.Reserve(ctx, draft.GPUID, nil, s.strategy)
	if err != nil {
		return nil, err
	}
	span.WithAttributes(map[string]string{"gpu.id": gpu.ID})

	task = model.NewTask(requesterID, gpu.ID, draft)
	if err = s.taskDAO.Save(ctx, task); err != nil {
		s.compensate(ctx, gpu.ID, "")
		return nil, fault.Wrap(err, "failed to save task")
	}
	span.WithAttributes(map[string]string{"task.id": task.ID})

	if err = s.queue.Publish(ctx, execution.New(task)); err != nil {
		s.compensate(ctx, gpu.ID, task.ID)
		return nil, fault.Wrap(err, "failed to enqueue task %s", task.ID)
	}
	return task, nil
}

// compensate rolls back a half-finished submission: the GPU goes back to the
// pool and the orphaned task row, if any, is removed.
func (s *Service) compensate(ctx context.Context, gpuID, taskID string) {
	if err := s.registry.Release(ctx, gpuID); err != nil {
		log.Printf("allocator: failed to release gpu %s: %v", gpuID, err)
	}
	if taskID == "" {
		return
	}
	if err := s.taskDAO.Delete(ctx, taskID); err != nil {
		log.Printf("allocator: failed to remove task %s: %v", taskID, err)
	}
}
