package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/model/fault"
	"github.com/gpumesh/marketplace/runtime/execution"
	"github.com/gpumesh/marketplace/service/dao"
	"github.com/gpumesh/marketplace/service/event"
	"github.com/gpumesh/marketplace/service/messaging"
	"github.com/gpumesh/marketplace/service/registry"
	"github.com/gpumesh/marketplace/tracing"
)

// Config represents processor service configuration
type Config struct {
	// WorkerCount is the number of workers processing executions
	WorkerCount int
}

// DefaultConfig returns the default processor configuration
func DefaultConfig() Config {
	return Config{
		WorkerCount: 5,
	}
}

// Service executes allocated tasks in the background.
type Service struct {
	config   Config
	taskDAO  dao.Service[string, model.Task]
	registry *registry.Service
	queue    messaging.Queue[execution.Execution]
	runner   Runner
	events   *event.Publisher[model.Task]

	workers    []*worker
	workerWg   sync.WaitGroup
	shutdownCh chan struct{}
}

type worker struct {
	id       int
	service  *Service
	ctx      context.Context
	cancelFn context.CancelFunc
}

// New creates a new processor service
func New(options ...Option) (*Service, error) {
	s := &Service{
		config:     DefaultConfig(),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.taskDAO == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if s.registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if s.queue == nil {
		return nil, fmt.Errorf("execution queue is required")
	}
	if s.runner == nil {
		s.runner = NewSimRunner()
	}
	return s, nil
}

// Start begins the background execution workers.
func (s *Service) Start(ctx context.Context) error {
	for i := 0; i < s.config.WorkerCount; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		worker := &worker{
			id:       i,
			service:  s,
			ctx:      workerCtx,
			cancelFn: cancel,
		}
		s.workers = append(s.workers, worker)
		s.workerWg.Add(1)
		go worker.run()
	}
	return nil
}

// run processes messages from the queue
func (w *worker) run() {
	defer w.service.workerWg.Done()

	for {
		// Block until we either get a message or the context is cancelled.
		msg, err := w.service.queue.Consume(w.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// Transient error (e.g. queue closed); back off a bit.
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if msg == nil {
			continue
		}

		if pErr := w.service.processMessage(w.ctx, msg); pErr != nil {
			log.Printf("worker %d: failed to process execution: %v", w.id, pErr)
		}
	}
}

// processMessage advances a single task to a terminal state.
func (s *Service) processMessage(ctx context.Context, message messaging.Message[execution.Execution]) (err error) {
	exec := message.T()

	ctx, span := tracing.StartSpan(ctx, "processor.Execute", "CONSUMER")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"task.id": exec.TaskID, "gpu.id": exec.GPUID})

	task, err := dao.Mutate(ctx, s.taskDAO, exec.TaskID, func(task *model.Task) error {
		return task.Transition(model.TaskStatusRunning)
	})
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			// The task record disappeared; free the card and move on.
			log.Printf("processor: task %s not found", exec.TaskID)
			s.release(ctx, exec.GPUID)
			return message.Ack()
		}
		if errors.Is(err, fault.ErrInvalidTransition) {
			// The task was cancelled before a worker picked it up; the stored
			// record wins and the run never starts.
			return message.Ack()
		}
		return message.Nack(err)
	}
	s.publish(ctx, event.TaskRunning, task)

	gpu, err := s.registry.Get(ctx, exec.GPUID)
	if err != nil {
		s.failBestEffort(ctx, exec, fmt.Sprintf("gpu %s unavailable: %v", exec.GPUID, err))
		return message.Ack()
	}

	result, runErr := s.runner.Run(ctx, task.Clone(), gpu)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		// Shutdown mid-run: leave the task running and let the reaper
		// re-drive it.
		return message.Nack(runErr)
	}

	// Terminal write as one atomic unit: the requester may have cancelled the
	// task while it was running, in which case the stored record is already
	// terminal, the guarded transition inside fn rejects the outcome and the
	// run's result is discarded.
	eventType := event.TaskCompleted
	if runErr != nil {
		eventType = event.TaskFailed
	}
	fresh, err := dao.Mutate(ctx, s.taskDAO, exec.TaskID, func(task *model.Task) error {
		if runErr == nil {
			return task.Complete(result.Output, Cost(gpu.PricePerHour, result.Elapsed))
		}
		return task.Fail(map[string]interface{}{
			"error":  "Task processing failed",
			"reason": runErr.Error(),
		})
	})
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			s.release(ctx, exec.GPUID)
			return message.Ack()
		}
		if errors.Is(err, fault.ErrInvalidTransition) {
			// Lost the race against a cancellation; whoever moved the task to
			// its terminal state also released the GPU.
			return message.Ack()
		}
		s.failBestEffort(ctx, exec, fmt.Sprintf("failed to save outcome: %v", err))
		return message.Nack(err)
	}
	s.release(ctx, exec.GPUID)
	s.publish(ctx, eventType, fresh)
	return message.Ack()
}

// Cost computes the amount billed for a run: hourly GPU rate scaled by the
// elapsed processing time, rounded to 6 decimal places.
func Cost(pricePerHour decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	seconds := decimal.NewFromFloat(elapsed.Seconds())
	return pricePerHour.Mul(seconds).Div(decimal.NewFromInt(3600)).Round(6)
}

// failBestEffort attempts to mark the task failed and free its GPU after an
// unexpected fault.  Errors are logged, not returned; the reaper re-drives
// anything this leaves behind.
func (s *Service) failBestEffort(ctx context.Context, exec *execution.Execution, reason string) {
	_, err := dao.Mutate(ctx, s.taskDAO, exec.TaskID, func(task *model.Task) error {
		return task.Fail(map[string]interface{}{
			"error":   "Internal server error",
			"details": reason,
		})
	})
	if err != nil && !errors.Is(err, fault.ErrInvalidTransition) {
		log.Printf("processor: failed to mark task %s failed: %v", exec.TaskID, err)
	}
	s.release(ctx, exec.GPUID)
}

func (s *Service) release(ctx context.Context, gpuID string) {
	if gpuID == "" {
		return
	}
	if err := s.registry.Release(ctx, gpuID); err != nil {
		log.Printf("processor: failed to release gpu %s: %v", gpuID, err)
	}
}

func (s *Service) publish(ctx context.Context, eventType event.Type, task *model.Task) {
	if s.events == nil {
		return
	}
	eventContext := &event.Context{TaskID: task.ID, GPUID: task.GPUID, EventType: eventType}
	if err := s.events.Publish(ctx, event.NewEvent(eventContext, *task.Clone())); err != nil {
		log.Printf("processor: failed to publish %s event for task %s: %v", eventType, task.ID, err)
	}
}

// Shutdown stops the processor service
func (s *Service) Shutdown() {
	close(s.shutdownCh)
	for _, worker := range s.workers {
		worker.cancelFn()
	}
	s.workerWg.Wait()
}
