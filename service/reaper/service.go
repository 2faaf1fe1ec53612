// Package reaper supervises background execution: tasks stuck in running
// beyond a deadline are failed and their GPUs released, so a crashed or
// interrupted worker never strands a card in in_use.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gpumesh/marketplace/internal/clock"
	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/model/fault"
	"github.com/gpumesh/marketplace/service/dao"
	"github.com/gpumesh/marketplace/service/registry"
)

// Config represents reaper configuration.
type Config struct {
	// Period is how often the sweep runs.
	Period time.Duration
	// Deadline is how long a task may stay running before it is failed.
	Deadline time.Duration
}

// DefaultConfig returns the default reaper configuration.
func DefaultConfig() Config {
	return Config{
		Period:   30 * time.Second,
		Deadline: 5 * time.Minute,
	}
}

// Service periodically fails timed-out running tasks.
type Service struct {
	config   Config
	taskDAO  dao.Service[string, model.Task]
	registry *registry.Service
	crontab  *cron.Cron
}

// Option customises the reaper service.
type Option func(*Service)

// WithTaskDAO sets the task store implementation.
func WithTaskDAO(taskDAO dao.Service[string, model.Task]) Option {
	return func(s *Service) { s.taskDAO = taskDAO }
}

// WithRegistry sets the GPU registry.
func WithRegistry(reg *registry.Service) Option {
	return func(s *Service) { s.registry = reg }
}

// WithConfig sets the sweep period and deadline.
func WithConfig(config Config) Option {
	return func(s *Service) { s.config = config }
}

// New creates a reaper service.
func New(options ...Option) (*Service, error) {
	s := &Service{
		config:  DefaultConfig(),
		crontab: cron.New(),
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
	return s, nil
}

// Start schedules the periodic sweep.  A tick that fires while the previous
// sweep is still in flight is skipped.
func (s *Service) Start(ctx context.Context) error {
	var running atomic.Bool
	if _, err := s.crontab.AddFunc(fmt.Sprintf("@every %s", s.config.Period.String()), func() {
		if !running.CompareAndSwap(false, true) {
			return
		}
		defer running.Store(false)
		s.Sweep(ctx)
	}); err != nil {
		return err
	}
	s.crontab.Start()
	return nil
}

// Stop halts the sweep schedule; an in-flight sweep finishes.
func (s *Service) Stop() {
	<-s.crontab.Stop().Done()
}

// Sweep fails every running task past the deadline and releases its GPU.
// It is idempotent: re-running over the same state is a no-op.
func (s *Service) Sweep(ctx context.Context) {
	tasks, err := s.taskDAO.List(ctx, dao.NewParameter("Status", string(model.TaskStatusRunning)))
	if err != nil {
		log.Printf("reaper: failed to list running tasks: %v", err)
		return
	}
	now := clock.Now()
	for _, candidate := range tasks {
		if candidate.StartedAt == nil || now.Sub(*candidate.StartedAt) < s.config.Deadline {
			continue
		}
		// Atomic fail: a worker finishing the task between List and here makes
		// the guarded transition reject the timeout instead of overwriting.
		task, err := dao.Mutate(ctx, s.taskDAO, candidate.ID, func(task *model.Task) error {
			return task.Fail(map[string]interface{}{
				"error":  "Task processing failed",
				"reason": "execution timed out",
			})
		})
		if err != nil {
			if !errors.Is(err, fault.ErrInvalidTransition) && !errors.Is(err, dao.ErrNotFound) {
				log.Printf("reaper: failed to fail task %s: %v", candidate.ID, err)
			}
			continue
		}
		if err := s.registry.Release(ctx, task.GPUID); err != nil {
			log.Printf("reaper: failed to release gpu %s: %v", task.GPUID, err)
		}
		log.Printf("reaper: task %s timed out after %s", task.ID, now.Sub(*candidate.StartedAt))
	}
}
