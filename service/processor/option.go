package processor

import (
	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/runtime/execution"
	"github.com/gpumesh/marketplace/service/dao"
	"github.com/gpumesh/marketplace/service/event"
	"github.com/gpumesh/marketplace/service/messaging"
	"github.com/gpumesh/marketplace/service/registry"
)

type Option func(*Service)

// WithTaskDAO sets the task store implementation
func WithTaskDAO(taskDAO dao.Service[string, model.Task]) Option {
	return func(s *Service) {
		s.taskDAO = taskDAO
	}
}

// WithRegistry sets the GPU registry
func WithRegistry(reg *registry.Service) Option {
	return func(s *Service) {
		s.registry = reg
	}
}

// WithQueue sets the execution queue implementation
func WithQueue(queue messaging.Queue[execution.Execution]) Option {
	return func(s *Service) {
		s.queue = queue
	}
}

// WithRunner sets the execution backend
func WithRunner(runner Runner) Option {
	return func(s *Service) {
		s.runner = runner
	}
}

// WithEventPublisher sets the lifecycle event publisher
func WithEventPublisher(events *event.Publisher[model.Task]) Option {
	return func(s *Service) {
		s.events = events
	}
}

// WithWorkers sets the number of worker goroutines
func WithWorkers(count int) Option {
	return func(s *Service) {
		s.config.WorkerCount = count
	}
}

// WithConfig sets the configuration for the service
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}
