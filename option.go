package marketplace

import (
	"log"

	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/runtime/execution"
	"github.com/gpumesh/marketplace/service/allocator"
	"github.com/gpumesh/marketplace/service/dao"
	"github.com/gpumesh/marketplace/service/event"
	"github.com/gpumesh/marketplace/service/messaging"
	"github.com/gpumesh/marketplace/service/processor"
	"github.com/gpumesh/marketplace/service/settlement"
	"github.com/gpumesh/marketplace/tracing"
)

// Option represents a service option
type Option func(*Service)

// WithConfig sets the marketplace configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithGPUDAO sets the GPU store implementation.
func WithGPUDAO(gpuDAO dao.Service[string, model.GPU]) Option {
	return func(s *Service) {
		s.gpuDAO = gpuDAO
	}
}

// WithTaskDAO sets the task store implementation.
func WithTaskDAO(taskDAO dao.Service[string, model.Task]) Option {
	return func(s *Service) {
		s.taskDAO = taskDAO
	}
}

// WithPaymentDAO sets the payment store implementation.
func WithPaymentDAO(paymentDAO dao.Service[string, model.Payment]) Option {
	return func(s *Service) {
		s.paymentDAO = paymentDAO
	}
}

// WithQueue sets the execution queue implementation.
func WithQueue(queue messaging.Queue[execution.Execution]) Option {
	return func(s *Service) {
		s.queue = queue
	}
}

// WithEventQueue sets the queue carrying task lifecycle events.
func WithEventQueue(queue messaging.Queue[event.Event[model.Task]]) Option {
	return func(s *Service) {
		s.eventQueue = queue
	}
}

// WithRunner sets the execution backend; the default is the simulator.
func WithRunner(runner processor.Runner) Option {
	return func(s *Service) {
		s.runner = runner
	}
}

// WithRail sets the payment rail; the default settles immediately with a
// synthetic transaction hash.
func WithRail(rail settlement.Rail) Option {
	return func(s *Service) {
		s.rail = rail
	}
}

// WithStrategy sets the GPU selection strategy used for untargeted
// submissions.
func WithStrategy(strategy allocator.Strategy) Option {
	return func(s *Service) {
		s.strategy = strategy
	}
}

// WithProcessorWorkers overrides the configured worker count.
func WithProcessorWorkers(count int) Option {
	return func(s *Service) {
		s.workerCount = count
	}
}

// WithTracing initialises the OpenTelemetry stdout exporter.  The first
// successful initialisation wins; failures are logged and tracing stays off.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		if err := tracing.Init(serviceName, serviceVersion, outputFile); err != nil {
			log.Printf("marketplace: failed to initialise tracing: %v", err)
		}
	}
}
