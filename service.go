package marketplace

import (
	"time"

	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/runtime/execution"
	"github.com/gpumesh/marketplace/service/allocator"
	"github.com/gpumesh/marketplace/service/dao"
	gpumem "github.com/gpumesh/marketplace/service/dao/gpu/memory"
	paymentmem "github.com/gpumesh/marketplace/service/dao/payment/memory"
	taskmem "github.com/gpumesh/marketplace/service/dao/task/memory"
	"github.com/gpumesh/marketplace/service/event"
	"github.com/gpumesh/marketplace/service/messaging"
	"github.com/gpumesh/marketplace/service/messaging/memory"
	"github.com/gpumesh/marketplace/service/processor"
	"github.com/gpumesh/marketplace/service/reaper"
	"github.com/gpumesh/marketplace/service/registry"
	"github.com/gpumesh/marketplace/service/settlement"
)

// Service is the top-level marketplace assembly.  Options substitute stores,
// queues, the execution backend and the payment rail; everything left unset
// falls back to the in-memory defaults.
type Service struct {
	config      *Config
	gpuDAO      dao.Service[string, model.GPU]
	taskDAO     dao.Service[string, model.Task]
	paymentDAO  dao.Service[string, model.Payment]
	queue       messaging.Queue[execution.Execution]
	eventQueue  messaging.Queue[event.Event[model.Task]]
	runner      processor.Runner
	rail        settlement.Rail
	strategy    allocator.Strategy
	workerCount int

	runtime *Runtime
}

// New creates a new marketplace service with the provided options.
func New(options ...Option) *Service {
	s := &Service{}
	for _, option := range options {
		option(s)
	}
	s.init()
	return s
}

func (s *Service) init() {
	s.ensureBaseSetup()

	reg, _ := registry.New(registry.WithGPUDAO(s.gpuDAO))
	events := event.NewPublisher[model.Task](s.eventQueue)

	alloc, _ := allocator.New(
		allocator.WithRegistry(reg),
		allocator.WithTaskDAO(s.taskDAO),
		allocator.WithQueue(s.queue),
		allocator.WithStrategy(s.strategy),
	)
	proc, _ := processor.New(
		processor.WithTaskDAO(s.taskDAO),
		processor.WithRegistry(reg),
		processor.WithQueue(s.queue),
		processor.WithRunner(s.runner),
		processor.WithEventPublisher(events),
		processor.WithWorkers(s.config.Processor.WorkerCount),
	)
	settle, _ := settlement.New(
		settlement.WithTaskDAO(s.taskDAO),
		settlement.WithPaymentDAO(s.paymentDAO),
		settlement.WithRegistry(reg),
		settlement.WithRail(s.rail),
	)
	reap, _ := reaper.New(
		reaper.WithTaskDAO(s.taskDAO),
		reaper.WithRegistry(reg),
		reaper.WithConfig(reaper.Config{
			Period:   time.Duration(s.config.Reaper.PeriodSeconds) * time.Second,
			Deadline: time.Duration(s.config.Reaper.DeadlineSeconds) * time.Second,
		}),
	)

	s.runtime = &Runtime{
		registry:   reg,
		allocator:  alloc,
		processor:  proc,
		settlement: settle,
		reaper:     reap,
		taskDAO:    s.taskDAO,
		paymentDAO: s.paymentDAO,
		events:     events,
	}
}

// ensureBaseSetup fills in defaults for everything the options left unset.
func (s *Service) ensureBaseSetup() {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if s.workerCount > 0 {
		s.config.Processor.WorkerCount = s.workerCount
	}
	if s.gpuDAO == nil {
		s.gpuDAO = gpumem.New()
	}
	if s.taskDAO == nil {
		s.taskDAO = taskmem.New()
	}
	if s.paymentDAO == nil {
		s.paymentDAO = paymentmem.New()
	}
	if s.queue == nil {
		s.queue = memory.NewQueue[execution.Execution](memory.DefaultConfig())
	}
	if s.eventQueue == nil {
		s.eventQueue = memory.NewQueue[event.Event[model.Task]](memory.DefaultConfig())
	}
	if s.runner == nil {
		s.runner = processor.NewSimRunner(
			processor.WithRunBounds(s.config.Simulator.MinRun(), s.config.Simulator.MaxRun()),
			processor.WithSuccessRate(s.config.Simulator.SuccessRate),
		)
	}
	if s.rail == nil {
		s.rail = settlement.NewMockRail()
	}
	if s.strategy == nil {
		s.strategy = allocator.FirstAvailable
	}
}

// Runtime returns the operation facade for this service.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}
