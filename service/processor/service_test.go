package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/runtime/execution"
	gpumem "github.com/gpumesh/marketplace/service/dao/gpu/memory"
	taskmem "github.com/gpumesh/marketplace/service/dao/task/memory"
	"github.com/gpumesh/marketplace/service/messaging"
	"github.com/gpumesh/marketplace/service/messaging/memory"
	"github.com/gpumesh/marketplace/service/registry"
)

// stubRunner returns a canned result and optionally mutates the store
// mid-run, standing in for a concurrent caller.
type stubRunner struct {
	result   *Result
	err      error
	midRunFn func(ctx context.Context)
}

func (r *stubRunner) Run(ctx context.Context, _ *model.Task, _ *model.GPU) (*Result, error) {
	if r.midRunFn != nil {
		r.midRunFn(ctx)
	}
	return r.result, r.err
}

type fixture struct {
	service  *Service
	registry *registry.Service
	taskDAO  *taskmem.Service
	queue    *memory.Queue[execution.Execution]
	gpu      *model.GPU
}

func newFixture(t *testing.T, runner Runner) *fixture {
	t.Helper()
	ctx := context.Background()

	reg, err := registry.New(registry.WithGPUDAO(gpumem.New()))
	require.NoError(t, err)
	gpu, err := reg.Register(ctx, "owner-1", registry.Draft{
		Name:         "rig-1",
		Model:        model.GPUModelA100,
		VRAMGB:       80,
		PricePerHour: decimal.RequireFromString("3.6"),
	})
	require.NoError(t, err)

	taskDAO := taskmem.New()
	queue := memory.NewQueue[execution.Execution](memory.DefaultConfig())

	svc, err := New(
		WithTaskDAO(taskDAO),
		WithRegistry(reg),
		WithQueue(queue),
		WithRunner(runner),
	)
	require.NoError(t, err)
	return &fixture{service: svc, registry: reg, taskDAO: taskDAO, queue: queue, gpu: gpu}
}

// enqueue reserves the GPU, stores a pending task and returns the consumed
// execution message, mirroring what the allocator does on submission.
func (f *fixture) enqueue(t *testing.T) (*model.Task, messaging.Message[execution.Execution]) {
	t.Helper()
	ctx := context.Background()

	_, err := f.registry.Reserve(ctx, f.gpu.ID, nil, nil)
	require.NoError(t, err)

	task := model.NewTask("requester-1", f.gpu.ID, model.TaskDraft{
		Title: "test",
		Type:  model.TaskTypeTextGeneration,
	})
	require.NoError(t, f.taskDAO.Save(ctx, task))
	require.NoError(t, f.queue.Publish(ctx, execution.New(task)))

	msg, err := f.queue.Consume(ctx)
	require.NoError(t, err)
	return task, msg
}

func TestService_ProcessCompletes(t *testing.T) {
	ctx := context.Background()
	runner := &stubRunner{result: &Result{
		Output:  map[string]interface{}{"result": "ok"},
		Elapsed: 2 * time.Second,
	}}
	f := newFixture(t, runner)
	task, msg := f.enqueue(t)

	require.NoError(t, f.service.processMessage(ctx, msg))

	stored, err := f.taskDAO.Load(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, stored.Status)
	assert.Equal(t, "ok", stored.Output["result"])
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)
	// 3.6/h for 2s = 0.002
	assert.True(t, decimal.RequireFromString("0.002").Equal(stored.Cost), "got cost %s", stored.Cost)

	gpu, err := f.registry.Get(ctx, f.gpu.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GPUStatusAvailable, gpu.Status)
}

func TestService_ProcessFails(t *testing.T) {
	ctx := context.Background()
	runner := &stubRunner{err: ErrSimulatedFailure}
	f := newFixture(t, runner)
	task, msg := f.enqueue(t)

	require.NoError(t, f.service.processMessage(ctx, msg))

	stored, err := f.taskDAO.Load(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, stored.Status)
	assert.Equal(t, "Task processing failed", stored.Output["error"])
	assert.Equal(t, ErrSimulatedFailure.Error(), stored.Output["reason"])
	assert.True(t, stored.Cost.IsZero())

	gpu, err := f.registry.Get(ctx, f.gpu.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GPUStatusAvailable, gpu.Status)
}

func TestService_ProcessCancelledBeforePickup(t *testing.T) {
	ctx := context.Background()
	runner := &stubRunner{result: &Result{Elapsed: time.Second}}
	f := newFixture(t, runner)
	task, msg := f.enqueue(t)

	// The requester cancels before any worker picks the task up.
	stored, err := f.taskDAO.Load(ctx, task.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Transition(model.TaskStatusCancelled))
	require.NoError(t, f.taskDAO.Save(ctx, stored))

	require.NoError(t, f.service.processMessage(ctx, msg))

	final, err := f.taskDAO.Load(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, final.Status)
	assert.Nil(t, final.StartedAt, "a cancelled task never starts running")
}

func TestService_ProcessCancelledMidRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	// The runner cancels the stored record while the run is in flight; the
	// worker's final reload must observe it and discard the result.
	runner := &stubRunner{
		result: &Result{Output: map[string]interface{}{"result": "ok"}, Elapsed: time.Second},
		midRunFn: func(ctx context.Context) {
			stored, err := f.taskDAO.Load(ctx, taskID(t, f))
			require.NoError(t, err)
			require.NoError(t, stored.Transition(model.TaskStatusCancelled))
			require.NoError(t, f.taskDAO.Save(ctx, stored))
		},
	}
	f.service.runner = runner
	task, msg := f.enqueue(t)

	require.NoError(t, f.service.processMessage(ctx, msg))

	final, err := f.taskDAO.Load(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, final.Status)
	assert.True(t, final.Cost.IsZero())
	assert.Nil(t, final.Output)
}

// cancelOnTerminalDAO lets a cancellation win the store lock immediately
// before the worker's terminal write, the tightest interleaving of the
// cancel race.
type cancelOnTerminalDAO struct {
	*taskmem.Service
	calls int32
}

func (d *cancelOnTerminalDAO) Mutate(ctx context.Context, id string, fn func(*model.Task) error) (*model.Task, error) {
	// Call 1 is the pending->running transition, call 2 the terminal write.
	if atomic.AddInt32(&d.calls, 1) == 2 {
		if _, err := d.Service.Mutate(ctx, id, func(task *model.Task) error {
			return task.Transition(model.TaskStatusCancelled)
		}); err != nil {
			return nil, err
		}
	}
	return d.Service.Mutate(ctx, id, fn)
}

func TestService_CancelRacesTerminalWrite(t *testing.T) {
	ctx := context.Background()

	reg, err := registry.New(registry.WithGPUDAO(gpumem.New()))
	require.NoError(t, err)
	gpu, err := reg.Register(ctx, "owner-1", registry.Draft{
		Name:         "rig-1",
		PricePerHour: decimal.RequireFromString("3.6"),
	})
	require.NoError(t, err)
	_, err = reg.Reserve(ctx, gpu.ID, nil, nil)
	require.NoError(t, err)

	store := &cancelOnTerminalDAO{Service: taskmem.New()}
	queue := memory.NewQueue[execution.Execution](memory.DefaultConfig())
	svc, err := New(
		WithTaskDAO(store),
		WithRegistry(reg),
		WithQueue(queue),
		WithRunner(&stubRunner{result: &Result{
			Output:  map[string]interface{}{"result": "ok"},
			Elapsed: 2 * time.Second,
		}}),
	)
	require.NoError(t, err)

	task := model.NewTask("requester-1", gpu.ID, model.TaskDraft{Title: "racy"})
	require.NoError(t, store.Save(ctx, task))
	require.NoError(t, queue.Publish(ctx, execution.New(task)))
	msg, err := queue.Consume(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.processMessage(ctx, msg))

	// The cancellation is terminal and must not be overwritten by the run's
	// outcome.
	final, err := store.Load(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, final.Status)
	assert.True(t, final.Cost.IsZero())
	assert.Nil(t, final.Output)
}

// taskID returns the single stored task's id.
func taskID(t *testing.T, f *fixture) string {
	t.Helper()
	tasks, err := f.taskDAO.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0].ID
}

func TestService_ProcessMissingTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubRunner{result: &Result{Elapsed: time.Second}})
	task, msg := f.enqueue(t)

	require.NoError(t, f.taskDAO.Delete(ctx, task.ID))
	require.NoError(t, f.service.processMessage(ctx, msg))

	// The orphaned reservation is returned to the pool.
	gpu, err := f.registry.Get(ctx, f.gpu.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GPUStatusAvailable, gpu.Status)
}

func TestCost(t *testing.T) {
	testCases := []struct {
		name    string
		price   string
		elapsed time.Duration
		expect  string
	}{
		{name: "one hour at hourly rate", price: "2.50", elapsed: time.Hour, expect: "2.5"},
		{name: "two seconds", price: "3.6", elapsed: 2 * time.Second, expect: "0.002"},
		{name: "sub-cent rounds to 6 places", price: "1", elapsed: time.Second, expect: "0.000278"},
		{name: "zero elapsed", price: "2.50", elapsed: 0, expect: "0"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Cost(decimal.RequireFromString(tc.price), tc.elapsed)
			assert.True(t, decimal.RequireFromString(tc.expect).Equal(got), "got %s", got)
		})
	}
}

func TestSimRunner(t *testing.T) {
	ctx := context.Background()
	task := model.NewTask("requester-1", "gpu-1", model.TaskDraft{Title: "test"})

	t.Run("success", func(t *testing.T) {
		runner := NewSimRunner(
			WithRunBounds(time.Millisecond, 5*time.Millisecond),
			WithSuccessRate(1),
			WithRandSeed(42),
		)
		result, err := runner.Run(ctx, task, nil)
		require.NoError(t, err)
		assert.Equal(t, "Task completed successfully", result.Output["result"])
		assert.GreaterOrEqual(t, result.Elapsed, time.Millisecond)
		assert.LessOrEqual(t, result.Elapsed, 5*time.Millisecond)

		mock, ok := result.Output["mock_data"].(map[string]interface{})
		require.True(t, ok)
		tokens, ok := mock["tokens_generated"].(int)
		require.True(t, ok)
		assert.GreaterOrEqual(t, tokens, 10)
		assert.LessOrEqual(t, tokens, 100)
	})

	t.Run("failure", func(t *testing.T) {
		runner := NewSimRunner(
			WithRunBounds(time.Millisecond, time.Millisecond),
			WithSuccessRate(0),
			WithRandSeed(42),
		)
		_, err := runner.Run(ctx, task, nil)
		assert.ErrorIs(t, err, ErrSimulatedFailure)
	})

	t.Run("cancelled context", func(t *testing.T) {
		runner := NewSimRunner(WithRunBounds(time.Second, time.Second), WithSuccessRate(1))
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := runner.Run(cancelled, task, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestService_StartConsumesQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &stubRunner{result: &Result{
		Output:  map[string]interface{}{"result": "ok"},
		Elapsed: time.Second,
	}}
	f := newFixture(t, runner)

	reserved, err := f.registry.Reserve(ctx, f.gpu.ID, nil, nil)
	require.NoError(t, err)
	task := model.NewTask("requester-1", reserved.ID, model.TaskDraft{Title: "test"})
	require.NoError(t, f.taskDAO.Save(ctx, task))
	require.NoError(t, f.queue.Publish(ctx, execution.New(task)))

	require.NoError(t, f.service.Start(ctx))
	defer f.service.Shutdown()

	require.Eventually(t, func() bool {
		stored, err := f.taskDAO.Load(ctx, task.ID)
		if err != nil {
			return false
		}
		return stored.Status == model.TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond, fmt.Sprintf("task %s never completed", task.ID))
}
