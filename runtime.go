package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/model/fault"
	"github.com/gpumesh/marketplace/service/allocator"
	"github.com/gpumesh/marketplace/service/dao"
	"github.com/gpumesh/marketplace/service/event"
	"github.com/gpumesh/marketplace/service/processor"
	"github.com/gpumesh/marketplace/service/reaper"
	"github.com/gpumesh/marketplace/service/registry"
	"github.com/gpumesh/marketplace/service/settlement"
)

// Runtime exposes the caller-facing marketplace operations.  Every entry
// point takes the acting user and applies the ownership checks before
// delegating to the sub-services.
type Runtime struct {
	registry   *registry.Service
	allocator  *allocator.Service
	processor  *processor.Service
	settlement *settlement.Service
	reaper     *reaper.Service
	taskDAO    dao.Service[string, model.Task]
	paymentDAO dao.Service[string, model.Payment]
	events     *event.Publisher[model.Task]
	listener   *event.Listener[model.Task]
}

// TaskFilter narrows Tasks results; empty fields match everything.
type TaskFilter struct {
	Status string
	Type   string
}

// PaymentDirection selects which side of a payment the caller is on.
type PaymentDirection string

const (
	PaymentAny      PaymentDirection = ""
	PaymentSent     PaymentDirection = "sent"
	PaymentReceived PaymentDirection = "received"
)

// PaymentFilter narrows Payments results.
type PaymentFilter struct {
	Status    string
	Direction PaymentDirection
}

// Start launches the execution workers and the supervision sweep.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.processor.Start(ctx); err != nil {
		return err
	}
	return r.reaper.Start(ctx)
}

// Shutdown stops the reaper, drains the workers and detaches any event
// listener.
func (r *Runtime) Shutdown() {
	r.reaper.Stop()
	r.processor.Shutdown()
	if r.listener != nil {
		r.listener.Stop()
		r.listener = nil
	}
}

// SetTaskListener installs a handler invoked for every task lifecycle event.
// A previously installed listener is stopped first.
func (r *Runtime) SetTaskListener(handler func(*event.Event[model.Task])) {
	if r.listener != nil {
		r.listener.Stop()
	}
	r.listener = event.NewListener(r.events, handler)
	r.listener.Start()
}

func ensureActor(actor model.Actor) error {
	if actor.ID == "" || !actor.Active {
		return fault.New(fault.Forbidden, "inactive user")
	}
	return nil
}

// SubmitTask allocates a GPU for the draft and enqueues the task for
// background execution, returning it in pending state.
func (r *Runtime) SubmitTask(ctx context.Context, actor model.Actor, draft model.TaskDraft) (*model.Task, error) {
	if err := ensureActor(actor); err != nil {
		return nil, err
	}
	task, err := r.allocator.Submit(ctx, actor.ID, draft)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, event.TaskSubmitted, task)
	return task, nil
}

// Task returns one of the caller's tasks.  Tasks submitted by other
// requesters read as not found rather than forbidden, so ids do not leak.
func (r *Runtime) Task(ctx context.Context, actor model.Actor, id string) (*model.Task, error) {
	if err := ensureActor(actor); err != nil {
		return nil, err
	}
	task, err := r.loadTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.RequesterID != actor.ID {
		return nil, fault.New(fault.NotFound, "task %s not found", id)
	}
	return task, nil
}

// Tasks lists the tasks visible to the caller, newest first: those they
// submitted plus those executed on a GPU they own.
func (r *Runtime) Tasks(ctx context.Context, actor model.Actor, filter TaskFilter) ([]*model.Task, error) {
	if err := ensureActor(actor); err != nil {
		return nil, err
	}
	var parameters []*dao.Parameter
	if filter.Status != "" {
		parameters = append(parameters, dao.NewParameter("Status", filter.Status))
	}
	if filter.Type != "" {
		parameters = append(parameters, dao.NewParameter("Type", filter.Type))
	}
	tasks, err := r.taskDAO.List(ctx, parameters...)
	if err != nil {
		return nil, fault.Wrap(err, "failed to list tasks")
	}
	owned, err := r.registry.List(ctx, registry.Filter{OwnerID: actor.ID})
	if err != nil {
		return nil, err
	}
	ownedIDs := make(map[string]bool, len(owned))
	for _, gpu := range owned {
		ownedIDs[gpu.ID] = true
	}
	visible := tasks[:0]
	for _, task := range tasks {
		if task.RequesterID == actor.ID || ownedIDs[task.GPUID] {
			visible = append(visible, task)
		}
	}
	return visible, nil
}

// GPUTasks lists the tasks executed on one of the caller's GPUs, newest
// first.
func (r *Runtime) GPUTasks(ctx context.Context, actor model.Actor, gpuID string) ([]*model.Task, error) {
	if err := ensureActor(actor); err != nil {
		return nil, err
	}
	gpu, err := r.registry.Get(ctx, gpuID)
	if err != nil {
		return nil, err
	}
	if gpu.OwnerID != actor.ID {
		return nil, fault.New(fault.NotFound, "gpu %s not found", gpuID)
	}
	tasks, err := r.taskDAO.List(ctx, dao.NewParameter("GPUID", gpuID))
	if err != nil {
		return nil, fault.Wrap(err, "failed to list tasks for gpu %s", gpuID)
	}
	return tasks, nil
}

// CancelTask cancels a pending or running task of the caller and returns its
// GPU to the pool.  A worker mid-run observes the cancellation on its final
// reload and discards its result.
func (r *Runtime) CancelTask(ctx context.Context, actor model.Actor, id string) (*model.Task, error) {
	if err := ensureActor(actor); err != nil {
		return nil, err
	}
	task, err := dao.Mutate(ctx, r.taskDAO, id, func(task *model.Task) error {
		if task.RequesterID != actor.ID {
			return fault.New(fault.Forbidden, "task %s does not belong to caller", id)
		}
		if task.Status.Terminal() {
			return fault.New(fault.InvalidState, "cannot cancel task with status %s", task.Status)
		}
		return task.Transition(model.TaskStatusCancelled)
	})
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, fault.New(fault.NotFound, "task %s not found", id)
		}
		return nil, err
	}
	if err := r.registry.Release(ctx, task.GPUID); err != nil {
		log.Printf("runtime: failed to release gpu %s: %v", task.GPUID, err)
	}
	r.publish(ctx, event.TaskCancelled, task)
	return task, nil
}

// WaitForTask polls until the task reaches a terminal status or the timeout
// elapses; on timeout the last observed task is returned along with the
// error.
func (r *Runtime) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*model.Task, error) {
	deadline := time.Now().Add(timeout)
	for {
		task, err := r.loadTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		if time.Now().After(deadline) {
			return task, fmt.Errorf("timeout waiting for task %s after %s", taskID, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// SettleTask pays for a completed task of the caller.
func (r *Runtime) SettleTask(ctx context.Context, actor model.Actor, taskID string, amount decimal.Decimal) (*model.Payment, error) {
	if err := ensureActor(actor); err != nil {
		return nil, err
	}
	payment, err := r.settlement.Settle(ctx, actor.ID, taskID, amount)
	if err != nil {
		return nil, err
	}
	if task, tErr := r.loadTask(ctx, taskID); tErr == nil {
		r.publish(ctx, event.TaskSettled, task)
	}
	return payment, nil
}

// Payment returns one payment the caller is party to.
func (r *Runtime) Payment(ctx context.Context, actor model.Actor, id string) (*model.Payment, error) {
	if err := ensureActor(actor); err != nil {
		return nil, err
	}
	payment, err := r.paymentDAO.Load(ctx, id)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, fault.New(fault.NotFound, "payment %s not found", id)
		}
		return nil, fault.Wrap(err, "failed to load payment %s", id)
	}
	if payment.PayerID != actor.ID && payment.RecipientID != actor.ID {
		return nil, fault.New(fault.NotFound, "payment %s not found", id)
	}
	return payment, nil
}

// Payments lists the caller's payments, newest first.  Direction restricts
// the listing to payments they sent or received.
func (r *Runtime) Payments(ctx context.Context, actor model.Actor, filter PaymentFilter) ([]*model.Payment, error) {
	if err := ensureActor(actor); err != nil {
		return nil, err
	}
	var parameters []*dao.Parameter
	if filter.Status != "" {
		parameters = append(parameters, dao.NewParameter("Status", filter.Status))
	}
	switch filter.Direction {
	case PaymentSent:
		parameters = append(parameters, dao.NewParameter("PayerID", actor.ID))
	case PaymentReceived:
		parameters = append(parameters, dao.NewParameter("RecipientID", actor.ID))
	}
	payments, err := r.paymentDAO.List(ctx, parameters...)
	if err != nil {
		return nil, fault.Wrap(err, "failed to list payments")
	}
	if filter.Direction != PaymentAny {
		return payments, nil
	}
	visible := payments[:0]
	for _, payment := range payments {
		if payment.PayerID == actor.ID || payment.RecipientID == actor.ID {
			visible = append(visible, payment)
		}
	}
	return visible, nil
}

// RegisterGPU lists a GPU for rental on behalf of the caller.
func (r *Runtime) RegisterGPU(ctx context.Context, actor model.Actor, draft registry.Draft) (*model.GPU, error) {
	if err := ensureActor(actor); err != nil {
		return nil, err
	}
	return r.registry.Register(ctx, actor.ID, draft)
}

// UpdateGPU applies an owner update to one of the caller's GPUs.
func (r *Runtime) UpdateGPU(ctx context.Context, actor model.Actor, id string, update registry.Update) (*model.GPU, error) {
	if err := ensureActor(actor); err != nil {
		return nil, err
	}
	gpu, err := r.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if gpu.OwnerID != actor.ID {
		return nil, fault.New(fault.Forbidden, "gpu %s does not belong to caller", id)
	}
	return r.registry.Update(ctx, id, update)
}

// DeleteGPU removes one of the caller's GPUs; a card currently executing a
// task cannot be deleted.
func (r *Runtime) DeleteGPU(ctx context.Context, actor model.Actor, id string) error {
	if err := ensureActor(actor); err != nil {
		return err
	}
	gpu, err := r.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if gpu.OwnerID != actor.ID {
		return fault.New(fault.Forbidden, "gpu %s does not belong to caller", id)
	}
	return r.registry.Delete(ctx, id)
}

// GPU returns a GPU by id.  Listings are public; no ownership check applies.
func (r *Runtime) GPU(ctx context.Context, id string) (*model.GPU, error) {
	return r.registry.Get(ctx, id)
}

// GPUs lists GPUs matching the filter in registration order.
func (r *Runtime) GPUs(ctx context.Context, filter registry.Filter) ([]*model.GPU, error) {
	return r.registry.List(ctx, filter)
}

// Sweep runs one supervision pass immediately, independent of the schedule.
func (r *Runtime) Sweep(ctx context.Context) {
	r.reaper.Sweep(ctx)
}

func (r *Runtime) loadTask(ctx context.Context, id string) (*model.Task, error) {
	task, err := r.taskDAO.Load(ctx, id)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, fault.New(fault.NotFound, "task %s not found", id)
		}
		return nil, fault.Wrap(err, "failed to load task %s", id)
	}
	return task, nil
}

func (r *Runtime) publish(ctx context.Context, eventType event.Type, task *model.Task) {
	eventContext := &event.Context{TaskID: task.ID, GPUID: task.GPUID, EventType: eventType}
	if err := r.events.Publish(ctx, event.NewEvent(eventContext, *task.Clone())); err != nil {
		log.Printf("runtime: failed to publish %s event for task %s: %v", eventType, task.ID, err)
	}
}
