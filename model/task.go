package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gpumesh/marketplace/internal/clock"
	"github.com/gpumesh/marketplace/internal/idgen"
	"github.com/gpumesh/marketplace/model/fault"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is legal from the status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskType tags the kind of workload a task carries.
type TaskType string

const (
	TaskTypeTextGeneration  TaskType = "text_generation"
	TaskTypeImageGeneration TaskType = "image_generation"
	TaskTypeModelTraining   TaskType = "model_training"
	TaskTypeOther           TaskType = "other"
)

// taskTransitions is the legal transition set; anything outside it fails with
// an InvalidTransition fault.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning: {TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
}

// Task represents a compute task submitted by a requester and bound to a GPU.
type Task struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Type        TaskType               `json:"taskType"`
	Status      TaskStatus             `json:"status"`
	RequesterID string                 `json:"requesterId"`
	GPUID       string                 `json:"gpuId,omitempty"`
	Input       map[string]interface{} `json:"inputData,omitempty"`
	Output      map[string]interface{} `json:"outputData,omitempty"`
	Cost        decimal.Decimal        `json:"cost"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   *time.Time             `json:"updatedAt,omitempty"`
}

// NewTask creates a pending task bound to the supplied GPU.
func NewTask(requesterID, gpuID string, draft TaskDraft) *Task {
	return &Task{
		ID:          idgen.New(),
		Title:       draft.Title,
		Description: draft.Description,
		Type:        draft.Type,
		Status:      TaskStatusPending,
		RequesterID: requesterID,
		GPUID:       gpuID,
		Input:       draft.Input,
		Cost:        decimal.Zero,
		CreatedAt:   clock.Now(),
	}
}

// TaskDraft carries the caller supplied fields of a task submission.
type TaskDraft struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Type        TaskType               `json:"taskType"`
	Input       map[string]interface{} `json:"inputData,omitempty"`
	// GPUID optionally targets a specific card; empty lets the allocator pick.
	GPUID string `json:"gpuId,omitempty"`
}

// CanTransition reports whether moving to next is legal from the current
// status.
func (t *Task) CanTransition(next TaskStatus) bool {
	for _, allowed := range taskTransitions[t.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the task to the next status, stamping started/completed
// times.  Illegal moves fail with InvalidTransition and leave the task
// untouched.
func (t *Task) Transition(next TaskStatus) error {
	if !t.CanTransition(next) {
		return fault.New(fault.InvalidTransition, "task %s: illegal transition %s -> %s", t.ID, t.Status, next)
	}
	now := clock.Now()
	t.Status = next
	t.UpdatedAt = &now
	switch next {
	case TaskStatusRunning:
		t.StartedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		t.CompletedAt = &now
	}
	return nil
}

// Complete transitions the task to completed, populating the output payload
// and the computed cost.
func (t *Task) Complete(output map[string]interface{}, cost decimal.Decimal) error {
	if err := t.Transition(TaskStatusCompleted); err != nil {
		return err
	}
	t.Output = output
	t.Cost = cost
	return nil
}

// Fail transitions the task to failed with an error payload.
func (t *Task) Fail(output map[string]interface{}) error {
	if err := t.Transition(TaskStatusFailed); err != nil {
		return err
	}
	t.Output = output
	return nil
}

// Clone creates a deep copy of the task so that the caller can mutate it
// without affecting the stored instance.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Input != nil {
		clone.Input = make(map[string]interface{}, len(t.Input))
		for k, v := range t.Input {
			clone.Input[k] = v
		}
	}
	if t.Output != nil {
		clone.Output = make(map[string]interface{}, len(t.Output))
		for k, v := range t.Output {
			clone.Output[k] = v
		}
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		clone.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		clone.CompletedAt = &v
	}
	if t.UpdatedAt != nil {
		v := *t.UpdatedAt
		clone.UpdatedAt = &v
	}
	return &clone
}
