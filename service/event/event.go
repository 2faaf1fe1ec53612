package event

import "time"

// Type names a lifecycle event.
type Type string

const (
	TaskSubmitted Type = "task.submitted"
	TaskRunning   Type = "task.running"
	TaskCompleted Type = "task.completed"
	TaskFailed    Type = "task.failed"
	TaskCancelled Type = "task.cancelled"
	TaskSettled   Type = "task.settled"
)

type Context struct {
	TaskID    string `json:"taskID"`
	GPUID     string `json:"gpuID"`
	EventType Type   `json:"eventType"`
}

type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Data      T                      `json:"data"`
}

func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: time.Now(),
		Data:      data,
	}
}
