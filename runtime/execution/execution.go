package execution

import (
	"time"

	"github.com/gpumesh/marketplace/internal/clock"
	"github.com/gpumesh/marketplace/model"
)

// Execution is the unit of work handed from the allocator to the processor
// workers.  It carries references only; the task record in the store is the
// single source of truth for status.
type Execution struct {
	TaskID      string    `json:"taskId"`
	GPUID       string    `json:"gpuId"`
	Attempts    int       `json:"attempts,omitempty"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// New creates an execution for a freshly allocated task.
func New(task *model.Task) *Execution {
	return &Execution{
		TaskID:      task.ID,
		GPUID:       task.GPUID,
		ScheduledAt: clock.Now(),
	}
}
