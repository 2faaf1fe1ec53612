// Package settlement creates payments for completed tasks.  The amount must
// match the task's computed cost exactly and at most one payment exists per
// task.  The actual transfer happens behind the Rail interface; the default
// rail is a mock that completes synchronously.
package settlement
