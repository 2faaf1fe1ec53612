// Package processor advances pending tasks to a terminal state.  A pool of
// workers consumes the execution queue, runs each task through a Runner and
// writes the outcome back to the task store, releasing the reserved GPU.  The
// default runner simulates inference; a real execution backend plugs in
// behind the same interface.
package processor
