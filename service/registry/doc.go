// Package registry implements the GPU resource registry: registration,
// owner updates, reservation for task execution and release back to the
// available pool.  Reservation is the only path that flips a GPU to in_use,
// which keeps the one-task-per-GPU invariant in a single place.
package registry
