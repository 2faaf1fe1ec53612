// Package marketplace implements the core of a GPU compute marketplace:
// owners register GPUs for rental, requesters submit compute tasks, an
// allocator binds each task to an available card, background workers advance
// the task to a terminal state and a settlement service creates the payment
// for completed work.
//
// The package wires focused sub-services (registry, allocator, processor,
// settlement, reaper) behind a single Service built from functional options;
// the Runtime facade exposes the caller-visible operations with ownership
// checks applied.
package marketplace
