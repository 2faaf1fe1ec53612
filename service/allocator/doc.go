// Package allocator binds a newly submitted task to a GPU before the task is
// persisted.  Reservation and task creation happen under one lock so two
// concurrent submissions can never double-book the same card; the loser of
// the race observes no available GPU.
package allocator
