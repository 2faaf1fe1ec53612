// Package model defines the marketplace domain records – GPUs offered for
// rent, compute tasks submitted against them and payments settling completed
// work.  Status fields are guarded state machines: every mutation goes through
// a transition method returning a typed error rather than ad-hoc assignment.
package model
