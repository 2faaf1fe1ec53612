// Package idgen issues string identifiers for tasks, GPUs and payments.
package idgen

import "github.com/google/uuid"

// NewFunc produces identifiers; tests swap it for predictable values.
var NewFunc = func() string { return uuid.New().String() }

// New returns a fresh identifier.
func New() string { return NewFunc() }
