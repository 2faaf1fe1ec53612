package dao

import (
	"context"
)

// Service is the persistence contract shared by all marketplace entities.
// Concrete implementations (in-memory, filesystem, a real database behind the
// same interface) are selected by the caller at wiring time.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}

// Mutator is implemented by stores that can apply a read-modify-write as one
// atomic unit.  fn sees the latest stored state; the result is persisted only
// when fn returns nil, so a guarded transition inside fn cannot overwrite a
// concurrent status change (a row-level UPDATE ... WHERE status=? equivalent).
type Mutator[K comparable, T any] interface {
	Mutate(ctx context.Context, id K, fn func(*T) error) (*T, error)
}

// Mutate applies fn to the stored entity atomically when the store supports
// it, falling back to load-modify-save otherwise.
func Mutate[K comparable, T any](ctx context.Context, store Service[K, T], id K, fn func(*T) error) (*T, error) {
	if mutator, ok := store.(Mutator[K, T]); ok {
		return mutator.Mutate(ctx, id, fn)
	}
	entity, err := store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(entity); err != nil {
		return nil, err
	}
	if err := store.Save(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}
