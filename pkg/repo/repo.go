// Package repo defines the generic Repository interface, list options and a
// gorm-backed implementation.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no row matches the requested id.
var ErrNotFound = errors.New("repo: not found")

// Repository is a generic CRUD interface.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination, ordering and filtering for List operations.
type ListOpts struct {
	Offset int
	// Limit <= 0 returns every row.
	Limit int
	// Order is a column followed by an optional direction, e.g. "created_at desc".
	Order  string
	Filter map[string]any
}
