package repo

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"gorm.io/gorm"
)

var orderRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*( (asc|desc))?$`)

// GormRepo is a generic gorm-backed repository for a model whose primary
// key column is "id".
type GormRepo[T any, ID comparable] struct {
	db *gorm.DB
}

// NewGormRepo creates a repository over db.
func NewGormRepo[T any, ID comparable](db *gorm.DB) *GormRepo[T, ID] {
	return &GormRepo[T, ID]{db: db}
}

// Compile-time interface check.
var _ Repository[struct{}, string] = (*GormRepo[struct{}, string])(nil)

// DB returns the underlying handle.
func (r *GormRepo[T, ID]) DB() *gorm.DB { return r.db }

func (r *GormRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var out T
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, fmt.Errorf("repo: get: %w", err)
	}
	return out, nil
}

func (r *GormRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	q := r.db.WithContext(ctx)
	if len(opts.Filter) > 0 {
		q = q.Where(opts.Filter)
	}
	if opts.Order != "" {
		if !orderRe.MatchString(opts.Order) {
			return nil, fmt.Errorf("repo: invalid order %q", opts.Order)
		}
		q = q.Order(opts.Order)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var items []T
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("repo: list: %w", err)
	}
	return items, nil
}

func (r *GormRepo[T, ID]) Create(ctx context.Context, entity T) (T, error) {
	if err := r.db.WithContext(ctx).Create(&entity).Error; err != nil {
		var zero T
		return zero, fmt.Errorf("repo: create: %w", err)
	}
	return entity, nil
}

func (r *GormRepo[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	res := r.db.WithContext(ctx).Model(&entity).Select("*").Updates(&entity)
	if res.Error != nil {
		var zero T
		return zero, fmt.Errorf("repo: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var zero T
		return zero, ErrNotFound
	}
	return entity, nil
}

func (r *GormRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(new(T))
	if res.Error != nil {
		return fmt.Errorf("repo: delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
