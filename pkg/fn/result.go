// Package fn holds the small result and stage helpers the pipelines are built from.
package fn

import "fmt"

// Result carries either a value or the error that prevented producing it.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok creates a successful Result.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v, ok: true}
}

// Err creates a failed Result. A nil error still marks the result as failed.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = fmt.Errorf("fn: unspecified failure")
	}
	return Result[T]{err: err}
}

// Errf creates a failed Result from a format string.
func Errf[T any](format string, args ...any) Result[T] {
	return Result[T]{err: fmt.Errorf(format, args...)}
}

func (r Result[T]) IsOk() bool  { return r.ok }
func (r Result[T]) IsErr() bool { return !r.ok }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Cause returns the failure, or nil for a successful result.
func (r Result[T]) Cause() error { return r.err }

// FromPair creates a Result from a (value, error) pair.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}
