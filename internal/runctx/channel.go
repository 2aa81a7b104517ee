// Package runctx has channel helpers that give up when a context ends.
package runctx

import "context"

// Drain hands every value received from in to handle until in is closed,
// ctx ends or handle fails. It returns nil once in is closed and drained,
// ctx.Err() when the context ended first, or the handler's error.
func Drain[T any](ctx context.Context, in <-chan T, handle func(T) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-in:
			if !ok {
				return nil
			}
			if err := handle(v); err != nil {
				return err
			}
		}
	}
}

// Send delivers value on out unless ctx ends first and reports whether it
// was delivered.
func Send[T any](ctx context.Context, out chan<- T, value T) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- value:
		return true
	}
}
