package item

import (
	"context"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
)

// PassThroughItemProcessor is an implementation of [port.ItemProcessor] that returns the input item as the output item as is.
type PassThroughItemProcessor[T any] struct{}

// NewPassThroughItemProcessor creates a new instance of [PassThroughItemProcessor].
func NewPassThroughItemProcessor[T any]() port.ItemProcessor[T, T] {
	return &PassThroughItemProcessor[T]{}
}

// Process returns the input item as is.
func (p *PassThroughItemProcessor[T]) Process(ctx context.Context, item T) (T, error) {
	return item, nil
}

// FunctionItemProcessor adapts a function to [port.ItemProcessor].
type FunctionItemProcessor[I, O any] func(ctx context.Context, item I) (O, error)

// Process calls f.
func (f FunctionItemProcessor[I, O]) Process(ctx context.Context, item I) (O, error) {
	return f(ctx, item)
}
