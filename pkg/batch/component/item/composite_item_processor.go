package item

import (
	"context"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
)

// CompositeItemProcessor runs first and feeds its result to second.
// An item filtered or rejected by first never reaches second.
type CompositeItemProcessor[I, M, O any] struct {
	first  port.ItemProcessor[I, M]
	second port.ItemProcessor[M, O]
}

// NewCompositeItemProcessor creates a new instance of [CompositeItemProcessor].
// A nil second processor is not allowed; use [NewPassThroughItemProcessor] instead.
func NewCompositeItemProcessor[I, M, O any](first port.ItemProcessor[I, M], second port.ItemProcessor[M, O]) *CompositeItemProcessor[I, M, O] {
	return &CompositeItemProcessor[I, M, O]{first: first, second: second}
}

// Process implements port.ItemProcessor.
func (p *CompositeItemProcessor[I, M, O]) Process(ctx context.Context, item I) (O, error) {
	mid, err := p.first.Process(ctx, item)
	if err != nil {
		var zero O
		return zero, err
	}
	return p.second.Process(ctx, mid)
}
