package item

import (
	"context"
	"io"
	"sync"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
)

// ListItemReader is an implementation of [port.ItemReader] that reads from an in-memory slice.
// Open rewinds to the first item.
type ListItemReader[O any] struct {
	mu    sync.Mutex
	items []O
	pos   int
}

// NewListItemReader creates a new instance of [ListItemReader].
func NewListItemReader[O any](items []O) *ListItemReader[O] {
	return &ListItemReader[O]{items: items}
}

var _ port.ItemReader[any] = (*ListItemReader[any])(nil)

// Open rewinds the reader.
func (r *ListItemReader[O]) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = 0
	return nil
}

// Read returns the next item, or [io.EOF] after the last one.
func (r *ListItemReader[O]) Read(ctx context.Context) (O, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos >= len(r.items) {
		var zero O
		return zero, io.EOF
	}
	item := r.items[r.pos]
	r.pos++
	return item, nil
}

// Close releases nothing.
func (r *ListItemReader[O]) Close(ctx context.Context) error {
	return nil
}
