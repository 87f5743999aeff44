// Package writer provides item writers that persist chunks to external systems.
package writer

import (
	"context"
	"fmt"

	"github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	"github.com/tigerroll/csvimport/pkg/batch/core/tx"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// RepositoryItemWriter is an implementation of [port.ItemWriter] that saves each chunk
// with one UPSERT statement. It participates in the chunk transaction carried by the
// context and never commits on its own.
type RepositoryItemWriter[T any] struct {
	name            string   // name identifies the writer in logs.
	tableName       string   // tableName is the target table.
	conflictColumns []string // conflictColumns identify a record (e.g., the primary key).
	updateColumns   []string // updateColumns are overwritten when a record already exists.
}

// NewRepositoryItemWriter creates a new instance of [RepositoryItemWriter].
//
// Parameters:
//
//	name: A name for this writer instance.
//	tableName: The name of the target database table.
//	conflictColumns: The columns the upsert is keyed on.
//	updateColumns: The columns to update on conflict (empty for DO NOTHING).
func NewRepositoryItemWriter[T any](name, tableName string, conflictColumns, updateColumns []string) *RepositoryItemWriter[T] {
	return &RepositoryItemWriter[T]{
		name:            name,
		tableName:       tableName,
		conflictColumns: conflictColumns,
		updateColumns:   updateColumns,
	}
}

var _ port.ItemWriter[any] = (*RepositoryItemWriter[any])(nil)

// Write upserts items using the [tx.Tx] found in ctx.
// It fails when ctx carries no transaction, so a chunk is never written outside one.
func (w *RepositoryItemWriter[T]) Write(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}

	currentTx, ok := tx.FromContext(ctx)
	if !ok {
		return exception.NewBatchError("writer", fmt.Sprintf("RepositoryItemWriter '%s': no transaction in context", w.name), nil, false, false)
	}

	if _, err := currentTx.ExecuteUpsert(ctx, &items, w.tableName, w.conflictColumns, w.updateColumns); err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("RepositoryItemWriter '%s': failed to upsert %d items into %s", w.name, len(items), w.tableName), err, false, false)
	}

	logger.Debugf("RepositoryItemWriter '%s': wrote %d items to %s.", w.name, len(items), w.tableName)
	return nil
}

// TableName returns the target table.
func (w *RepositoryItemWriter[T]) TableName() string {
	return w.tableName
}
