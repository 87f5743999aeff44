// Package storage defines the object storage abstraction input files are read through.
package storage

import (
	"context"
	"io"

	coreAdapter "github.com/tigerroll/csvimport/pkg/batch/core/adapter"
)

// StorageExecutor defines the storage operations used by the batch.
type StorageExecutor interface {
	// Download opens the named object. The caller must close the returned reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under prefix, in lexical order for the local adapter.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
}

// StorageConnection represents a storage connection.
type StorageConnection interface {
	coreAdapter.ResourceConnection
	StorageExecutor
}
