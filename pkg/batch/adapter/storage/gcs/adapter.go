// Package gcs reads objects from Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storageAdapter "github.com/tigerroll/csvimport/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/csvimport/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// ProviderType is the storage type handled by this adapter.
const ProviderType = "gcs"

type gcsAdapter struct {
	client *gcstorage.Client
	cfg    storageConfig.StorageConfig
	name   string
}

var _ storageAdapter.StorageConnection = (*gcsAdapter)(nil)

// NewGCSAdapter creates a GCS connection. CredentialsFile is used when set,
// application default credentials otherwise.
func NewGCSAdapter(ctx context.Context, cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{client: client, cfg: cfg, name: name}, nil
}

func (a *gcsAdapter) Close() error {
	logger.Debugf("GCS storage adapter '%s' closed.", a.name)
	return a.client.Close()
}

func (a *gcsAdapter) Type() string { return ProviderType }

func (a *gcsAdapter) Name() string { return a.name }

func (a *gcsAdapter) bucket(name string) (string, error) {
	if name == "" {
		name = a.cfg.BucketName
	}
	if name == "" {
		return "", fmt.Errorf("gcs storage adapter '%s': bucket name is not configured", a.name)
	}
	return name, nil
}

// Download opens a reader on gs://bucket/objectName.
func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	b, err := a.bucket(bucket)
	if err != nil {
		return nil, err
	}
	r, err := a.client.Bucket(b).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", b, objectName, err)
	}
	logger.Debugf("Opened gs://%s/%s (gcs adapter '%s').", b, objectName, a.name)
	return r, nil
}

// ListObjects iterates the objects of bucket whose names start with prefix.
func (a *gcsAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	b, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	it := a.client.Bucket(b).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list gs://%s/%s: %w", b, prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}
