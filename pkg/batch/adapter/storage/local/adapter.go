// Package local reads objects from the local file system.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	storageAdapter "github.com/tigerroll/csvimport/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/csvimport/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// ProviderType is the storage type handled by this adapter.
const ProviderType = "local"

// localAdapter treats buckets as directories under BaseDir.
type localAdapter struct {
	cfg  storageConfig.StorageConfig
	name string
}

var _ storageAdapter.StorageConnection = (*localAdapter)(nil)

// NewLocalAdapter creates a local storage connection rooted at cfg.BaseDir.
func NewLocalAdapter(cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage adapter '%s': BaseDir must be specified in configuration", name)
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("local storage adapter '%s': failed to stat BaseDir '%s': %w", name, cfg.BaseDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local storage adapter '%s': BaseDir '%s' is not a directory", name, cfg.BaseDir)
	}
	return &localAdapter{cfg: cfg, name: name}, nil
}

func (a *localAdapter) Close() error {
	logger.Debugf("Local storage adapter '%s' closed.", a.name)
	return nil
}

func (a *localAdapter) Type() string { return ProviderType }

func (a *localAdapter) Name() string { return a.name }

// Download opens the file at BaseDir/bucket/objectName.
func (a *localAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path for download: %w", err)
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file '%s': %w", fullPath, err)
	}
	logger.Debugf("Opened '%s' (local adapter '%s').", fullPath, a.name)
	return file, nil
}

// ListObjects walks the bucket directory and reports files whose relative name starts with prefix.
func (a *localAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	basePath, err := a.resolvePath(bucket, "")
	if err != nil {
		return fmt.Errorf("failed to resolve base path for listing: %w", err)
	}
	err = filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		objectName, err := filepath.Rel(basePath, path)
		if err != nil {
			return err
		}
		objectName = filepath.ToSlash(objectName)
		if !strings.HasPrefix(objectName, prefix) {
			return nil
		}
		return fn(objectName)
	})
	if err != nil {
		return fmt.Errorf("failed to list objects in '%s' with prefix '%s': %w", basePath, prefix, err)
	}
	return nil
}

// resolvePath joins BaseDir, bucket and objectName and rejects paths escaping BaseDir.
func (a *localAdapter) resolvePath(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = a.cfg.BucketName
	}
	fullPath := filepath.Join(a.cfg.BaseDir, bucket, objectName)

	absBaseDir, err := filepath.Abs(a.cfg.BaseDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for BaseDir '%s': %w", a.cfg.BaseDir, err)
	}
	absFullPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", fullPath, err)
	}
	rel, err := filepath.Rel(absBaseDir, absFullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("resolved path '%s' is outside of BaseDir '%s'", fullPath, a.cfg.BaseDir)
	}
	return fullPath, nil
}
