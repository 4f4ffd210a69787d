package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/chicogong/slot-compositor/pkg/schemas"
	"github.com/chicogong/slot-compositor/pkg/storage"
)

// scratchPrefix names every per-run scratch directory
const scratchPrefix = "job-"

// StorageManager moves engine inputs into scratch space and finished
// composites out to their destination
type StorageManager struct {
	local *storage.LocalStorage
	http  *storage.HTTPStorage
	s3    *storage.S3Storage
}

// NewStorageManager creates a storage manager. s3 may be nil when no
// bucket is configured; s3:// sources and destinations then fail.
func NewStorageManager(s3 *storage.S3Storage) *StorageManager {
	return &StorageManager{
		local: storage.NewLocalStorage(),
		http:  storage.NewHTTPStorage(),
		s3:    s3,
	}
}

// getStorage returns the appropriate storage backend for a URI
func (sm *StorageManager) getStorage(uri string) (storage.Storage, error) {
	scheme, _, err := storage.ParseURI(uri)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case "file":
		return sm.local, nil
	case "http", "https":
		return sm.http, nil
	case "s3":
		if sm.s3 == nil {
			return nil, fmt.Errorf("S3 storage not initialized (AWS credentials may be missing)")
		}
		return sm.s3, nil
	default:
		return nil, fmt.Errorf("unsupported URI scheme: %s", scheme)
	}
}

// DownloadInput makes uri available on the local filesystem. Local paths
// are returned as-is; remote sources are copied into dir under name plus
// the source's extension.
func (sm *StorageManager) DownloadInput(ctx context.Context, uri, dir, name string) (string, error) {
	if local, ok := storage.LocalPath(uri); ok {
		if _, err := os.Stat(local); err != nil {
			return "", fmt.Errorf("%w: %s: %v", schemas.ErrMissingAsset, uri, err)
		}
		return local, nil
	}

	stor, err := sm.getStorage(uri)
	if err != nil {
		return "", err
	}

	reader, err := stor.Get(ctx, uri)
	if err != nil {
		return "", fmt.Errorf("%w: failed to download %s: %v", schemas.ErrMissingAsset, uri, err)
	}
	defer reader.Close()

	_, p, _ := storage.ParseURI(uri)
	tempPath := filepath.Join(dir, name+path.Ext(p))

	tempFile, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tempFile.Close()

	if _, err := io.Copy(tempFile, reader); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return tempPath, tempFile.Close()
}

// Open streams uri without staging it in scratch space. Stills decoded in
// process are read this way.
func (sm *StorageManager) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if local, ok := storage.LocalPath(uri); ok {
		return os.Open(local)
	}

	stor, err := sm.getStorage(uri)
	if err != nil {
		return nil, err
	}
	return stor.Get(ctx, uri)
}

// LocalizeInputs returns a copy of inputs whose sources all point at local
// files. The synthetic base has no source and is passed through.
func (sm *StorageManager) LocalizeInputs(ctx context.Context, inputs []schemas.PlanInput, dir string) ([]schemas.PlanInput, error) {
	out := make([]schemas.PlanInput, len(inputs))
	for i, in := range inputs {
		out[i] = in
		if in.Kind == schemas.InputColor {
			continue
		}

		local, err := sm.DownloadInput(ctx, in.Source, dir, fmt.Sprintf("input-%d", in.Index))
		if err != nil {
			return nil, fmt.Errorf("input %d (%s): %w", in.Index, in.NodeID, err)
		}
		out[i].Source = local
	}
	return out, nil
}

// IsRemote reports whether destURI needs an upload after encoding
func (sm *StorageManager) IsRemote(destURI string) bool {
	_, ok := storage.LocalPath(destURI)
	return !ok
}

// UploadOutput copies a local file to its destination
func (sm *StorageManager) UploadOutput(ctx context.Context, localPath, destURI string) error {
	if destPath, ok := storage.LocalPath(destURI); ok {
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return fmt.Errorf("failed to create destination directory: %w", err)
		}
		return sm.copyFile(localPath, destPath)
	}

	stor, err := sm.getStorage(destURI)
	if err != nil {
		return err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	if err := stor.Put(ctx, destURI, file); err != nil {
		return fmt.Errorf("%w: %s: %v", schemas.ErrUpload, destURI, err)
	}
	return nil
}

// copyFile copies a file from src to dst
func (sm *StorageManager) copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Close()
}

// CleanupScratchDir removes a per-run scratch directory and all its contents
func (sm *StorageManager) CleanupScratchDir(dir string) error {
	if dir == "" || dir == "/" || dir == "." {
		return fmt.Errorf("invalid scratch directory: %s", dir)
	}

	// Only remove directories this package created
	if !strings.HasPrefix(filepath.Base(dir), scratchPrefix) {
		return fmt.Errorf("refusing to clean up non-scratch directory: %s", dir)
	}

	return os.RemoveAll(dir)
}
