package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/chicogong/slot-compositor/pkg/schemas"
)

// LocalStorage implements Storage for local filesystem. With a root it also
// publishes composites under root/<bucket>/<filename>.
type LocalStorage struct {
	root    string
	baseURL string
}

// NewLocalStorage creates a new local storage backend
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{}
}

// NewLocalPublisher creates a local backend that publishes uploads under
// root. baseURL is the address root is served from; when empty, uploads
// are reported as file:// URIs.
func NewLocalPublisher(root, baseURL string) *LocalStorage {
	return &LocalStorage{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload writes data to root/bucket/filename and returns its URL
func (ls *LocalStorage) Upload(ctx context.Context, bucket, filename string, data io.Reader, contentType string) (string, error) {
	if ls.root == "" {
		return "", fmt.Errorf("%w: local publisher has no root directory", schemas.ErrUpload)
	}
	if err := checkObjectName(bucket, filename); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := filepath.Abs(filepath.Join(ls.root, bucket, filename))
	if err != nil {
		return "", fmt.Errorf("%w: %v", schemas.ErrUpload, err)
	}
	if err := writeFile(path, data); err != nil {
		return "", fmt.Errorf("%w: %v", schemas.ErrUpload, err)
	}

	if ls.baseURL == "" {
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
	}
	return ls.baseURL + "/" + url.PathEscape(bucket) + "/" + url.PathEscape(filename), nil
}

// checkObjectName rejects names that would escape the bucket
func checkObjectName(bucket, filename string) error {
	for _, part := range []string{bucket, filename} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return fmt.Errorf("%w: invalid object name %q", schemas.ErrUpload, part)
		}
	}
	return nil
}

// Get reads a local file given as a bare path or file:// URI
func (ls *LocalStorage) Get(ctx context.Context, uri string) (io.ReadCloser, error) {
	path, ok := LocalPath(uri)
	if !ok {
		return nil, fmt.Errorf("local storage only supports file paths, got %s", uri)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Put writes data to a local file
func (ls *LocalStorage) Put(ctx context.Context, uri string, data io.Reader) error {
	scheme, path, err := ParseURI(uri)
	if err != nil {
		return err
	}

	if scheme != "file" {
		return fmt.Errorf("local storage only supports file:// URIs, got %s://", scheme)
	}

	return writeFile(path, data)
}

// writeFile creates path and its parent directories and copies data into it
func writeFile(path string, data io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	_, err = io.Copy(file, data)
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return file.Close()
}

// Delete removes a local file
func (ls *LocalStorage) Delete(ctx context.Context, uri string) error {
	scheme, path, err := ParseURI(uri)
	if err != nil {
		return err
	}

	if scheme != "file" {
		return fmt.Errorf("local storage only supports file:// URIs, got %s://", scheme)
	}

	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// Exists checks if a local file exists
func (ls *LocalStorage) Exists(ctx context.Context, uri string) (bool, error) {
	scheme, path, err := ParseURI(uri)
	if err != nil {
		return false, err
	}

	if scheme != "file" {
		return false, fmt.Errorf("local storage only supports file:// URIs, got %s://", scheme)
	}

	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
