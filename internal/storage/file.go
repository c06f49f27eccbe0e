package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStorage stores each record as a JSON file at <dir>/<namespace>/<key>.json.
type FileStorage struct {
	dir string
}

// NewFileStorage creates the root directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStorage{dir: filepath.Clean(dir)}, nil
}

func (s *FileStorage) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(namespace, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Put writes to a temp file in the target directory and renames it over the
// record, so readers never see a half-written file.
func (s *FileStorage) Put(ctx context.Context, namespace, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(namespace, key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func (s *FileStorage) Close() error {
	return nil
}

func (s *FileStorage) path(namespace, key string) (string, error) {
	if namespace == "" || key == "" {
		return "", fmt.Errorf("namespace and key are required")
	}
	for _, part := range append([]string{namespace}, strings.Split(key, "/")...) {
		if part == "." || part == ".." {
			return "", fmt.Errorf("key %q has a relative path segment", namespace+"/"+key)
		}
	}
	path := filepath.Join(s.dir, namespace, filepath.FromSlash(key)+".json")
	if !strings.HasPrefix(path, s.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage dir", namespace+"/"+key)
	}
	return path, nil
}
