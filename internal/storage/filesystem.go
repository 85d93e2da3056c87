package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

// FilesystemStore serves a local directory as a bucket
type FilesystemStore struct {
	baseDir       string
	maxObjectSize int64
}

// NewFilesystemStore creates a store rooted at baseDir
func NewFilesystemStore(baseDir string, maxObjectSize int64) (*FilesystemStore, error) {
	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("blob directory %s is not a directory", baseDir)
	}
	if maxObjectSize <= 0 {
		maxObjectSize = 50 << 20
	}

	return &FilesystemStore{
		baseDir:       filepath.Clean(baseDir),
		maxObjectSize: maxObjectSize,
	}, nil
}

func (s *FilesystemStore) resolve(key string) (string, error) {
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))

	// Security: prevent directory traversal
	if !strings.HasPrefix(path, s.baseDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid key %q: path traversal detected", key)
	}
	return path, nil
}

func (s *FilesystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, errors.NewNotFoundError(key, err)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError(key, err)
		}
		return nil, errors.NewStorageUnavailableError("get", key, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxObjectSize+1))
	if err != nil {
		return nil, errors.NewStorageUnavailableError("read", key, err)
	}
	if int64(len(data)) > s.maxObjectSize {
		return nil, errors.NewObjectTooLargeError(key, s.maxObjectSize)
	}
	return data, nil
}

func (s *FilesystemStore) List(ctx context.Context) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.NewStorageUnavailableError("list", "", err)
	}

	sort.Strings(keys)
	return keys, nil
}
