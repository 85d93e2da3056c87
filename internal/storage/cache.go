package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ScratchCache keeps a local copy of each fetched object. A copy left over
// from an earlier run is removed before the new bytes are written.
type ScratchCache struct {
	dir string
}

// NewScratchCache creates dir if needed
func NewScratchCache(dir string) (*ScratchCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &ScratchCache{dir: filepath.Clean(dir)}, nil
}

// Path returns where key is cached
func (c *ScratchCache) Path(key string) (string, error) {
	path := filepath.Join(c.dir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, c.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid key %q: path traversal detected", key)
	}
	return path, nil
}

// Evict removes the cached copy of key. A missing copy is not an error.
func (c *ScratchCache) Evict(key string) error {
	path, err := c.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to evict %s: %w", path, err)
	}
	return nil
}

// Store evicts any stale copy of key and writes data in its place
func (c *ScratchCache) Store(key string, data []byte) (string, error) {
	if err := c.Evict(key); err != nil {
		return "", err
	}

	path, err := c.Path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
