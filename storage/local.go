package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps artifacts on the local filesystem. Used by local
// deployments and tests; production uses the S3 store.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates a store rooted at dir. baseURL is prepended
// to keys by URL; it may be empty for purely local use.
func NewLocalStore(dir, baseURL string) *LocalStore {
	return &LocalStore{root: dir, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Put writes data under key, creating parent directories as needed.
func (s *LocalStore) Put(_ context.Context, key string, _ string, data []byte) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Get reads the artifact at key.
func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

// List returns all keys under prefix.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	root := filepath.Join(s.root, filepath.FromSlash(prefix))
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return keys, err
}

// URL returns the public URL for key.
func (s *LocalStore) URL(key string) string {
	if s.baseURL == "" {
		return "file://" + filepath.Join(s.root, filepath.FromSlash(key))
	}
	return s.baseURL + "/" + key
}
