// Package storage holds per-user reference blobs on the local filesystem.
// Face enrollment keeps one or more reference images under a folder per
// user; factor rows store the returned path.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FaceImageStore stores face reference images under root/<user_id>/.
type FaceImageStore struct {
	root string
}

// NewFaceImageStore creates the store, creating root if needed.
func NewFaceImageStore(root string) (*FaceImageStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FaceImageStore{root: root}, nil
}

// Save writes a blob into the user's folder and returns its path relative
// to the store root.
func (s *FaceImageStore) Save(ctx context.Context, userID uuid.UUID, name string, data []byte) (string, error) {
	dir := filepath.Join(s.root, userID.String())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create user folder: %w", err)
	}

	name = filepath.Base(name) // no path traversal via name
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return filepath.Join(userID.String(), name), nil
}

// List returns the relative paths of the user's blobs. An absent folder is
// an empty list, not an error.
func (s *FaceImageStore) List(ctx context.Context, userID uuid.UUID) ([]string, error) {
	dir := filepath.Join(s.root, userID.String())
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list user folder: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(userID.String(), entry.Name()))
	}
	return paths, nil
}

// RemoveAll deletes the user's folder and everything in it. Removing an
// absent folder is a no-op.
func (s *FaceImageStore) RemoveAll(ctx context.Context, userID uuid.UUID) error {
	if err := os.RemoveAll(filepath.Join(s.root, userID.String())); err != nil {
		return fmt.Errorf("failed to remove user folder: %w", err)
	}
	return nil
}
