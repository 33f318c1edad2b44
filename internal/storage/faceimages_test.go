package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestFaceImageStore_SaveListRemove(t *testing.T) {
	store, err := NewFaceImageStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFaceImageStore failed: %v", err)
	}
	userID := uuid.New()
	ctx := context.Background()

	path, err := store.Save(ctx, userID, "face-ref.jpg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if path != filepath.Join(userID.String(), "face-ref.jpg") {
		t.Errorf("path = %q, want user-relative path", path)
	}

	paths, err := store.List(ctx, userID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paths) != 1 || paths[0] != path {
		t.Errorf("List = %v, want [%s]", paths, path)
	}

	if err := store.RemoveAll(ctx, userID); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	paths, err = store.List(ctx, userID)
	if err != nil {
		t.Fatalf("List after remove failed: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("List after remove = %v, want empty", paths)
	}

	// Removing again is a no-op
	if err := store.RemoveAll(ctx, userID); err != nil {
		t.Errorf("RemoveAll of absent folder: %v", err)
	}
}

func TestFaceImageStore_NameTraversal(t *testing.T) {
	root := t.TempDir()
	store, err := NewFaceImageStore(root)
	if err != nil {
		t.Fatalf("NewFaceImageStore failed: %v", err)
	}
	userID := uuid.New()

	path, err := store.Save(context.Background(), userID, "../../escape.jpg", []byte("data"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if path != filepath.Join(userID.String(), "escape.jpg") {
		t.Errorf("path = %q, traversal components not stripped", path)
	}
	if _, err := os.Stat(filepath.Join(root, "..", "escape.jpg")); !os.IsNotExist(err) {
		t.Error("blob written outside the store root")
	}
}

func TestFaceImageStore_ListAbsentUser(t *testing.T) {
	store, err := NewFaceImageStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFaceImageStore failed: %v", err)
	}

	paths, err := store.List(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if paths != nil {
		t.Errorf("List = %v, want nil", paths)
	}
}
