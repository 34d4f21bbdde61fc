package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrConcurrentCommit is returned when a commit loses a race against another
// writer publishing the same generation.
var ErrConcurrentCommit = errors.New("blobstore: concurrent commit")

// CommitStore publishes which manifest is current. Blob writes are only
// half of a snapshot save: readers must not observe a manifest until every
// blob it references is durable, so the manifest name is flipped through a
// CommitStore as the last step.
type CommitStore interface {
	// Current returns the manifest name of the latest commit, or
	// ErrNotFound when nothing has been committed yet.
	Current(ctx context.Context) (string, error)

	// Commit publishes name as the latest manifest.
	Commit(ctx context.Context, name string) error
}

// currentFile holds the committed manifest name inside a snapshot directory.
const currentFile = "CURRENT"

// FileCommitStore is a CommitStore backed by a single file that is replaced
// atomically via rename. It is suitable for one writer per directory;
// cross-host coordination needs a remote CommitStore.
type FileCommitStore struct {
	dir string
}

var _ CommitStore = (*FileCommitStore)(nil)

// NewFileCommitStore returns a CommitStore rooted at dir.
func NewFileCommitStore(dir string) *FileCommitStore {
	return &FileCommitStore{dir: dir}
}

// Current implements CommitStore.
func (s *FileCommitStore) Current(_ context.Context) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}

		return "", fmt.Errorf("read %s: %w", currentFile, err)
	}

	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", ErrNotFound
	}

	return name, nil
}

// Commit implements CommitStore.
func (s *FileCommitStore) Commit(_ context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("commit: empty manifest name")
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create commit dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, currentFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp commit file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.WriteString(name + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("write commit file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("sync commit file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("close commit file: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, currentFile)); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("publish commit file: %w", err)
	}

	return nil
}
