package blobstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/rango/internal/mmap"
)

// LocalStore implements BlobStore on the local file system. Reads are
// memory-mapped; writes go through a temp file and become visible with a
// rename, so readers never see a partially written blob.
type LocalStore struct {
	root string
}

var _ BlobStore = (*LocalStore)(nil)

// NewLocalStore creates a LocalStore rooted at the given directory.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Open opens a blob for reading.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	m, err := mmap.Open(s.path(name))
	if err != nil {
		return nil, err
	}

	// Snapshot payloads are decoded front to back.
	_ = m.Advise(mmap.AccessSequential)

	return &localBlob{m: m}, nil
}

// Create creates a blob for streaming writes. The blob is staged in a temp
// file next to the target and renamed into place on Close.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	path := s.path(name)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}

	return &localWritableBlob{f: f, path: path}, nil
}

// Put writes a blob in one shot.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		w.Close()

		return err
	}

	return w.Close()
}

// Delete removes a blob. Missing blobs are ignored.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// List returns the blob names under prefix, sorted. A missing root yields an
// empty list.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)

	return names, nil
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

type localBlob struct {
	m *mmap.Mapping
}

var (
	_ Blob     = (*localBlob)(nil)
	_ Mappable = (*localBlob)(nil)
)

func (b *localBlob) ReadAt(p []byte, off int64) (int, error) {
	return b.m.ReadAt(p, off)
}

func (b *localBlob) Close() error {
	return b.m.Close()
}

func (b *localBlob) Size() int64 {
	return int64(b.m.Size())
}

// Bytes exposes the mapping without copying. The slice is valid until Close.
func (b *localBlob) Bytes() ([]byte, error) {
	return b.m.Bytes(), nil
}

type localWritableBlob struct {
	f    *os.File
	path string
	done bool
}

var _ WritableBlob = (*localWritableBlob)(nil)

func (b *localWritableBlob) Write(p []byte) (int, error) {
	return b.f.Write(p)
}

func (b *localWritableBlob) Sync() error {
	return b.f.Sync()
}

// Close makes the blob visible under its final name. Closing twice is safe;
// the second call is a no-op.
func (b *localWritableBlob) Close() error {
	if b.done {
		return nil
	}

	b.done = true

	tmp := b.f.Name()

	if err := b.f.Sync(); err != nil {
		b.f.Close()
		os.Remove(tmp)

		return fmt.Errorf("sync blob: %w", err)
	}

	if err := b.f.Close(); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("close blob: %w", err)
	}

	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("publish blob: %w", err)
	}

	return nil
}
