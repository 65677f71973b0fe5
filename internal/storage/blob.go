// Package storage is the opaque blob store for submission file uploads.
// The rest of the system only stores and forwards the returned references;
// file bytes are never interpreted.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// BlobStore saves uploads and returns opaque references retrievable later.
type BlobStore interface {
	Save(ctx context.Context, originalName string, r io.Reader) (ref string, err error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// FileStore keeps blobs on an afero filesystem under a single directory.
// References are generated filenames, never caller-controlled paths.
type FileStore struct {
	fs  afero.Fs
	dir string
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(fs afero.Fs, dir string) (*FileStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileStore{fs: fs, dir: dir}, nil
}

var _ BlobStore = (*FileStore)(nil)

func (s *FileStore) Save(ctx context.Context, originalName string, r io.Reader) (string, error) {
	ref := uuid.NewString() + filepath.Ext(filepath.Base(originalName))
	f, err := s.fs.Create(filepath.Join(s.dir, ref))
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = s.fs.Remove(filepath.Join(s.dir, ref))
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *FileStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	// Reject refs that escape the blob dir.
	if filepath.Base(ref) != ref {
		return nil, fmt.Errorf("invalid blob reference %q", ref)
	}
	return s.fs.Open(filepath.Join(s.dir, ref))
}
