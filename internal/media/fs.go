// Package media stores uploaded images and their renditions where both the
// web process and workers can reach them.
package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

var (
	ErrNotFound    = errors.New("media not found")
	ErrInvalidName = errors.New("invalid media name")
)

// Store is the media storage interface used by the job service and workers.
// Names are slash-separated paths relative to the store root.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Exists(ctx context.Context, name string) (bool, error)
	URL(name string) string
}

// UploadName is the content-addressed name for an original upload.
func UploadName(fingerprint, ext string) string {
	return path.Join("uploads", fingerprint+ext)
}

// DisplayName is the name of the 640x480 JPEG rendition.
func DisplayName(fingerprint string) string {
	return path.Join("uploads", fingerprint+"_display.jpg")
}

// FSStore keeps media on a local or shared filesystem.
type FSStore struct {
	root    string
	baseURL string
}

// NewFSStore creates root if needed. baseURL prefixes names in URL.
func NewFSStore(root, baseURL string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &FSStore{root: root, baseURL: baseURL}, nil
}

// Root returns the directory backing the store, for static file serving.
func (s *FSStore) Root() string { return s.root }

// Put writes data atomically: readers see either nothing or the whole file.
// Names are content addressed, so rewriting an existing one is harmless.
func (s *FSStore) Put(_ context.Context, name string, data []byte) error {
	full, err := s.resolve(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write media: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close media: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod media: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("rename media: %w", err)
	}
	return nil
}

func (s *FSStore) Get(_ context.Context, name string) ([]byte, error) {
	full, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	return data, nil
}

func (s *FSStore) Exists(_ context.Context, name string) (bool, error) {
	full, err := s.resolve(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat media: %w", err)
	}
	return true, nil
}

func (s *FSStore) URL(name string) string {
	if name == "" {
		return ""
	}
	return s.baseURL + name
}

func (s *FSStore) resolve(name string) (string, error) {
	if name == "" || !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.root, filepath.FromSlash(name)), nil
}

var _ Store = (*FSStore)(nil)
