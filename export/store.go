package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Filesystem Store
// -----------------------------------------------------------------------------

type fsStore struct {
	root string
}

// NewFS returns a Store rooted at dir, creating it if missing.
func NewFS(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: dir, Err: fs.ErrInvalid}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &fsStore{root: abs}, nil
}

func (f *fsStore) Put(_ context.Context, p string, r io.Reader) error {
	full, err := f.file(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	// O_EXCL makes the no-overwrite check atomic.
	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrPathExists
		}
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		_ = os.Remove(full)
		return err
	}
	return file.Close()
}

func (f *fsStore) Get(_ context.Context, p string) (io.ReadCloser, error) {
	full, err := f.file(p)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return file, err
}

func (f *fsStore) Exists(_ context.Context, p string) (bool, error) {
	full, err := f.file(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (f *fsStore) List(_ context.Context, prefix string) ([]string, error) {
	rel, ok := cleanPrefix(prefix)
	if !ok {
		return nil, ErrInvalidPath
	}
	var paths []string
	err := filepath.WalkDir(filepath.Join(f.root, filepath.FromSlash(rel)), func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		r, err := filepath.Rel(f.root, full)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(r))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	return paths, nil
}

func (f *fsStore) Delete(_ context.Context, p string) error {
	full, err := f.file(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (f *fsStore) file(p string) (string, error) {
	rel, ok := cleanPath(p)
	if !ok {
		return "", ErrInvalidPath
	}
	return filepath.Join(f.root, filepath.FromSlash(rel)), nil
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an in-memory Store, safe for concurrent use.
func NewMemory() Store {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Put(_ context.Context, p string, r io.Reader) error {
	key, ok := cleanPath(p)
	if !ok {
		return ErrInvalidPath
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists {
		return ErrPathExists
	}
	m.data[key] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, p string) (io.ReadCloser, error) {
	key, ok := cleanPath(p)
	if !ok {
		return nil, ErrInvalidPath
	}
	m.mu.RLock()
	data, exists := m.data[key]
	m.mu.RUnlock()
	if !exists {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

func (m *memoryStore) Exists(_ context.Context, p string) (bool, error) {
	key, ok := cleanPath(p)
	if !ok {
		return false, ErrInvalidPath
	}
	m.mu.RLock()
	_, exists := m.data[key]
	m.mu.RUnlock()
	return exists, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	norm, ok := cleanPrefix(prefix)
	if !ok {
		return nil, ErrInvalidPath
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var paths []string
	for key := range m.data {
		if strings.HasPrefix(key, norm) {
			paths = append(paths, key)
		}
	}
	slices.Sort(paths)
	return paths, nil
}

func (m *memoryStore) Delete(_ context.Context, p string) error {
	key, ok := cleanPath(p)
	if !ok {
		return ErrInvalidPath
	}
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------
// Paths
// -----------------------------------------------------------------------------

// cleanPath normalizes a slash-separated object path. It rejects empty paths
// and paths that resolve outside the root.
func cleanPath(p string) (string, bool) {
	if p == "" {
		return "", false
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
	if cleaned == "" || escapes(p) {
		return "", false
	}
	return cleaned, true
}

func cleanPrefix(p string) (string, bool) {
	if p == "" {
		return "", true
	}
	if escapes(p) {
		return "", false
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
	return cleaned, true
}

func escapes(p string) bool {
	c := path.Clean(strings.TrimPrefix(filepath.ToSlash(p), "/"))
	return c == ".." || strings.HasPrefix(c, "../")
}
