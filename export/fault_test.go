package export

import (
	"context"
	"io"
	"strings"
	"sync"
)

// faultStore wraps a Store and injects errors on paths containing a
// substring. It records every Put and Delete path.
type faultStore struct {
	inner Store

	mu          sync.Mutex
	putErr      error
	putErrMatch string
	existsErr   error
	puts        []string
	deletes     []string
}

func newFaultStore(inner Store) *faultStore {
	return &faultStore{inner: inner}
}

func (f *faultStore) failPut(err error, match string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr, f.putErrMatch = err, match
}

func (f *faultStore) putPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.puts...)
}

func (f *faultStore) Put(ctx context.Context, p string, r io.Reader) error {
	f.mu.Lock()
	f.puts = append(f.puts, p)
	err, match := f.putErr, f.putErrMatch
	f.mu.Unlock()

	if err != nil && strings.Contains(p, match) {
		return err
	}
	return f.inner.Put(ctx, p, r)
}

func (f *faultStore) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	return f.inner.Get(ctx, p)
}

func (f *faultStore) Exists(ctx context.Context, p string) (bool, error) {
	f.mu.Lock()
	err := f.existsErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.inner.Exists(ctx, p)
}

func (f *faultStore) List(ctx context.Context, prefix string) ([]string, error) {
	return f.inner.List(ctx, prefix)
}

func (f *faultStore) Delete(ctx context.Context, p string) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, p)
	f.mu.Unlock()
	return f.inner.Delete(ctx, p)
}
