package export

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFS(filepath.Join(t.TempDir(), "root"))
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Store{"fs": fsStore, "memory": NewMemory()}
}

func readString(t *testing.T, s Store, p string) string {
	t.Helper()
	rc, err := s.Get(t.Context(), p)
	if err != nil {
		t.Fatalf("Get(%s): %v", p, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestStore_PutGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			if err := s.Put(ctx, "run/part-00000.jsonl", strings.NewReader("hello")); err != nil {
				t.Fatal(err)
			}
			if got := readString(t, s, "run/part-00000.jsonl"); got != "hello" {
				t.Errorf("Get() = %q", got)
			}
			if got := readString(t, s, "/run/./part-00000.jsonl"); got != "hello" {
				t.Errorf("normalized Get() = %q", got)
			}
		})
	}
}

func TestStore_Immutable(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			if err := s.Put(ctx, "a/b", strings.NewReader("one")); err != nil {
				t.Fatal(err)
			}
			if err := s.Put(ctx, "a/b", strings.NewReader("two")); !errors.Is(err, ErrPathExists) {
				t.Fatalf("second Put error = %v, want ErrPathExists", err)
			}
			if got := readString(t, s, "a/b"); got != "one" {
				t.Errorf("content overwritten: %q", got)
			}
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get error = %v, want ErrNotFound", err)
			}
			ok, err := s.Exists(ctx, "missing")
			if err != nil || ok {
				t.Errorf("Exists = %v, %v", ok, err)
			}
			if err := s.Delete(ctx, "missing"); err != nil {
				t.Errorf("Delete of missing path = %v", err)
			}
		})
	}
}

func TestStore_InvalidPath(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			for _, p := range []string{"", ".", "..", "../x", "a/../../x", "/"} {
				if err := s.Put(ctx, p, strings.NewReader("x")); !errors.Is(err, ErrInvalidPath) {
					t.Errorf("Put(%q) error = %v, want ErrInvalidPath", p, err)
				}
				if _, err := s.Get(ctx, p); !errors.Is(err, ErrInvalidPath) {
					t.Errorf("Get(%q) error = %v, want ErrInvalidPath", p, err)
				}
			}
			if _, err := s.List(ctx, "../up"); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("List(../up) error = %v", err)
			}
		})
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			for _, p := range []string{"x/2", "x/1", "y/1"} {
				if err := s.Put(ctx, p, strings.NewReader(p)); err != nil {
					t.Fatal(err)
				}
			}
			got, err := s.List(ctx, "x")
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(got, []string{"x/1", "x/2"}) {
				t.Errorf("List(x) = %v", got)
			}
			all, _ := s.List(ctx, "")
			if len(all) != 3 {
				t.Errorf("List() = %v", all)
			}
			none, err := s.List(ctx, "z")
			if err != nil || len(none) != 0 {
				t.Errorf("List(z) = %v, %v", none, err)
			}

			if err := s.Delete(ctx, "x/1"); err != nil {
				t.Fatal(err)
			}
			if ok, _ := s.Exists(ctx, "x/1"); ok {
				t.Error("x/1 still exists after Delete")
			}
		})
	}
}

func TestNewFS_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFS(file); err == nil {
		t.Error("expected error for a regular file root")
	}
}
