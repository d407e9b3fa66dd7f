package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryFileSystemRoundTrip(t *testing.T) {
	m := NewMemoryFileSystem()

	if m.Exists("a.json") {
		t.Fatal("empty filesystem reports file present")
	}
	if _, err := m.ReadFile("a.json"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadFile missing = %v, want ErrNotExist", err)
	}

	if err := m.WriteFile("a.json", []byte(`{"x":1}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := m.ReadFile("a.json")
	if err != nil || string(data) != `{"x":1}` {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}

	// Open sees the same contents.
	f, err := m.Open("a.json")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(f)
	f.Close()
	if string(got) != `{"x":1}` {
		t.Errorf("Open contents = %q", got)
	}

	if err := m.Remove("a.json"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if m.Exists("a.json") {
		t.Error("file present after Remove")
	}
	if err := m.Remove("a.json"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("double Remove = %v, want ErrNotExist", err)
	}
}

func TestMemoryFileSystemCleansPaths(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.WriteFile("dir//a.json", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !m.Exists("dir/a.json") {
		t.Error("cleaned path not equivalent to written path")
	}
}

func TestMemoryFileSystemCopiesData(t *testing.T) {
	m := NewMemoryFileSystem()
	src := []byte("original")
	m.WriteFile("f", src, 0o644)
	src[0] = 'X'

	data, _ := m.ReadFile("f")
	if string(data) != "original" {
		t.Errorf("stored data aliases caller slice: %q", data)
	}
}

func TestOSFileSystem(t *testing.T) {
	fs := OS{}
	path := filepath.Join(t.TempDir(), "probe.txt")

	if fs.Exists(path) {
		t.Fatal("Exists before write")
	}
	if err := fs.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := fs.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
	if err := fs.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if fs.Exists(path) {
		t.Error("Exists after Remove")
	}
}
