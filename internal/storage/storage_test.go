package storage

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "jobs"), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestAllocateCreatesDirectories(t *testing.T) {
	m := newTestManager(t)
	id := uuid.NewString()

	paths, err := m.Allocate(id)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	for _, dir := range []string{paths.InputDir, paths.OutputDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestAllocateDuplicateFails(t *testing.T) {
	m := newTestManager(t)
	id := uuid.NewString()

	if _, err := m.Allocate(id); err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	if _, err := m.Allocate(id); !errors.Is(err, ErrAlreadyAllocated) {
		t.Errorf("second allocate err = %v, want ErrAlreadyAllocated", err)
	}
}

func TestAllocateRejectsUnsafeIDs(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"", "abc", "../../etc", "a/b", ".."} {
		if _, err := m.Allocate(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Allocate(%q) err = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestPathsForUnallocated(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.PathsFor("abc"); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("err = %v, want ErrNotAllocated", err)
	}
}

func TestPathsForIsPureLookup(t *testing.T) {
	m := newTestManager(t)
	id := uuid.NewString()

	allocated, err := m.Allocate(id)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	got, err := m.PathsFor(id)
	if err != nil {
		t.Fatalf("paths for: %v", err)
	}
	if got != allocated {
		t.Errorf("paths = %+v, want %+v", got, allocated)
	}
}

func TestReleaseRemovesDirectoriesAndIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	id := uuid.NewString()

	paths, err := m.Allocate(id)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	m.Release(id)
	for _, dir := range []string{paths.InputDir, paths.OutputDir} {
		if _, err := os.Stat(dir); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("%s still exists after release", dir)
		}
	}
	if _, err := m.PathsFor(id); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("paths after release err = %v, want ErrNotAllocated", err)
	}

	// Second release is a no-op, not an error source.
	m.Release(id)

	// Released ids can be allocated again.
	if _, err := m.Allocate(id); err != nil {
		t.Errorf("re-allocate after release: %v", err)
	}
}
