package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrInvalidID is returned when an id is not a UUID and therefore
	// unsafe to use as a path segment.
	ErrInvalidID = errors.New("invalid job id")
	// ErrAlreadyAllocated is returned when Allocate sees a duplicate id.
	ErrAlreadyAllocated = errors.New("directories already allocated")
	// ErrNotAllocated is returned by PathsFor for an unknown id.
	ErrNotAllocated = errors.New("no directories allocated")
)

// Paths locates a job's on-disk workspace.
type Paths struct {
	InputDir  string
	OutputDir string
}

// Manager owns the per-job directory layout under a single root:
// <root>/<id>/input and <root>/<id>/output. Jobs never share a path, so
// concurrent pipelines do not contend on the filesystem.
type Manager struct {
	root   string
	logger *slog.Logger

	mu        sync.Mutex
	allocated map[string]Paths
}

// NewManager creates a manager rooted at root, creating it if needed.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Manager{
		root:      root,
		logger:    logger,
		allocated: make(map[string]Paths),
	}, nil
}

// Allocate creates fresh input and output directories for the id. The id
// must parse as a UUID before it becomes a path segment.
func (m *Manager) Allocate(id string) (Paths, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Paths{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.allocated[id]; ok {
		return Paths{}, fmt.Errorf("%w: %s", ErrAlreadyAllocated, id)
	}

	paths := Paths{
		InputDir:  filepath.Join(m.root, id, "input"),
		OutputDir: filepath.Join(m.root, id, "output"),
	}
	for _, dir := range []string{paths.InputDir, paths.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = os.RemoveAll(filepath.Join(m.root, id))
			return Paths{}, fmt.Errorf("create job dir: %w", err)
		}
	}

	m.allocated[id] = paths
	return paths, nil
}

// PathsFor looks up previously allocated directories without touching disk.
func (m *Manager) PathsFor(id string) (Paths, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths, ok := m.allocated[id]
	if !ok {
		return Paths{}, fmt.Errorf("%w: %s", ErrNotAllocated, id)
	}
	return paths, nil
}

// Release removes the job's directories. It is idempotent and best-effort:
// a failed removal is logged and the caller proceeds, because cleanup must
// never block a job's success path.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	_, ok := m.allocated[id]
	delete(m.allocated, id)
	m.mu.Unlock()

	if _, err := uuid.Parse(id); err != nil {
		return
	}
	if err := os.RemoveAll(filepath.Join(m.root, id)); err != nil && ok {
		m.logger.Warn("failed to remove job directories", "job_id", id, "error", err)
	}
}
