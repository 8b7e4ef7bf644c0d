package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"stemsplitter/internal/models"
)

var (
	// ErrNotFound is returned when no job exists for an id.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when an update tries to move a job
	// against the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Registry is the concurrency-safe store of all known jobs. It is the
// single source of truth for status and download endpoints; all mutations
// go through Update so readers only ever see fully-applied snapshots.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{jobs: make(map[string]*models.Job)}
}

// Create inserts a fresh pending job and returns a copy of it.
func (r *Registry) Create(sourceType models.SourceType, sourceRef string) *models.Job {
	now := time.Now()
	job := &models.Job{
		ID:           uuid.NewString(),
		SourceType:   sourceType,
		SourceRef:    sourceRef,
		Status:       models.StatusPending,
		Progress:     0,
		CurrentStage: models.StageLabel(models.StatusPending),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	clone := *job
	return &clone
}

// Get returns a copy of the job, or ErrNotFound.
func (r *Registry) Get(id string) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *job
	return &clone, nil
}

// Update applies fn to the job under the write lock, so concurrent readers
// see either the pre- or post-update snapshot, never a partial one. Status
// changes outside the transition table are rejected and the job is left
// untouched; progress never moves backwards. Returns the updated copy.
func (r *Registry) Update(id string, fn func(*models.Job)) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	staged := *job
	fn(&staged)

	if !models.CanTransition(job.Status, staged.Status) {
		return nil, ErrInvalidTransition
	}
	if staged.Progress < job.Progress {
		staged.Progress = job.Progress
	}
	if staged.Status != job.Status {
		staged.CurrentStage = models.StageLabel(staged.Status)
	}
	staged.UpdatedAt = time.Now()

	*job = staged
	clone := staged
	return &clone, nil
}

// Delete removes the job entry. Storage cleanup for the same id must
// happen before this call; after it the id is gone for good.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// Recent returns copies of up to limit jobs, most recently updated first.
func (r *Registry) Recent(limit int) []models.Job {
	r.mu.RLock()
	jobs := make([]models.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, *j)
	}
	r.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
