// Package pipeline drives one job through download/extract, separate and
// package, reporting progress through the registry as it goes.
package pipeline

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stemsplitter/internal/limiter"
	"stemsplitter/internal/media"
	"stemsplitter/internal/models"
	"stemsplitter/internal/registry"
	"stemsplitter/internal/storage"
)

// Stage progress sub-ranges. Each stage owns a disjoint slice of the 0-100
// scale so the job-level progress is monotonic across the whole pipeline.
const (
	acquireEnd  = 20  // download/extract: 0-20
	separateEnd = 90  // separation: 20-90
	packageEnd  = 100 // packaging: 90-100
)

// NotifyFunc receives the post-update snapshot after every registry write.
type NotifyFunc func(job *models.Job, message string)

// Executor runs accepted jobs, one goroutine per job.
type Executor struct {
	registry   *registry.Registry
	store      *storage.Manager
	limiter    *limiter.Limiter
	downloader media.Downloader
	extractor  media.Extractor
	separator  media.Separator
	logger     *slog.Logger
	timeout    time.Duration
	notify     NotifyFunc
}

// New creates an executor. notify may be nil.
func New(reg *registry.Registry, store *storage.Manager, lim *limiter.Limiter,
	downloader media.Downloader, extractor media.Extractor, separator media.Separator,
	timeout time.Duration, logger *slog.Logger, notify NotifyFunc) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Executor{
		registry:   reg,
		store:      store,
		limiter:    lim,
		downloader: downloader,
		extractor:  extractor,
		separator:  separator,
		logger:     logger,
		timeout:    timeout,
		notify:     notify,
	}
}

// Run executes the pipeline for an already-admitted job. The admission
// slot is released on every exit path. spoolPath is the staged upload for
// upload jobs, empty for URL jobs.
func (e *Executor) Run(ctx context.Context, jobID, spoolPath string) {
	defer e.limiter.Release()
	if spoolPath != "" {
		// No-op once the upload has been moved into the job's input dir.
		defer os.Remove(spoolPath)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	job, err := e.registry.Get(jobID)
	if err != nil {
		e.logger.Error("executor started for unknown job", "job_id", jobID)
		return
	}

	paths, err := e.store.Allocate(jobID)
	if err != nil {
		e.fail(jobID, fmt.Errorf("storage allocation failed: %w", err))
		return
	}

	audioPath, err := e.acquireInput(ctx, job, paths, spoolPath)
	if err != nil {
		e.fail(jobID, err)
		return
	}

	e.setStatus(jobID, models.StatusSeparating, acquireEnd, "input ready")
	stems, err := e.separator.Separate(ctx, audioPath, paths.OutputDir, func(percent int, message string) {
		e.setProgress(jobID, mapProgress(percent, acquireEnd, separateEnd), message)
	})
	if err != nil {
		e.fail(jobID, err)
		return
	}

	e.setStatus(jobID, models.StatusPackaging, separateEnd, "packaging stems")
	artifact := filepath.Join(paths.OutputDir, "stems.zip")
	if err := packageStems(artifact, stems); err != nil {
		e.fail(jobID, err)
		return
	}

	updated, err := e.registry.Update(jobID, func(j *models.Job) {
		j.Status = models.StatusCompleted
		j.Progress = packageEnd
		j.OutputPath = artifact
	})
	if err != nil {
		e.logger.Error("failed to complete job", "job_id", jobID, "error", err)
		return
	}
	e.emit(updated, "separation complete")
	e.logger.Info("job completed", "job_id", jobID, "artifact", artifact)
}

// acquireInput runs the source-type dependent first stage and returns the
// audio file handed to the separator.
func (e *Executor) acquireInput(ctx context.Context, job *models.Job, paths storage.Paths, spoolPath string) (string, error) {
	if job.SourceType == models.SourceURL {
		e.setStatus(job.ID, models.StatusDownloading, 0, "downloading audio")
		return e.downloader.Fetch(ctx, job.SourceRef, paths.InputDir)
	}

	e.setStatus(job.ID, models.StatusExtracting, 0, "extracting audio track")
	inputPath := filepath.Join(paths.InputDir, filepath.Base(spoolPath))
	if err := moveFile(spoolPath, inputPath); err != nil {
		return "", fmt.Errorf("move upload: %w", err)
	}
	return e.extractor.Extract(ctx, inputPath, paths.InputDir, func(percent int, message string) {
		e.setProgress(job.ID, mapProgress(percent, 0, acquireEnd), message)
	})
}

func (e *Executor) setStatus(jobID string, status models.JobStatus, progress int, message string) {
	updated, err := e.registry.Update(jobID, func(j *models.Job) {
		j.Status = status
		j.Progress = progress
	})
	if err != nil {
		e.logger.Error("status update rejected", "job_id", jobID, "status", status, "error", err)
		return
	}
	e.emit(updated, message)
}

func (e *Executor) setProgress(jobID string, progress int, message string) {
	updated, err := e.registry.Update(jobID, func(j *models.Job) {
		j.Progress = progress
	})
	if err != nil {
		return
	}
	e.emit(updated, message)
}

// fail converts any pipeline error into the terminal failed state. The
// collaborator's message is stored verbatim for client visibility.
func (e *Executor) fail(jobID string, cause error) {
	e.logger.Error("job failed", "job_id", jobID, "error", cause)
	updated, err := e.registry.Update(jobID, func(j *models.Job) {
		j.Status = models.StatusFailed
		j.Error = cause.Error()
	})
	if err != nil {
		e.logger.Error("failed to record job failure", "job_id", jobID, "error", err)
		return
	}
	e.emit(updated, "job failed")
}

func (e *Executor) emit(job *models.Job, message string) {
	if e.notify != nil {
		e.notify(job, message)
	}
}

// mapProgress translates a collaborator's 0-100 stage progress into the
// stage's slice of the job-level scale.
func mapProgress(percent, lo, hi int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return lo + percent*(hi-lo)/100
}

// packageStems zips the four stem files into a single artifact.
func packageStems(artifact string, stems media.Stems) error {
	out, err := os.Create(artifact)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	entries := []struct {
		name string
		path string
	}{
		{"drums.wav", stems.Drums},
		{"bass.wav", stems.Bass},
		{"other.wav", stems.Other},
		{"vocals.wav", stems.Vocals},
	}
	for _, entry := range entries {
		src, err := os.Open(entry.path)
		if err != nil {
			zw.Close()
			return fmt.Errorf("open stem %s: %w", entry.name, err)
		}
		w, err := zw.Create(entry.name)
		if err != nil {
			src.Close()
			zw.Close()
			return fmt.Errorf("add stem %s: %w", entry.name, err)
		}
		if _, err := io.Copy(w, src); err != nil {
			src.Close()
			zw.Close()
			return fmt.Errorf("write stem %s: %w", entry.name, err)
		}
		src.Close()
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize artifact: %w", err)
	}
	return nil
}

// moveFile renames src to dst, falling back to a streaming copy+delete
// across devices. Uploads can be hundreds of megabytes, so the fallback
// must not buffer the file in memory.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
