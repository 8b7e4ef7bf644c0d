package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"stemsplitter/internal/limiter"
	"stemsplitter/internal/media"
	"stemsplitter/internal/models"
	"stemsplitter/internal/pipeline"
	"stemsplitter/internal/registry"
	"stemsplitter/internal/storage"
)

const serviceName = "stemsplitter"

// allowed upload extensions: plain audio plus the video containers ffmpeg
// can pull an audio track out of.
var allowedExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".ogg": true,
	".aac": true, ".m4a": true,
	".mp4": true, ".mkv": true, ".webm": true, ".mov": true, ".avi": true,
}

// App wires the HTTP surface to the job core.
type App struct {
	logger *slog.Logger

	router   *chi.Mux
	registry *registry.Registry
	limiter  *limiter.Limiter
	store    *storage.Manager
	executor *pipeline.Executor

	spoolDir       string
	maxUploadBytes int64

	mu   sync.RWMutex
	subs map[string]map[*wsClient]struct{}

	upgrader websocket.Upgrader
}

// NewApp builds the application around the given collaborators.
func NewApp(logger *slog.Logger, reg *registry.Registry, lim *limiter.Limiter, store *storage.Manager,
	downloader media.Downloader, extractor media.Extractor, separator media.Separator,
	spoolDir string, maxUploadBytes int64, jobTimeout time.Duration) *App {
	app := &App{
		logger:         logger,
		router:         chi.NewRouter(),
		registry:       reg,
		limiter:        lim,
		store:          store,
		spoolDir:       spoolDir,
		maxUploadBytes: maxUploadBytes,
		subs:           make(map[string]map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	app.executor = pipeline.New(reg, store, lim, downloader, extractor, separator,
		jobTimeout, logger, app.broadcastJob)

	app.registerRoutes()
	return app
}

// Router returns the HTTP handler.
func (a *App) Router() http.Handler {
	return a.router
}

func (a *App) registerRoutes() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.RealIP)
	a.router.Use(middleware.Recoverer)
	a.router.Use(a.corsMiddleware)

	a.router.Get("/health", a.health)
	a.router.Get("/jobs", a.listJobs)
	a.router.Post("/jobs/youtube", a.submitYouTube)
	a.router.Post("/jobs/upload", a.submitUpload)
	a.router.Get("/jobs/{id}", a.getJob)
	a.router.Get("/jobs/{id}/download", a.download)
	a.router.Get("/jobs/{id}/stream", a.stream)
	a.router.Get("/ws/{id}", a.jobWS)
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
}

func (a *App) listJobs(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, a.registry.Recent(20))
}

type youtubeRequest struct {
	URL string `json:"url"`
}

func (a *App) submitYouTube(w http.ResponseWriter, r *http.Request) {
	var req youtubeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := url.ParseRequestURI(req.URL); err != nil || !media.MatchURL(req.URL) {
		a.respondError(w, http.StatusBadRequest, "a valid YouTube URL is required")
		return
	}

	if !a.limiter.TryAcquire() {
		a.respondError(w, http.StatusServiceUnavailable, "server is at capacity, try again later")
		return
	}

	job := a.registry.Create(models.SourceURL, req.URL)
	a.logger.Info("job accepted", "job_id", job.ID, "source", "url")
	go a.executor.Run(context.Background(), job.ID, "")

	a.respondJSON(w, http.StatusCreated, job)
}

func (a *App) submitUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+1024)
	if err := r.ParseMultipartForm(a.maxUploadBytes); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid multipart upload or file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "an audio or video file is required")
		return
	}
	defer file.Close()

	safeName := sanitizeFileName(header.Filename)
	ext := strings.ToLower(filepath.Ext(safeName))
	if !allowedExtensions[ext] {
		a.respondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file format %q", ext))
		return
	}

	if !a.limiter.TryAcquire() {
		a.respondError(w, http.StatusServiceUnavailable, "server is at capacity, try again later")
		return
	}

	spoolPath, err := a.spoolUpload(file, ext)
	if err != nil {
		a.limiter.Release()
		a.logger.Error("failed to store upload", "error", err)
		a.respondError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	job := a.registry.Create(models.SourceUpload, safeName)
	a.logger.Info("job accepted", "job_id", job.ID, "source", "upload", "file", safeName)
	go a.executor.Run(context.Background(), job.ID, spoolPath)

	a.respondJSON(w, http.StatusCreated, job)
}

// spoolUpload stages the uploaded file outside any job directory; the
// executor moves it into the job's input dir once storage is allocated.
func (a *App) spoolUpload(file io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(a.spoolDir, 0o755); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}
	spoolPath := filepath.Join(a.spoolDir, uuid.NewString()+ext)
	out, err := os.Create(spoolPath)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		os.Remove(spoolPath)
		return "", fmt.Errorf("write spool file: %w", err)
	}
	return spoolPath, nil
}

func (a *App) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	a.respondJSON(w, http.StatusOK, job)
}

// completedJob returns the job only if its artifact is servable.
func (a *App) completedJob(w http.ResponseWriter, id string) (*models.Job, bool) {
	job, err := a.registry.Get(id)
	if err != nil {
		a.respondError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if job.Status != models.StatusCompleted || job.OutputPath == "" {
		a.respondError(w, http.StatusNotFound, "job output not available")
		return nil, false
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		a.respondError(w, http.StatusNotFound, "job output not available")
		return nil, false
	}
	return job, true
}

func (a *App) download(w http.ResponseWriter, r *http.Request) {
	job, ok := a.completedJob(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="stems.zip"`)
	http.ServeFile(w, r, job.OutputPath)
}

func (a *App) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("failed to encode json", "error", err)
	}
}

func (a *App) respondError(w http.ResponseWriter, code int, detail string) {
	a.respondJSON(w, code, map[string]string{"detail": detail})
}

func (a *App) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." {
		return "upload.bin"
	}
	return name
}

// StartCleanupLoop periodically drops finished jobs older than ttl,
// releasing their storage before removing the registry entry.
func (a *App) StartCleanupLoop(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.cleanup(ttl)
			}
		}
	}()
}

func (a *App) cleanup(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, job := range a.registry.Recent(0) {
		if !job.Status.Terminal() || job.UpdatedAt.After(cutoff) {
			continue
		}
		a.store.Release(job.ID)
		a.registry.Delete(job.ID)
		removed++
	}
	if removed > 0 {
		a.logger.Info("cleanup completed", "removed_jobs", removed)
	}
}
