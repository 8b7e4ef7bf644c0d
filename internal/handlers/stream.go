package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

type rangeKind int

const (
	rangeFull rangeKind = iota
	rangePartial
	rangeMalformed
)

// rangeSpec is the typed result of parsing a Range header. start and end
// are inclusive byte offsets, only meaningful for rangePartial.
type rangeSpec struct {
	kind  rangeKind
	start int64
	end   int64
}

// parseRange handles single byte ranges: "bytes=a-b", "bytes=a-" and the
// suffix form "bytes=-n". Malformed syntax, multi-range requests and
// unsatisfiable spans all degrade to the full response; a bad header must
// never fail the request.
func parseRange(header string, size int64) rangeSpec {
	if header == "" {
		return rangeSpec{kind: rangeFull}
	}
	if !strings.HasPrefix(header, "bytes=") {
		return rangeSpec{kind: rangeMalformed}
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(spec, ",") {
		return rangeSpec{kind: rangeMalformed}
	}
	dash := strings.Index(spec, "-")
	if dash < 0 {
		return rangeSpec{kind: rangeMalformed}
	}

	startStr, endStr := strings.TrimSpace(spec[:dash]), strings.TrimSpace(spec[dash+1:])
	if size <= 0 {
		return rangeSpec{kind: rangeFull}
	}

	// Suffix form: last n bytes.
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return rangeSpec{kind: rangeMalformed}
		}
		if n > size {
			n = size
		}
		return rangeSpec{kind: rangePartial, start: size - n, end: size - 1}
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return rangeSpec{kind: rangeMalformed}
	}
	if start >= size {
		// Syntactically fine but unsatisfiable; serve the whole file.
		return rangeSpec{kind: rangeFull}
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return rangeSpec{kind: rangeMalformed}
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return rangeSpec{kind: rangePartial, start: start, end: end}
}

// stream serves the artifact with byte-range support so clients can seek
// while playing.
func (a *App) stream(w http.ResponseWriter, r *http.Request) {
	job, ok := a.completedJob(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	f, err := os.Open(job.OutputPath)
	if err != nil {
		a.logger.Error("failed to open artifact", "job_id", job.ID, "error", err)
		a.respondError(w, http.StatusNotFound, "job output not available")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		a.logger.Error("failed to stat artifact", "job_id", job.ID, "error", err)
		a.respondError(w, http.StatusNotFound, "job output not available")
		return
	}
	size := info.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "application/zip")

	spec := parseRange(r.Header.Get("Range"), size)
	if spec.kind != rangePartial {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, f); err != nil {
			a.logger.Warn("stream interrupted", "job_id", job.ID, "error", err)
		}
		return
	}

	if _, err := f.Seek(spec.start, io.SeekStart); err != nil {
		a.logger.Error("failed to seek artifact", "job_id", job.ID, "error", err)
		a.respondError(w, http.StatusInternalServerError, "failed to read output")
		return
	}

	length := spec.end - spec.start + 1
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", spec.start, spec.end, size))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.CopyN(w, f, length); err != nil {
		a.logger.Warn("stream interrupted", "job_id", job.ID, "error", err)
	}
}
