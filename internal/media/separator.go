package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var demucsPercent = regexp.MustCompile(`(\d{1,3})%\|`)

// DemucsSeparator splits audio into stems using demucs.
type DemucsSeparator struct {
	model  string
	logger *slog.Logger
}

// NewDemucsSeparator creates a separator using the given demucs model.
func NewDemucsSeparator(model string, logger *slog.Logger) *DemucsSeparator {
	if model == "" {
		model = "htdemucs"
	}
	return &DemucsSeparator{model: model, logger: logger}
}

// Separate runs demucs on inputPath, writing under outDir. Demucs prints
// its progress bar to stderr; the percentages are forwarded through cb.
func (s *DemucsSeparator) Separate(ctx context.Context, inputPath, outDir string, cb ProgressFunc) (Stems, error) {
	s.logger.Info("running demucs", "model", s.model, "input", inputPath)
	cmd := exec.CommandContext(ctx, "demucs",
		"-n", s.model,
		"--out", outDir,
		inputPath,
	)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Stems{}, fmt.Errorf("failed to create demucs stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Stems{}, fmt.Errorf("failed to start demucs: %w", err)
	}

	var lastErrLine string
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanLinesAndCR)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m := demucsPercent.FindStringSubmatch(line); m != nil {
			if percent, convErr := strconv.Atoi(m[1]); convErr == nil && cb != nil {
				if percent > 100 {
					percent = 100
				}
				cb(percent, "separating stems")
			}
			continue
		}
		lastErrLine = line
	}
	if err := scanner.Err(); err != nil {
		return Stems{}, fmt.Errorf("failed while reading demucs output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return Stems{}, ctx.Err()
		}
		if lastErrLine != "" {
			return Stems{}, fmt.Errorf("demucs failed: %s", lastErrLine)
		}
		return Stems{}, fmt.Errorf("demucs failed: %w", err)
	}

	return s.locateStems(outDir, inputPath)
}

// locateStems finds the four tracks demucs wrote under
// <outDir>/<model>/<track name>/.
func (s *DemucsSeparator) locateStems(outDir, inputPath string) (Stems, error) {
	track := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	stemDir := filepath.Join(outDir, s.model, track)
	if _, err := os.Stat(stemDir); err != nil {
		return Stems{}, fmt.Errorf("demucs output dir missing: %w", err)
	}

	stems := Stems{
		Drums:  filepath.Join(stemDir, "drums.wav"),
		Bass:   filepath.Join(stemDir, "bass.wav"),
		Other:  filepath.Join(stemDir, "other.wav"),
		Vocals: filepath.Join(stemDir, "vocals.wav"),
	}
	for _, path := range []string{stems.Drums, stems.Bass, stems.Other, stems.Vocals} {
		if _, err := os.Stat(path); err != nil {
			return Stems{}, fmt.Errorf("missing stem %s: %w", filepath.Base(path), err)
		}
	}
	return stems, nil
}

// scanLinesAndCR splits on \n and \r so progress-bar rewrites on a single
// terminal line still come through as separate tokens.
func scanLinesAndCR(data []byte, atEOF bool) (int, []byte, error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
