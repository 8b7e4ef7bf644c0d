package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// FFmpegExtractor converts uploads to wav using ffmpeg/ffprobe.
type FFmpegExtractor struct {
	logger *slog.Logger
}

// NewFFmpegExtractor creates an ffmpeg backed extractor.
func NewFFmpegExtractor(logger *slog.Logger) *FFmpegExtractor {
	return &FFmpegExtractor{logger: logger}
}

// Extract runs ffmpeg and reports progress through cb.
func (e *FFmpegExtractor) Extract(ctx context.Context, inputPath, destDir string, cb ProgressFunc) (string, error) {
	duration, err := e.probeDuration(ctx, inputPath)
	if err != nil {
		e.logger.Warn("could not probe duration, progress will be coarse", "error", err)
	}

	outputPath := filepath.Join(destDir, "audio.wav")
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-i", inputPath,
		"-vn",
		"-codec:a", "pcm_s16le",
		"-progress", "pipe:1",
		"-nostats",
		outputPath,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Drained on its own goroutine; the result is read back only after
	// the channel delivers, so there is no race with cmd.Wait.
	stderrDone := make(chan string, 1)
	go func() {
		var last string
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				last = line
			}
		}
		stderrDone <- last
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "out_time_ms="):
			if duration <= 0 || cb == nil {
				continue
			}
			outMs, convErr := strconv.ParseFloat(strings.TrimPrefix(line, "out_time_ms="), 64)
			if convErr != nil {
				continue
			}
			ratio := (outMs / 1_000_000.0) / duration
			if ratio < 0 {
				ratio = 0
			}
			if ratio > 1 {
				ratio = 1
			}
			cb(int(ratio*100), "extracting audio")
		case strings.HasPrefix(line, "progress=end"):
			if cb != nil {
				cb(100, "audio track ready")
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed while reading ffmpeg output: %w", err)
	}
	lastErrLine := <-stderrDone

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		if lastErrLine != "" {
			return "", fmt.Errorf("ffmpeg failed: %s", lastErrLine)
		}
		return "", fmt.Errorf("ffmpeg failed: %w", err)
	}

	return outputPath, nil
}

func (e *FFmpegExtractor) probeDuration(ctx context.Context, inputPath string) (float64, error) {
	cmd := exec.CommandContext(ctx,
		"ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe error: %w", err)
	}
	val := strings.TrimSpace(string(out))
	if val == "" {
		return 0, errors.New("empty duration response")
	}
	dur, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration from ffprobe: %w", err)
	}
	return dur, nil
}
