package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
)

var youtubePattern = regexp.MustCompile(`^https?://(www\.|music\.)?(youtube\.com|youtu\.be)/`)

// MatchURL reports whether the URL points at YouTube.
func MatchURL(url string) bool {
	return youtubePattern.MatchString(url)
}

// YTDLPDownloader fetches audio using yt-dlp.
type YTDLPDownloader struct{}

// NewYTDLPDownloader creates a yt-dlp backed downloader.
func NewYTDLPDownloader() *YTDLPDownloader {
	return &YTDLPDownloader{}
}

// Fetch downloads the best audio track into destDir and returns the path
// of the produced file.
func (d *YTDLPDownloader) Fetch(ctx context.Context, url, destDir string) (string, error) {
	outputTemplate := filepath.Join(destDir, "%(id)s.%(ext)s")
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"-f", "bestaudio",
		"-x", "--audio-format", "wav",
		"--no-playlist",
		"-o", outputTemplate,
		url,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w: %s", err, string(output))
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("read download dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			return filepath.Join(destDir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("yt-dlp produced no file for %s", url)
}
