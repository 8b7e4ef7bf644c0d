package media

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMatchURL(t *testing.T) {
	valid := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtube.com/watch?v=abc",
		"http://youtu.be/abc123",
		"https://music.youtube.com/watch?v=abc",
	}
	for _, url := range valid {
		if !MatchURL(url) {
			t.Errorf("MatchURL(%q) = false, want true", url)
		}
	}

	invalid := []string{
		"https://vimeo.com/12345",
		"https://example.com/youtube.com",
		"youtube.com/watch?v=abc",
		"ftp://youtube.com/watch",
		"",
	}
	for _, url := range invalid {
		if MatchURL(url) {
			t.Errorf("MatchURL(%q) = true, want false", url)
		}
	}
}

func TestDemucsPercentPattern(t *testing.T) {
	cases := map[string]string{
		"  5%|▌         | 10.0/220.0 [00:01<00:30]":  "5",
		" 45%|████▌     | 99.0/220.0 [00:12<00:15]":  "45",
		"100%|██████████| 220.0/220.0 [00:30<00:00]": "100",
	}
	for line, want := range cases {
		m := demucsPercent.FindStringSubmatch(line)
		if m == nil {
			t.Errorf("no percent found in %q", line)
			continue
		}
		if m[1] != want {
			t.Errorf("percent in %q = %s, want %s", line, m[1], want)
		}
	}

	if demucsPercent.MatchString("Separating track audio.wav") {
		t.Error("plain log line matched the percent pattern")
	}
}

func TestScanLinesAndCR(t *testing.T) {
	input := "first\rsecond\nthird"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(scanLinesAndCR)

	var tokens []string
	for scanner.Scan() {
		tokens = append(tokens, scanner.Text())
	}
	want := []string{"first", "second", "third"}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("token[%d] = %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestLocateStems(t *testing.T) {
	sep := NewDemucsSeparator("htdemucs", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	outDir := t.TempDir()
	stemDir := filepath.Join(outDir, "htdemucs", "audio")
	if err := os.MkdirAll(stemDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"drums.wav", "bass.wav", "other.wav", "vocals.wav"} {
		if err := os.WriteFile(filepath.Join(stemDir, name), []byte("stem"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	stems, err := sep.locateStems(outDir, "/tmp/input/audio.wav")
	if err != nil {
		t.Fatalf("locate stems: %v", err)
	}
	if filepath.Base(stems.Vocals) != "vocals.wav" {
		t.Errorf("vocals = %s, want vocals.wav", stems.Vocals)
	}
}

func TestLocateStemsMissingTrack(t *testing.T) {
	sep := NewDemucsSeparator("htdemucs", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if _, err := sep.locateStems(t.TempDir(), "/tmp/input/audio.wav"); err == nil {
		t.Error("expected error for missing demucs output")
	}
}
