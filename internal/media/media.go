// Package media wraps the external tools the pipeline shells out to:
// yt-dlp for fetching, ffmpeg/ffprobe for audio extraction and demucs for
// stem separation. Everything is exposed behind small interfaces so the
// pipeline can be exercised without the tools installed.
package media

import "context"

// ProgressFunc receives stage-local progress in the range 0-100.
type ProgressFunc func(percent int, message string)

// Downloader fetches a remote source into a local file.
type Downloader interface {
	Fetch(ctx context.Context, url, destDir string) (string, error)
}

// Extractor pulls the audio track out of an uploaded media file.
type Extractor interface {
	Extract(ctx context.Context, inputPath, destDir string, cb ProgressFunc) (string, error)
}

// Stems are the four output tracks of a separation run.
type Stems struct {
	Drums  string
	Bass   string
	Other  string
	Vocals string
}

// Separator splits a single audio file into stems.
type Separator interface {
	Separate(ctx context.Context, inputPath, outDir string, cb ProgressFunc) (Stems, error)
}
