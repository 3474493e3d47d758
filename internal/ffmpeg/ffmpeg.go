// Package ffmpeg wraps the ffprobe/ffmpeg binaries for media inspection and
// audio extraction.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// probeOutput captures the part of ffprobe's JSON output we care about.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the media duration in seconds using ffprobe.
// It fails closed: any probe or parse problem returns 0 with an error, and
// the caller must treat 0 as an unusable duration. Probing is local and
// deterministic enough that no retry is attempted.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %v, stderr: %s", err, stderr.String())
	}
	return parseProbeDuration(out.Bytes())
}

// parseProbeDuration extracts format.duration from raw ffprobe JSON.
func parseProbeDuration(raw []byte) (float64, error) {
	var probed probeOutput
	if err := json.Unmarshal(raw, &probed); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}
	if probed.Format.Duration == "" {
		return 0, fmt.Errorf("ffprobe output has no format.duration")
	}
	duration, err := strconv.ParseFloat(probed.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", probed.Format.Duration, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("ffprobe reported negative duration %f", duration)
	}
	return duration, nil
}

// ExtractAudio transcodes a video container into a standalone stereo 44.1kHz
// MP3 next to the input file and returns the new path. The configuration is
// fixed to what the downstream speech providers accept.
func ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	audioPath := stripExt(videoPath) + ".mp3"

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-ac", "2",
		"-ar", "44100",
		audioPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg audio extraction failed: %v, stderr: %s", err, stderr.String())
	}
	return audioPath, nil
}

func stripExt(path string) string {
	if i := strings.LastIndex(path, "."); i > strings.LastIndex(path, "/") {
		return path[:i]
	}
	return path
}
