package ingest

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// YTDLPPath is the yt-dlp binary used for YouTube feeds.
var YTDLPPath = "yt-dlp"

// ResolveYouTubeURL uses yt-dlp to get the direct stream URL from a YouTube link.
func ResolveYouTubeURL(ctx context.Context, youtubeURL string) (string, error) {
	cmd := exec.CommandContext(ctx, YTDLPPath,
		"--get-url",
		"--format", "best[height<=720]/best",
		"--no-playlist",
		youtubeURL,
	)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("yt-dlp failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("yt-dlp failed: %w", err)
	}
	return firstURL(output)
}

// firstURL picks the video URL; yt-dlp prints one line per format stream.
func firstURL(output []byte) (string, error) {
	for _, line := range strings.Split(string(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("yt-dlp returned empty URL")
}
