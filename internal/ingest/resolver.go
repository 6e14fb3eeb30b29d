package ingest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
)

const minioScheme = "minio://"

// Presigner issues temporary GET URLs for objects in the feed bucket.
type Presigner interface {
	PresignFeed(ctx context.Context, key string) (string, error)
}

// Resolver turns a feed path into something ffmpeg can open.
type Resolver struct {
	Presigner      Presigner // nil disables minio:// feeds
	ResolveYouTube func(ctx context.Context, url string) (string, error)
}

func NewResolver(p Presigner) *Resolver {
	return &Resolver{Presigner: p, ResolveYouTube: ResolveYouTubeURL}
}

func (r *Resolver) Resolve(ctx context.Context, feedPath string) (string, error) {
	feedPath = strings.TrimSpace(feedPath)
	if feedPath == "" {
		return "", fmt.Errorf("%w: empty feed path", ErrInvalidSource)
	}

	if key, ok := strings.CutPrefix(feedPath, minioScheme); ok {
		if r.Presigner == nil {
			return "", fmt.Errorf("%w: object storage not configured", ErrInvalidSource)
		}
		if key == "" {
			return "", fmt.Errorf("%w: empty object key", ErrInvalidSource)
		}
		u, err := r.Presigner.PresignFeed(ctx, key)
		if err != nil {
			return "", fmt.Errorf("%w: presign %s: %v", ErrInvalidSource, key, err)
		}
		return u, nil
	}

	if u, err := url.Parse(feedPath); err == nil && u.Host != "" {
		if isYouTube(u.Hostname()) {
			if r.ResolveYouTube == nil {
				return "", fmt.Errorf("%w: youtube feeds not supported", ErrInvalidSource)
			}
			resolved, err := r.ResolveYouTube(ctx, feedPath)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
			}
			return resolved, nil
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "rtsp", "rtsps":
			return feedPath, nil
		}
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSource, u.Scheme)
	}

	info, err := os.Stat(feedPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrInvalidSource, feedPath)
	}
	return feedPath, nil
}

func isYouTube(host string) bool {
	host = strings.ToLower(host)
	return host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com")
}

// Opener resolves feed paths and opens them with ffmpeg.
type Opener struct {
	Resolver *Resolver
	FFmpeg   FFmpegOptions
}

func (o *Opener) Open(ctx context.Context, feedPath string) (Source, error) {
	target, err := o.Resolver.Resolve(ctx, feedPath)
	if err != nil {
		return nil, err
	}
	src, err := OpenFFmpeg(ctx, target, o.FFmpeg)
	if err != nil {
		return nil, err
	}
	return src, nil
}
