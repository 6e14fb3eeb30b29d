package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

var (
	// ErrInvalidSource is returned when a feed cannot be resolved or opened.
	ErrInvalidSource = errors.New("invalid video source")
	// ErrCorruptFrame marks a single undecodable frame; the stream itself is still usable.
	ErrCorruptFrame = errors.New("corrupt frame")
)

const maxFrameSize = 10 * 1024 * 1024

// Source is a decodable, rewindable video handle.
type Source interface {
	// Read returns the next frame, io.EOF at end of stream, or an error
	// wrapping ErrCorruptFrame for a frame that could not be decoded.
	Read() (image.Image, error)
	// Rewind repositions the source at its first frame.
	Rewind() error
	Close() error
}

// FFmpegOptions configures the ffmpeg subprocess.
type FFmpegOptions struct {
	Path        string        // ffmpeg binary, defaults to "ffmpeg"
	OpenTimeout time.Duration // max wait for the first frame
}

// FFmpegSource decodes a feed with ffmpeg writing MJPEG to stdout.
type FFmpegSource struct {
	url  string
	opts FFmpegOptions

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	reader  *bufio.Reader
	pending []byte
}

// OpenFFmpeg starts ffmpeg on url and waits for the first frame.
// ctx bounds only the open; the running process is owned by the source.
func OpenFFmpeg(ctx context.Context, url string, opts FFmpegOptions) (*FFmpegSource, error) {
	if opts.Path == "" {
		opts.Path = "ffmpeg"
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 15 * time.Second
	}

	s := &FFmpegSource{url: url, opts: opts}
	if err := s.start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}

	stopWatch := context.AfterFunc(ctx, s.kill)
	timer := time.AfterFunc(opts.OpenTimeout, s.kill)
	first, err := nextFrame(s.reader)
	stopWatch()
	timer.Stop()

	if err != nil {
		_ = s.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: no frames from %s", ErrInvalidSource, redact(url))
	}
	s.pending = first
	return s, nil
}

func (s *FFmpegSource) Read() (image.Image, error) {
	data := s.pending
	s.pending = nil
	if data == nil {
		var err error
		data, err = nextFrame(s.reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read frame: %w", err)
		}
	}
	return decodeFrame(data)
}

// Rewind restarts ffmpeg from the beginning of the feed.
func (s *FFmpegSource) Rewind() error {
	s.stop()
	s.pending = nil
	if err := s.start(); err != nil {
		return fmt.Errorf("rewind: %w", err)
	}
	return nil
}

func (s *FFmpegSource) Close() error {
	s.stop()
	return nil
}

func (s *FFmpegSource) start() error {
	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, s.opts.Path, ffmpegArgs(s.url)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	s.mu.Lock()
	s.cmd = cmd
	s.cancel = cancel
	s.reader = bufio.NewReaderSize(stdout, 512*1024)
	s.mu.Unlock()
	return nil
}

func (s *FFmpegSource) kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *FFmpegSource) stop() {
	s.mu.Lock()
	cmd, cancel := s.cmd, s.cancel
	s.cmd, s.cancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cmd != nil {
		_ = cmd.Wait()
	}
}

func ffmpegArgs(url string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	if strings.HasPrefix(url, "rtsp://") || strings.HasPrefix(url, "rtsps://") {
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // 5s socket timeout (microseconds)
		)
	} else if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	}

	return append(args,
		"-i", url,
		"-an",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

func decodeFrame(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	return img, nil
}

// nextFrame reads one JPEG image from a stream of concatenated JPEGs.
func nextFrame(r *bufio.Reader) ([]byte, error) {
	if err := findJPEGStart(r); err != nil {
		return nil, err
	}
	return readUntilJPEGEnd(r)
}

func findJPEGStart(r *bufio.Reader) error {
	var prev byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if prev == 0xFF && b == 0xD8 {
			return nil
		}
		prev = b
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}
	var prev byte

	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		data = append(data, b)

		if prev == 0xFF && b == 0xD9 {
			return data, nil
		}
		prev = b

		if len(data) > maxFrameSize {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}

// redact drops the query string so presigned credentials stay out of logs and errors.
func redact(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
