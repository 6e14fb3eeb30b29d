package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/crowdcount/internal/ingest"
	"github.com/your-org/crowdcount/internal/observability"
	"github.com/your-org/crowdcount/internal/zones"
)

// ErrInvalidSource is returned by Start when the feed cannot be opened.
var ErrInvalidSource = ingest.ErrInvalidSource

type StartStatus int

const (
	Started StartStatus = iota + 1
	AlreadyRunning
)

func (s StartStatus) String() string {
	switch s {
	case Started:
		return "started"
	case AlreadyRunning:
		return "already_running"
	}
	return "unknown"
}

// StartResult reports the outcome of Start and the id of the session that is
// now running.
type StartResult struct {
	Status    StartStatus
	SessionID string
}

type StopResult int

const (
	Stopped StopResult = iota + 1
	NotRunning
)

func (s StopResult) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case NotRunning:
		return "not_running"
	}
	return "unknown"
}

// Opener turns a feed path into an open frame source.
type Opener interface {
	Open(ctx context.Context, feedPath string) (ingest.Source, error)
}

// Status describes the current or most recent session.
type Status struct {
	Running   bool      `json:"running"`
	SessionID string    `json:"session_id,omitempty"`
	FeedPath  string    `json:"feed_path,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Frames    uint64    `json:"frames"`
	LastError string    `json:"last_error,omitempty"`
}

type Options struct {
	Width         int
	Height        int
	FrameInterval time.Duration // 0 disables pacing
	Sinks         []FrameSink
}

type session struct {
	id      string
	feed    string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	frames  atomic.Uint64
	err     error // set before done is closed
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Controller runs at most one analysis session at a time.
type Controller struct {
	opener Opener
	det    Detector
	zones  *zones.Store
	pub    *Publisher
	opts   Options

	mu   sync.Mutex
	sess *session
}

func NewController(opener Opener, det Detector, store *zones.Store, pub *Publisher, opts Options) *Controller {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}
	return &Controller{
		opener: opener,
		det:    det,
		zones:  store,
		pub:    pub,
		opts:   opts,
	}
}

// Start opens feedPath and launches the analysis loop. If a session is
// already active, or still opening its source, it is left untouched and
// AlreadyRunning is returned.
//
// The source is opened without holding the controller lock, so Stop and
// Status stay responsive while ffmpeg waits for its first frame. Opening is
// bounded by ctx, by Stop, and by the opener's own timeout.
func (c *Controller) Start(ctx context.Context, feedPath string) (StartResult, error) {
	c.mu.Lock()
	if c.sess != nil && c.sess.alive() {
		res := StartResult{Status: AlreadyRunning, SessionID: c.sess.id}
		c.mu.Unlock()
		return res, nil
	}
	prev := c.sess
	runCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:      uuid.NewString(),
		feed:    feedPath,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.sess = sess
	c.mu.Unlock()

	openCtx, cancelOpen := context.WithCancel(ctx)
	stopOpen := context.AfterFunc(runCtx, cancelOpen)
	src, err := c.opener.Open(openCtx, feedPath)
	stopOpen()
	cancelOpen()

	if err == nil && runCtx.Err() != nil {
		_ = src.Close()
		err = errors.New("stopped while opening")
	} else if err != nil && !errors.Is(err, ErrInvalidSource) && runCtx.Err() == nil {
		err = fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if err != nil {
		cancel()
		close(sess.done)

		c.mu.Lock()
		if c.sess == sess {
			c.sess = prev
		}
		c.mu.Unlock()
		return StartResult{}, fmt.Errorf("open feed: %w", err)
	}

	r := &runner{
		sess:     sess,
		src:      src,
		det:      c.det,
		zones:    c.zones,
		pub:      c.pub,
		sinks:    c.opts.Sinks,
		width:    c.opts.Width,
		height:   c.opts.Height,
		interval: c.opts.FrameInterval,
		logger:   slog.With("session_id", sess.id),
	}

	observability.AnalysisRunning.Set(1)
	slog.Info("analysis started", "session_id", sess.id, "feed", feedPath)

	go func() {
		defer close(sess.done)
		defer observability.AnalysisRunning.Set(0)

		// Closing the source unblocks a Read stuck on a stalled feed.
		stopClose := context.AfterFunc(runCtx, func() { _ = src.Close() })
		defer stopClose()

		err := r.run(runCtx)
		_ = src.Close()
		cancel()

		sess.err = err
		if err != nil {
			slog.Error("analysis loop ended", "session_id", sess.id, "frames", sess.frames.Load(), "error", err)
			return
		}
		slog.Info("analysis stopped", "session_id", sess.id, "frames", sess.frames.Load())
	}()

	return StartResult{Status: Started, SessionID: sess.id}, nil
}

// Stop cancels the active session and waits for its goroutine to exit.
func (c *Controller) Stop() StopResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess
	if s == nil || !s.alive() {
		return NotRunning
	}
	s.cancel()
	<-s.done
	return Stopped
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()

	if s == nil {
		return Status{}
	}

	st := Status{
		Running:   s.alive(),
		SessionID: s.id,
		FeedPath:  s.feed,
		StartedAt: s.started,
		Frames:    s.frames.Load(),
	}
	if !st.Running && s.err != nil {
		st.LastError = s.err.Error()
	}
	return st
}

// Shutdown stops any active session; used on process exit.
func (c *Controller) Shutdown() {
	if c.Stop() == Stopped {
		slog.Info("analysis session stopped on shutdown")
	}
}
