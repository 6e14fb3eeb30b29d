package analysis

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"github.com/your-org/crowdcount/internal/ingest"
	"github.com/your-org/crowdcount/internal/observability"
	"github.com/your-org/crowdcount/internal/vision"
	"github.com/your-org/crowdcount/internal/zones"
)

// errDeadSource ends a session whose source hits end of stream right after a rewind.
var errDeadSource = errors.New("source produced no frames after rewind")

// Detector finds objects in a frame.
type Detector interface {
	Detect(frame image.Image) ([]vision.Detection, error)
}

// FrameSink receives every analysed frame along with the zones and counts
// computed for it. OnFrame runs on the analysis goroutine and must not block
// or retain counts.
type FrameSink interface {
	OnFrame(frame image.Image, zs []zones.Zone, counts []int)
}

// Count returns, for each zone, the number of person detections whose center
// lies inside it. The result always has len(zs) entries.
func Count(dets []vision.Detection, zs []zones.Zone, w, h int) []int {
	counts := make([]int, len(zs))
	if len(zs) == 0 {
		return counts
	}

	polys := make([][]image.Point, len(zs))
	for i, z := range zs {
		polys[i] = z.Pixels(w, h)
	}

	for _, d := range dets {
		if d.Class != vision.ClassPerson {
			continue
		}
		c := zones.Center(d.BBox)
		for i, poly := range polys {
			if zones.Contains(poly, c) {
				counts[i]++
			}
		}
	}
	return counts
}

type runner struct {
	sess     *session
	src      ingest.Source
	det      Detector
	zones    *zones.Store
	pub      *Publisher
	sinks    []FrameSink
	width    int
	height   int
	interval time.Duration
	logger   *slog.Logger

	gaugeZones int
}

// run processes frames until ctx is cancelled or the source fails.
// A nil return means the session was stopped.
func (r *runner) run(ctx context.Context) error {
	rewound := false

	for {
		if ctx.Err() != nil {
			return nil
		}
		start := time.Now()

		frame, err := r.src.Read()
		if ctx.Err() != nil {
			return nil
		}
		observability.StageDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())

		switch {
		case errors.Is(err, io.EOF):
			if rewound {
				return errDeadSource
			}
			rewound = true
			observability.SourceRewinds.Inc()
			r.logger.Debug("end of stream, rewinding")
			if err := r.src.Rewind(); err != nil {
				return fmt.Errorf("rewind source: %w", err)
			}
			continue
		case errors.Is(err, ingest.ErrCorruptFrame):
			rewound = false
			observability.FrameErrors.WithLabelValues("decode").Inc()
			r.logger.Warn("skipping frame", "error", err)
		case err != nil:
			return fmt.Errorf("read frame: %w", err)
		default:
			rewound = false
			r.process(frame)
		}

		sleepCtx(ctx, r.interval-time.Since(start))
	}
}

func (r *runner) process(frame image.Image) {
	if b := frame.Bounds(); b.Dx() != r.width || b.Dy() != r.height {
		t := time.Now()
		frame = imaging.Resize(frame, r.width, r.height, imaging.Linear)
		observability.StageDuration.WithLabelValues("resize").Observe(time.Since(t).Seconds())
	}

	t := time.Now()
	dets, err := r.det.Detect(frame)
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(t).Seconds())
	if err != nil {
		observability.FrameErrors.WithLabelValues("detect").Inc()
		r.logger.Warn("detection failed", "error", err)
		return
	}

	t = time.Now()
	zs := r.zones.Zones()
	counts := Count(dets, zs, r.width, r.height)
	observability.StageDuration.WithLabelValues("classify").Observe(time.Since(t).Seconds())

	labels := make([]string, len(zs))
	for i, z := range zs {
		labels[i] = z.DisplayName(i)
	}

	seq := r.sess.frames.Add(1)
	r.pub.publish(Snapshot{
		Counts:    counts,
		Labels:    labels,
		SessionID: r.sess.id,
		Frame:     seq,
		Time:      time.Now(),
	})

	observability.FramesProcessed.Inc()
	observability.PeopleDetected.Add(float64(len(vision.People(dets))))
	r.setOccupancy(counts)

	if len(r.sinks) > 0 {
		t = time.Now()
		for _, sink := range r.sinks {
			sink.OnFrame(frame, zs, counts)
		}
		observability.StageDuration.WithLabelValues("render").Observe(time.Since(t).Seconds())
	}
}

func (r *runner) setOccupancy(counts []int) {
	if len(counts) != r.gaugeZones {
		observability.ZoneOccupancy.Reset()
		r.gaugeZones = len(counts)
	}
	for i, n := range counts {
		observability.ZoneOccupancy.WithLabelValues(strconv.Itoa(i)).Set(float64(n))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
