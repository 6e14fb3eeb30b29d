package analysis

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/crowdcount/internal/ingest"
	"github.com/your-org/crowdcount/internal/vision"
	"github.com/your-org/crowdcount/internal/zones"
)

var (
	leftHalf  = zones.Zone{Points: []zones.Point{{0, 0}, {0.5, 0}, {0.5, 1}, {0, 1}}, Label: "left"}
	rightHalf = zones.Zone{Points: []zones.Point{{0.5, 0}, {1, 0}, {1, 1}, {0.5, 1}}}
)

func person(cx, cy float32) vision.Detection {
	return vision.Detection{
		BBox:       [4]float32{cx - 20, cy - 50, cx + 20, cy + 50},
		Class:      vision.ClassPerson,
		Confidence: 0.9,
	}
}

// fakeSource yields n blank frames and then io.EOF until rewound. Each
// frame's top-left red channel holds its 1-based position.
type fakeSource struct {
	mu      sync.Mutex
	n       int
	pos     int
	size    image.Rectangle
	corrupt map[int]bool
	readErr error

	rewinds atomic.Int32
	closed  atomic.Bool
}

func newFakeSource(n int) *fakeSource {
	return &fakeSource{n: n, size: image.Rect(0, 0, 1280, 720)}
}

func (s *fakeSource) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, io.EOF
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.pos >= s.n {
		return nil, io.EOF
	}
	s.pos++
	if s.corrupt[s.pos] {
		return nil, fmt.Errorf("frame %d: %w", s.pos, ingest.ErrCorruptFrame)
	}
	img := image.NewRGBA(s.size)
	img.SetRGBA(0, 0, color.RGBA{R: uint8(s.pos), A: 255})
	return img, nil
}

func (s *fakeSource) Rewind() error {
	s.mu.Lock()
	s.pos = 0
	s.mu.Unlock()
	s.rewinds.Add(1)
	return nil
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeOpener struct {
	src   ingest.Source
	err   error
	opens atomic.Int32
}

func (o *fakeOpener) Open(context.Context, string) (ingest.Source, error) {
	o.opens.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	return o.src, nil
}

type fakeDetector struct {
	mu     sync.Mutex
	dets   []vision.Detection
	err    func(call int) error
	calls  int
	bounds image.Rectangle
	seen   []uint8
}

func (d *fakeDetector) Detect(frame image.Image) ([]vision.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.bounds = frame.Bounds()
	if rgba, ok := frame.(*image.RGBA); ok {
		d.seen = append(d.seen, rgba.RGBAAt(0, 0).R)
	}
	if d.err != nil {
		if err := d.err(d.calls); err != nil {
			return nil, err
		}
	}
	return d.dets, nil
}

func newController(t *testing.T, src ingest.Source, det Detector, store *zones.Store) (*Controller, *Publisher, *fakeOpener) {
	t.Helper()
	pub := NewPublisher()
	opener := &fakeOpener{src: src}
	c := NewController(opener, det, store, pub, Options{Width: 1280, Height: 720})
	t.Cleanup(c.Shutdown)
	return c, pub, opener
}

func TestCountLeftRight(t *testing.T) {
	dets := []vision.Detection{
		person(320, 360),
		person(960, 360),
		{BBox: [4]float32{300, 300, 340, 420}, Class: "dog"},
	}
	got := Count(dets, []zones.Zone{leftHalf, rightHalf}, 1280, 720)
	if diff := cmp.Diff([]int{1, 1}, got); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestCountSplitFrameScenario(t *testing.T) {
	// Centers (300,400) and (900,200) on a 1280x720 frame split at x=640.
	dets := []vision.Detection{
		{BBox: [4]float32{280, 350, 320, 450}, Class: vision.ClassPerson, Confidence: 0.8},
		{BBox: [4]float32{880, 150, 920, 250}, Class: vision.ClassPerson, Confidence: 0.8},
	}
	got := Count(dets, []zones.Zone{leftHalf, rightHalf}, 1280, 720)
	if diff := cmp.Diff([]int{1, 1}, got); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestCountLengthMatchesZones(t *testing.T) {
	dets := []vision.Detection{person(640, 360)}

	assert.Equal(t, []int{}, Count(dets, nil, 1280, 720))
	assert.Equal(t, []int{0}, Count(nil, []zones.Zone{leftHalf}, 1280, 720))

	degenerate := zones.Zone{Points: []zones.Point{{0.1, 0.1}}}
	assert.Len(t, Count(dets, []zones.Zone{degenerate, leftHalf, rightHalf}, 1280, 720), 3)
}

func TestCountOverlappingZones(t *testing.T) {
	full := zones.Zone{Points: []zones.Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}
	dets := []vision.Detection{person(640, 360), person(100, 100)}

	// A center on the shared edge counts in both halves.
	assert.Equal(t, []int{2, 2, 1}, Count(dets, []zones.Zone{full, leftHalf, rightHalf}, 1280, 720))
}

func TestAnalysisPublishesZoneCounts(t *testing.T) {
	store := zones.NewStore()
	store.Set([]zones.Zone{leftHalf, rightHalf})
	det := &fakeDetector{dets: []vision.Detection{person(320, 360), person(960, 360)}}

	c, pub, _ := newController(t, newFakeSource(10), det, store)

	res, err := c.Start(context.Background(), "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, Started, res.Status)
	assert.NotEmpty(t, res.SessionID)

	require.Eventually(t, func() bool {
		return cmp.Equal([]int{1, 1}, pub.Counts())
	}, 2*time.Second, 5*time.Millisecond)

	snap := pub.Snapshot()
	assert.Equal(t, []string{"left", "Zone 2"}, snap.Labels)
	assert.Equal(t, res.SessionID, snap.SessionID)
	assert.NotZero(t, snap.Frame)

	assert.Equal(t, Stopped, c.Stop())
	assert.Equal(t, NotRunning, c.Stop())
}

func TestAnalysisResizesToWorkingResolution(t *testing.T) {
	src := newFakeSource(3)
	src.size = image.Rect(0, 0, 64, 36)
	det := &fakeDetector{}

	c, _, _ := newController(t, src, det, zones.NewStore())
	_, err := c.Start(context.Background(), "small.mp4")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Status().Frames > 0 }, 2*time.Second, 5*time.Millisecond)
	c.Stop()

	det.mu.Lock()
	defer det.mu.Unlock()
	assert.Equal(t, image.Rect(0, 0, 1280, 720), det.bounds)
}

func TestCountLengthFollowsZoneChanges(t *testing.T) {
	store := zones.NewStore()
	det := &fakeDetector{dets: []vision.Detection{person(320, 360)}}
	c, pub, _ := newController(t, newFakeSource(5), det, store)

	var bad atomic.Int32
	var seen atomic.Int32
	pub.OnPublish(func(s Snapshot) {
		seen.Add(1)
		if len(s.Counts) != len(s.Labels) || (len(s.Counts) != 0 && len(s.Counts) != 1 && len(s.Counts) != 3) {
			bad.Add(1)
		}
	})

	_, err := c.Start(context.Background(), "clip.mp4")
	require.NoError(t, err)

	one := []zones.Zone{leftHalf}
	three := []zones.Zone{leftHalf, rightHalf, leftHalf}
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			store.Set(three)
		} else {
			store.Set(one)
		}
		time.Sleep(100 * time.Microsecond)
	}
	base := seen.Load()
	require.Eventually(t, func() bool { return seen.Load() > base+2 }, 2*time.Second, 5*time.Millisecond)
	c.Stop()

	assert.Zero(t, bad.Load())
	assert.Len(t, pub.Counts(), 1)
}

func TestStartIsMutuallyExclusive(t *testing.T) {
	c, _, opener := newController(t, newFakeSource(10), &fakeDetector{}, zones.NewStore())

	var started, already atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Start(context.Background(), "clip.mp4")
			if !assert.NoError(t, err) {
				return
			}
			switch res.Status {
			case Started:
				started.Add(1)
			case AlreadyRunning:
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(15), already.Load())
	assert.Equal(t, int32(1), opener.opens.Load())
}

func TestStopJoinsLoop(t *testing.T) {
	src := newFakeSource(10)
	det := &fakeDetector{}
	c, _, _ := newController(t, src, det, zones.NewStore())

	_, err := c.Start(context.Background(), "clip.mp4")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Status().Frames > 0 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, Stopped, c.Stop())
	assert.True(t, src.closed.Load())
	assert.False(t, c.Status().Running)

	det.mu.Lock()
	calls := det.calls
	det.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	det.mu.Lock()
	assert.Equal(t, calls, det.calls, "no detections after Stop returned")
	det.mu.Unlock()
}

func TestStopInterruptsPacing(t *testing.T) {
	pub := NewPublisher()
	c := NewController(&fakeOpener{src: newFakeSource(10)}, &fakeDetector{}, zones.NewStore(), pub,
		Options{Width: 1280, Height: 720, FrameInterval: time.Hour})

	_, err := c.Start(context.Background(), "clip.mp4")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Status().Frames == 1 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan StopResult)
	go func() { done <- c.Stop() }()
	select {
	case res := <-done:
		assert.Equal(t, Stopped, res)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on the pacing sleep")
	}
}

func TestSourceLoopsAtEndOfStream(t *testing.T) {
	src := newFakeSource(10)
	det := &fakeDetector{}
	c, _, _ := newController(t, src, det, zones.NewStore())

	_, err := c.Start(context.Background(), "clip.mp4")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Status().Frames >= 35 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Status().Running)
	assert.GreaterOrEqual(t, src.rewinds.Load(), int32(3))
	c.Stop()

	det.mu.Lock()
	seen := append([]uint8(nil), det.seen[:21]...)
	det.mu.Unlock()
	want := []uint8{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 1}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("frame order mismatch (-want +got):\n%s", diff)
	}
}

func TestStartInvalidSource(t *testing.T) {
	pub := NewPublisher()
	opener := &fakeOpener{err: fmt.Errorf("%w: no such file", ingest.ErrInvalidSource)}
	c := NewController(opener, &fakeDetector{}, zones.NewStore(), pub, Options{})

	_, err := c.Start(context.Background(), "missing.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSource)
	assert.False(t, c.Status().Running)
	assert.Equal(t, NotRunning, c.Stop())

	opener.err = errors.New("boom")
	_, err = c.Start(context.Background(), "other.mp4")
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestTransientErrorsDoNotStopLoop(t *testing.T) {
	store := zones.NewStore()
	store.Set([]zones.Zone{leftHalf})

	src := newFakeSource(10)
	src.corrupt = map[int]bool{2: true, 5: true}
	det := &fakeDetector{
		dets: []vision.Detection{person(100, 100)},
		err: func(call int) error {
			if call%3 == 0 {
				return errors.New("inference failed")
			}
			return nil
		},
	}
	c, pub, _ := newController(t, src, det, store)

	_, err := c.Start(context.Background(), "clip.mp4")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Status().Frames >= 20 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Status().Running)
	assert.Equal(t, []int{1}, pub.Counts())
	c.Stop()
}

func TestDeadSourceEndsSessionAndAllowsRestart(t *testing.T) {
	src := newFakeSource(0)
	c, pub, opener := newController(t, src, &fakeDetector{}, zones.NewStore())

	_, err := c.Start(context.Background(), "empty.mp4")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !c.Status().Running }, 2*time.Second, 5*time.Millisecond)

	st := c.Status()
	assert.Contains(t, st.LastError, "no frames")
	assert.Equal(t, NotRunning, c.Stop())
	assert.Empty(t, pub.Counts())

	opener.src = newFakeSource(5)
	res, err := c.Start(context.Background(), "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, Started, res.Status)
	assert.NotEqual(t, st.SessionID, res.SessionID)
}

func TestFatalReadEndsSession(t *testing.T) {
	src := newFakeSource(5)
	src.readErr = errors.New("ffmpeg exited")
	c, _, _ := newController(t, src, &fakeDetector{}, zones.NewStore())

	_, err := c.Start(context.Background(), "clip.mp4")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !c.Status().Running }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, c.Status().LastError, "ffmpeg exited")
	assert.True(t, src.closed.Load())
}

func TestPublisherCopies(t *testing.T) {
	pub := NewPublisher()
	assert.Equal(t, []int{}, pub.Counts())

	var got []Snapshot
	pub.OnPublish(func(s Snapshot) { got = append(got, s) })
	pub.publish(Snapshot{Counts: []int{3, 4}, Labels: []string{"a", "b"}, Frame: 7})

	c := pub.Counts()
	c[0] = 99
	assert.Equal(t, []int{3, 4}, pub.Counts())

	s := pub.Snapshot()
	s.Labels[0] = "z"
	assert.Equal(t, "a", pub.Snapshot().Labels[0])

	require.Len(t, got, 1)
	assert.Equal(t, uint64(7), got[0].Frame)
}

func TestSleepCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	sleepCtx(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second)
}

// slowOpener blocks in Open until release is closed or ctx ends.
type slowOpener struct {
	src     ingest.Source
	entered chan struct{}
	release chan struct{}
}

func (o *slowOpener) Open(ctx context.Context, _ string) (ingest.Source, error) {
	close(o.entered)
	select {
	case <-o.release:
		return o.src, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestControllerResponsiveWhileOpening(t *testing.T) {
	opener := &slowOpener{src: newFakeSource(5), entered: make(chan struct{}), release: make(chan struct{})}
	c := NewController(opener, &fakeDetector{}, zones.NewStore(), NewPublisher(), Options{})
	t.Cleanup(c.Shutdown)

	started := make(chan StartResult, 1)
	go func() {
		res, err := c.Start(context.Background(), "rtsp://cam/slow")
		assert.NoError(t, err)
		started <- res
	}()
	<-opener.entered

	st := c.Status()
	assert.True(t, st.Running)
	assert.Equal(t, "rtsp://cam/slow", st.FeedPath)

	res, err := c.Start(context.Background(), "other.mp4")
	require.NoError(t, err)
	assert.Equal(t, AlreadyRunning, res.Status)
	assert.Equal(t, st.SessionID, res.SessionID)

	close(opener.release)
	first := <-started
	assert.Equal(t, Started, first.Status)
	assert.Equal(t, st.SessionID, first.SessionID)
	assert.Equal(t, Stopped, c.Stop())
}

func TestStopCancelsOpening(t *testing.T) {
	opener := &slowOpener{entered: make(chan struct{}), release: make(chan struct{})}
	c := NewController(opener, &fakeDetector{}, zones.NewStore(), NewPublisher(), Options{})

	errc := make(chan error, 1)
	go func() {
		_, err := c.Start(context.Background(), "rtsp://cam/stalled")
		errc <- err
	}()
	<-opener.entered

	assert.Equal(t, Stopped, c.Stop())
	select {
	case err := <-errc:
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidSource)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.False(t, c.Status().Running)
	assert.Equal(t, NotRunning, c.Stop())
}
