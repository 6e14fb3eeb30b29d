package render

import (
	"bytes"
	"image"
	"image/color"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const partHeader = "--frame\r\nContent-Type: image/jpeg\r\n\r\n"

// Stream serves the broadcaster's frames as multipart MJPEG. When no frame
// arrives within Keepalive a placeholder frame is sent instead.
type Stream struct {
	B         *Broadcaster
	Keepalive time.Duration

	once  sync.Once
	blank []byte
}

func NewStream(b *Broadcaster) *Stream {
	return &Stream{B: b, Keepalive: 5 * time.Second}
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	s.once.Do(func() { s.blank = placeholderJPEG() })
	if s.blank == nil {
		http.Error(w, "failed to render frame", http.StatusInternalServerError)
		return
	}

	id, frames := s.B.Subscribe()
	defer s.B.Unsubscribe(id)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := s.Keepalive
	if keepalive <= 0 {
		keepalive = 5 * time.Second
	}
	timer := time.NewTimer(keepalive)
	defer timer.Stop()

	for {
		var data []byte
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			data = frame
		case <-timer.C:
			data = s.blank
		}
		timer.Reset(keepalive)

		if err := writePart(w, data); err != nil {
			slog.Debug("mjpeg client disconnected", "error", err)
			return
		}
		flusher.Flush()
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	if _, err := w.Write([]byte(partHeader)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// placeholderJPEG is shown while no analysis session produces frames.
func placeholderJPEG() []byte {
	img := imaging.New(640, 360, color.NRGBA{R: 32, G: 32, B: 32, A: 255})

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(ZoneColor),
		Face: basicfont.Face7x13,
	}
	const msg = "No active analysis"
	d.Dot = fixed.P((640-d.MeasureString(msg).Round())/2, 180)
	d.DrawString(msg)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(75)); err != nil {
		slog.Error("encode placeholder frame", "error", err)
		return nil
	}
	return buf.Bytes()
}
