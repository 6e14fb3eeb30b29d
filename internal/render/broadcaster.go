package render

import (
	"bytes"
	"image"
	"log/slog"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/your-org/crowdcount/internal/observability"
	"github.com/your-org/crowdcount/internal/zones"
)

// Broadcaster renders annotated frames and fans the JPEGs out to MJPEG
// clients. With no clients subscribed, frames are dropped before rendering.
type Broadcaster struct {
	quality int

	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
}

func NewBroadcaster(jpegQuality int) *Broadcaster {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 80
	}
	return &Broadcaster{
		quality: jpegQuality,
		clients: make(map[int]chan []byte),
	}
}

// Subscribe adds a client and returns its id and frame channel.
func (b *Broadcaster) Subscribe() (int, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan []byte, 2)
	b.clients[id] = ch
	observability.MJPEGClients.Inc()

	slog.Debug("mjpeg client subscribed", "client", id, "clients", len(b.clients))
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		observability.MJPEGClients.Dec()
		slog.Debug("mjpeg client unsubscribed", "client", id, "clients", len(b.clients))
	}
}

func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// OnFrame annotates a copy of frame and delivers it to every client.
// Clients that have not drained their buffer miss the frame.
func (b *Broadcaster) OnFrame(frame image.Image, zs []zones.Zone, counts []int) {
	if b.Clients() == 0 {
		return
	}

	canvas := imaging.Clone(frame)
	Annotate(canvas, zs, counts)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(b.quality)); err != nil {
		slog.Warn("encode annotated frame", "error", err)
		return
	}
	data := buf.Bytes()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.clients {
		select {
		case ch <- data:
		default:
		}
	}
}
