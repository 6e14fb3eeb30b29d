package analysis

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is one published count vector. Counts[i] belongs to the zone at
// index i of the zone set the producing iteration read.
type Snapshot struct {
	Counts    []int     `json:"counts"`
	Labels    []string  `json:"labels"`
	SessionID string    `json:"session_id,omitempty"`
	Frame     uint64    `json:"frame"`
	Time      time.Time `json:"time"`
}

func (s Snapshot) clone() Snapshot {
	s.Counts = slices.Clone(s.Counts)
	s.Labels = slices.Clone(s.Labels)
	return s
}

// Publisher holds the latest snapshot. The loop is the only writer; readers
// never block.
type Publisher struct {
	current atomic.Pointer[Snapshot]

	mu        sync.RWMutex
	listeners []func(Snapshot)
}

func NewPublisher() *Publisher {
	p := &Publisher{}
	p.current.Store(&Snapshot{Counts: []int{}, Labels: []string{}})
	return p
}

// Counts returns a copy of the latest count vector.
func (p *Publisher) Counts() []int {
	return slices.Clone(p.current.Load().Counts)
}

func (p *Publisher) Snapshot() Snapshot {
	return p.current.Load().clone()
}

// OnPublish registers fn to receive every new snapshot. Listeners run on the
// analysis goroutine, must not block and must not modify the snapshot.
func (p *Publisher) OnPublish(fn func(Snapshot)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

func (p *Publisher) publish(s Snapshot) {
	p.current.Store(&s)

	p.mu.RLock()
	listeners := p.listeners
	p.mu.RUnlock()

	for _, fn := range listeners {
		fn(s)
	}
}
