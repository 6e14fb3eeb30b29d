package zones

import "sync/atomic"

// Store holds the current zone set. Writers swap in a whole new set; readers
// get an immutable snapshot and never block.
type Store struct {
	current atomic.Pointer[[]Zone]
}

func NewStore() *Store {
	s := &Store{}
	empty := []Zone{}
	s.current.Store(&empty)
	return s
}

// Set replaces the entire zone set and returns the new zone count.
// Degenerate polygons are accepted as-is.
func (s *Store) Set(zs []Zone) int {
	next := make([]Zone, len(zs))
	for i, z := range zs {
		next[i] = z.clone()
	}
	s.current.Store(&next)
	return len(next)
}

// Zones returns the current snapshot. The slice is shared and must not be
// modified.
func (s *Store) Zones() []Zone {
	return *s.current.Load()
}

func (s *Store) Len() int {
	return len(*s.current.Load())
}
