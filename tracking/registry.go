package tracking

import "github.com/nvr-ai/traywatch/images"

// Registry owns the tracks of one session. Tracks are stored densely in
// creation order and are never removed; the registry is dropped with its session.
type Registry struct {
	tracks []*Track
	index  map[int]int
	next   int
}

// NewRegistry creates an empty registry whose first track gets firstID.
func NewRegistry(firstID int) *Registry {
	return &Registry{
		index: make(map[int]int),
		next:  firstID,
	}
}

// Create allocates a new track at box using the next id.
func (r *Registry) Create(box images.Rect) *Track {
	t := newTrack(r.next, box)
	r.index[t.ID] = len(r.tracks)
	r.tracks = append(r.tracks, t)
	r.next++
	return t
}

// Get returns the track with the given id.
func (r *Registry) Get(id int) (*Track, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.tracks[i], true
}

// All returns the tracks in creation order. The slice must not be modified.
func (r *Registry) All() []*Track {
	return r.tracks
}

// Len returns the number of tracks ever created in this registry.
func (r *Registry) Len() int {
	return len(r.tracks)
}

// NextID returns the id the next created track will receive.
func (r *Registry) NextID() int {
	return r.next
}
