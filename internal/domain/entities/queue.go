package entities

// Queue is the ordered list of tracks waiting behind the current one.
// It is owned by a single playback engine and is not safe for concurrent use.
type Queue struct {
	tracks  []Track
	maxSize int
}

// NewQueue creates an empty queue; maxSize <= 0 means unbounded
func NewQueue(maxSize int) *Queue {
	return &Queue{
		tracks:  make([]Track, 0),
		maxSize: maxSize,
	}
}

// Push appends tracks at the tail and returns how many were accepted
func (q *Queue) Push(tracks ...Track) int {
	accepted := q.room(len(tracks))
	q.tracks = append(q.tracks, tracks[:accepted]...)
	return accepted
}

// PushFront inserts tracks at the head, preserving their order
func (q *Queue) PushFront(tracks ...Track) int {
	accepted := q.room(len(tracks))
	head := make([]Track, 0, accepted+len(q.tracks))
	head = append(head, tracks[:accepted]...)
	q.tracks = append(head, q.tracks...)
	return accepted
}

// Pop removes and returns the head of the queue
func (q *Queue) Pop() (Track, bool) {
	if len(q.tracks) == 0 {
		return Track{}, false
	}
	head := q.tracks[0]
	q.tracks[0] = Track{}
	q.tracks = q.tracks[1:]
	return head, true
}

// Peek returns the head without removing it
func (q *Queue) Peek() (Track, bool) {
	if len(q.tracks) == 0 {
		return Track{}, false
	}
	return q.tracks[0], true
}

// RemoveKey drops every entry with the given track key, returning the count
func (q *Queue) RemoveKey(key string) int {
	kept := q.tracks[:0]
	removed := 0
	for _, t := range q.tracks {
		if t.Key() == key {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	q.tracks = kept
	return removed
}

// Contains reports whether a track with the given key is queued
func (q *Queue) Contains(key string) bool {
	for _, t := range q.tracks {
		if t.Key() == key {
			return true
		}
	}
	return false
}

// Len returns the number of queued tracks
func (q *Queue) Len() int {
	return len(q.tracks)
}

// Clear removes all queued tracks
func (q *Queue) Clear() {
	q.tracks = make([]Track, 0)
}

// Tracks returns a copy of the queued tracks
func (q *Queue) Tracks() []Track {
	out := make([]Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}

func (q *Queue) room(n int) int {
	if q.maxSize <= 0 {
		return n
	}
	free := q.maxSize - len(q.tracks)
	if free < 0 {
		free = 0
	}
	if n > free {
		return free
	}
	return n
}
