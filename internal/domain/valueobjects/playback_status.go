package valueobjects

// PlaybackStatus is the state of a guild's playback engine
type PlaybackStatus string

const (
	StatusIdle      PlaybackStatus = "idle"
	StatusResolving PlaybackStatus = "resolving"
	StatusPlaying   PlaybackStatus = "playing"
	StatusPaused    PlaybackStatus = "paused"
	StatusStopped   PlaybackStatus = "stopped"
)

// String returns the string representation
func (s PlaybackStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s PlaybackStatus) IsValid() bool {
	switch s {
	case StatusIdle, StatusResolving, StatusPlaying, StatusPaused, StatusStopped:
		return true
	}
	return false
}

// HasTrack reports whether a current track must be set in this status
func (s PlaybackStatus) HasTrack() bool {
	return s == StatusResolving || s == StatusPlaying || s == StatusPaused
}
