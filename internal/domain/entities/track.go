package entities

import (
	"fmt"

	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
)

// Track is a resolved, playable unit of media. It is a value: once a
// resolver returns it, nothing mutates it.
type Track struct {
	ID              string                `json:"id"`
	Platform        valueobjects.Platform `json:"sourcePlatform"`
	URL             string                `json:"url"`
	Title           string                `json:"title"`
	Artist          string                `json:"artist,omitempty"`
	DurationSeconds int                   `json:"durationSeconds"`
	ThumbnailURL    string                `json:"thumbnailUrl,omitempty"`

	// StreamLocator is opaque to the engine. It is either a remote URL the
	// transport can pipe through yt-dlp, or an absolute cache file path.
	StreamLocator string `json:"streamLocator,omitempty"`
}

// DisplayName returns the best display name for the track
func (t Track) DisplayName() string {
	if t.Artist != "" {
		return fmt.Sprintf("%s - %s", t.Artist, t.Title)
	}
	if t.Title != "" {
		return t.Title
	}
	return t.URL
}

// DurationFormatted returns duration in MM:SS format
func (t Track) DurationFormatted() string {
	if t.DurationSeconds <= 0 {
		return "00:00"
	}

	minutes := t.DurationSeconds / 60
	seconds := t.DurationSeconds % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// Key identifies a track across queue operations
func (t Track) Key() string {
	return string(t.Platform) + ":" + t.ID
}

// WithStreamLocator returns a copy pointing at a different stream
func (t Track) WithStreamLocator(locator string) Track {
	t.StreamLocator = locator
	return t
}
