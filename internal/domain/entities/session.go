package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
)

// PlaybackState is a point-in-time copy of an engine's state
type PlaybackState struct {
	TenantID       string
	Status         valueobjects.PlaybackStatus
	CurrentTrack   *Track
	Queue          []Track
	PositionMs     int64
	VoiceChannelID string
	TextChannelID  string
	UpdatedAt      time.Time
}

// Record projects the state into its persisted form
func (s PlaybackState) Record() *SessionRecord {
	rec := &SessionRecord{
		VoiceChannelID: s.VoiceChannelID,
		TextChannelID:  s.TextChannelID,
		Queue:          make([]Track, len(s.Queue)),
		PositionMs:     s.PositionMs,
		Status:         s.Status,
		UpdatedAt:      FlexTime{Time: s.UpdatedAt},
	}
	copy(rec.Queue, s.Queue)
	if s.CurrentTrack != nil {
		current := *s.CurrentTrack
		rec.CurrentTrack = &current
	}
	return rec
}

// SessionRecord is the persisted snapshot of one guild's session. The store
// keys it by guild ID; the ID itself is not part of the document.
type SessionRecord struct {
	VoiceChannelID string                      `json:"voiceChannelId"`
	TextChannelID  string                      `json:"textChannelId"`
	CurrentTrack   *Track                      `json:"currentTrack"`
	Queue          []Track                     `json:"queue"`
	PositionMs     int64                       `json:"positionMs"`
	Status         valueobjects.PlaybackStatus `json:"status"`
	UpdatedAt      FlexTime                    `json:"updatedAt"`
}

// Validate checks the minimum information needed to rebuild an engine
func (r *SessionRecord) Validate() error {
	if r.VoiceChannelID == "" || r.TextChannelID == "" {
		return fmt.Errorf("record is missing channel ids")
	}
	if r.Status != "" && !r.Status.IsValid() {
		return fmt.Errorf("record has unknown status %q", r.Status)
	}
	return nil
}

// Tracks returns the current track followed by the queue
func (r *SessionRecord) Tracks() []Track {
	out := make([]Track, 0, len(r.Queue)+1)
	if r.CurrentTrack != nil {
		out = append(out, *r.CurrentTrack)
	}
	return append(out, r.Queue...)
}

// EncodeRecord serializes a record for a backend
func EncodeRecord(r *SessionRecord) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord parses and validates a stored record
func DecodeRecord(data []byte) (*SessionRecord, error) {
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FlexTime is a time.Time that can parse multiple formats
type FlexTime struct {
	time.Time
}

// MarshalJSON always writes RFC3339 with nanoseconds
func (ft FlexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ft.Time.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts RFC3339 strings, naive datetimes and unix milliseconds
func (ft *FlexTime) UnmarshalJSON(b []byte) error {
	var millis int64
	if err := json.Unmarshal(b, &millis); err == nil {
		ft.Time = time.UnixMilli(millis)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			ft.Time = t
			return nil
		}
	}

	return fmt.Errorf("unrecognized time %q", s)
}
