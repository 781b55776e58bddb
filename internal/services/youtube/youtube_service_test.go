package youtube

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/pkg/logger"
)

type fakeRunner struct {
	output string
	err    error
	args   [][]string
}

func (r *fakeRunner) Run(_ context.Context, args ...string) ([]byte, error) {
	r.args = append(r.args, args)
	return []byte(r.output), r.err
}

func (r *fakeRunner) lastTarget() string {
	last := r.args[len(r.args)-1]
	return last[len(last)-1]
}

func TestIsYouTubeURL(t *testing.T) {
	tests := []struct {
		url      string
		expected bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", true},
		{"https://www.youtube.com/playlist?list=PLtest", true},
		{"https://spotify.com/track/123", false},
		{"https://example.com", false},
		{"not a url", false},
	}

	for _, tt := range tests {
		result := IsYouTubeURL(tt.url)
		if result != tt.expected {
			t.Errorf("IsYouTubeURL(%s) = %v, expected %v", tt.url, result, tt.expected)
		}
	}
}

func TestIsPlaylistURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{
			name:     "Actual playlist URL",
			url:      "https://www.youtube.com/playlist?list=PLtest",
			expected: true,
		},
		{
			name:     "Video URL with regular list parameter",
			url:      "https://www.youtube.com/watch?v=123&list=PLtest",
			expected: false,
		},
		{
			name:     "Video URL with YouTube Radio list parameter",
			url:      "https://www.youtube.com/watch?v=D8OCBS2UZOk&list=RDD8OCBS2UZOk&start_radio=1",
			expected: false,
		},
		{
			name:     "Single video URL without list",
			url:      "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			expected: false,
		},
		{
			name:     "Short YouTube URL",
			url:      "https://youtu.be/dQw4w9WgXcQ",
			expected: false,
		},
		{
			name:     "Playlist path without list",
			url:      "https://www.youtube.com/playlist",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsPlaylistURL(tt.url)
			if result != tt.expected {
				t.Errorf("IsPlaylistURL(%s) = %v, expected %v", tt.url, result, tt.expected)
			}
		})
	}
}

func TestToTrack(t *testing.T) {
	info := Info{
		ID:         "dQw4w9WgXcQ",
		Title:      "Never Gonna Give You Up",
		Duration:   213.0,
		Uploader:   "Rick Astley",
		Thumbnail:  "https://i.ytimg.com/vi/dQw4w9WgXcQ/maxresdefault.jpg",
		WebpageURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	}

	track := info.ToTrack(YouTubeCatalog)

	if track.Key() != "youtube:dQw4w9WgXcQ" {
		t.Errorf("Unexpected key %s", track.Key())
	}
	if track.DurationSeconds != 213 {
		t.Errorf("Expected duration 213, got %d", track.DurationSeconds)
	}
	if track.Artist != info.Uploader {
		t.Errorf("Expected artist %s, got %s", info.Uploader, track.Artist)
	}
	if track.URL != info.WebpageURL {
		t.Errorf("Expected url %s, got %s", info.WebpageURL, track.URL)
	}
}

func TestToTrackFlatEntryBuildsWatchURL(t *testing.T) {
	track := Info{ID: "abc", Title: "Flat", Channel: "Someone"}.ToTrack(YouTubeCatalog)

	if track.URL != "https://www.youtube.com/watch?v=abc" {
		t.Errorf("Unexpected url %s", track.URL)
	}
	if track.Artist != "Someone" {
		t.Errorf("Expected channel as artist, got %s", track.Artist)
	}
}

func TestSearchQueryUsesSearchPrefix(t *testing.T) {
	runner := &fakeRunner{output: `{"id":"a","title":"A"}
{"id":"b","title":"B"}
not json
{"id":"c","title":"C"}
`}
	svc := NewService(runner, logger.Discard())

	tracks, err := svc.Search(context.Background(), "lofi beats", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if runner.lastTarget() != "ytsearch2:lofi beats" {
		t.Errorf("Unexpected target %q", runner.lastTarget())
	}
	if len(tracks) != 2 || tracks[0].ID != "a" || tracks[1].ID != "b" {
		t.Errorf("Unexpected tracks %+v", tracks)
	}
}

func TestSearchURLExtractsSingleVideo(t *testing.T) {
	runner := &fakeRunner{output: `{"id":"dQw4w9WgXcQ","title":"Rick","webpage_url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`}
	svc := NewService(runner, logger.Discard())

	url := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	tracks, err := svc.Search(context.Background(), url, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if runner.lastTarget() != url {
		t.Errorf("Expected the URL as target, got %q", runner.lastTarget())
	}
	if !strings.Contains(strings.Join(runner.args[0], " "), "--no-playlist") {
		t.Error("Expected --no-playlist for a video URL")
	}
	if len(tracks) != 1 {
		t.Errorf("Expected one track, got %d", len(tracks))
	}
}

func TestSearchErrorsAreClassified(t *testing.T) {
	empty := NewService(&fakeRunner{output: "\n"}, logger.Discard())
	if _, err := empty.Search(context.Background(), "nothing", 1); !errors.Is(err, apperrors.ErrNoResults) {
		t.Errorf("Expected no results, got %v", err)
	}

	broken := NewService(&fakeRunner{err: errors.New("exit status 1")}, logger.Discard())
	_, err := broken.Search(context.Background(), "anything", 1)
	if !errors.Is(err, apperrors.ErrProviderFailure) {
		t.Errorf("Expected provider failure, got %v", err)
	}
	if errors.Is(err, apperrors.ErrNoResults) {
		t.Error("Provider failure must not look like no results")
	}
}

func TestPlaylistPreservesOrder(t *testing.T) {
	runner := &fakeRunner{output: `{"id":"3","title":"Third"}
{"id":"1","title":"First"}
{"id":"2","title":"Second"}`}
	svc := NewService(runner, logger.Discard())

	tracks, err := svc.Playlist(context.Background(), "https://www.youtube.com/playlist?list=PL1")
	if err != nil {
		t.Fatalf("Playlist failed: %v", err)
	}

	var ids []string
	for _, tr := range tracks {
		ids = append(ids, tr.ID)
	}
	if strings.Join(ids, ",") != "3,1,2" {
		t.Errorf("Expected source order, got %v", ids)
	}
}

func TestCatalogServicePlatform(t *testing.T) {
	catalog := Catalog{Platform: valueobjects.PlatformSoundCloud, SearchPrefix: "scsearch"}
	runner := &fakeRunner{output: `{"id":"42","title":"Set","webpage_url":"https://soundcloud.com/a/b"}`}
	svc := NewCatalogService(runner, catalog, logger.Discard())

	tracks, err := svc.Search(context.Background(), "ambient", 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if runner.lastTarget() != "scsearch1:ambient" {
		t.Errorf("Unexpected target %q", runner.lastTarget())
	}
	if tracks[0].Platform != valueobjects.PlatformSoundCloud {
		t.Errorf("Expected soundcloud platform, got %s", tracks[0].Platform)
	}
	if svc.IsPlaylist("https://soundcloud.com/a/sets/b") {
		t.Error("A catalog without a playlist matcher has no playlists")
	}
}

// Integration tests (require yt-dlp and network)
func TestSearchIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	runner, err := LookupRunner()
	if err != nil {
		t.Skipf("yt-dlp not installed: %v", err)
		return
	}

	svc := NewService(runner, logger.New(logger.Config{Level: "error"}))
	results, err := svc.Search(context.Background(), "never gonna give you up", 3)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}

	if len(results) == 0 || len(results) > 3 {
		t.Errorf("Expected 1-3 results, got %d", len(results))
	}
	if results[0].ID == "" || results[0].Title == "" {
		t.Error("Expected ID and title in search result")
	}
}
