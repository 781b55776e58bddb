package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/pkg/logger"
)

var (
	// ErrYtDlpNotFound is returned when yt-dlp is not installed
	ErrYtDlpNotFound = errors.New("yt-dlp not found in PATH")
	// ErrExtractionFailed is returned when video extraction fails
	ErrExtractionFailed = errors.New("failed to extract video information")
)

// Runner executes yt-dlp with the given arguments and returns stdout
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

type execRunner struct {
	path string
}

func (r execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.path, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrExtractionFailed, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// LookupRunner finds yt-dlp in PATH
func LookupRunner() (Runner, error) {
	path, err := exec.LookPath("yt-dlp")
	if err != nil {
		return nil, fmt.Errorf("%w: please install yt-dlp", ErrYtDlpNotFound)
	}
	return execRunner{path: path}, nil
}

// Info is the subset of yt-dlp's JSON output we use
type Info struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Thumbnail  string  `json:"thumbnail"`
	WebpageURL string  `json:"webpage_url"`
	URL        string  `json:"url,omitempty"`
	Type       string  `json:"_type,omitempty"` // "video", "playlist", "url"
}

// Catalog describes one yt-dlp backed platform
type Catalog struct {
	Platform     valueobjects.Platform
	SearchPrefix string // e.g. "ytsearch"
	WatchURL     string // format with the ID when an entry has no URL
	IsPlaylist   func(string) bool
}

// YouTubeCatalog is the default catalog
var YouTubeCatalog = Catalog{
	Platform:     valueobjects.PlatformYouTube,
	SearchPrefix: "ytsearch",
	WatchURL:     "https://www.youtube.com/watch?v=%s",
	IsPlaylist:   IsPlaylistURL,
}

// Service resolves tracks through yt-dlp
type Service struct {
	runner  Runner
	catalog Catalog
	logger  *logger.Logger
}

// NewService creates a YouTube service
func NewService(runner Runner, log *logger.Logger) *Service {
	return NewCatalogService(runner, YouTubeCatalog, log)
}

// NewCatalogService creates a service for any platform yt-dlp can search
func NewCatalogService(runner Runner, catalog Catalog, log *logger.Logger) *Service {
	log.WithField("platform", catalog.Platform).Debug("yt-dlp catalog initialized")
	return &Service{runner: runner, catalog: catalog, logger: log}
}

// Platform returns the catalog platform
func (s *Service) Platform() valueobjects.Platform {
	return s.catalog.Platform
}

// IsPlaylist reports whether the URL expands to several tracks
func (s *Service) IsPlaylist(rawURL string) bool {
	return s.catalog.IsPlaylist != nil && s.catalog.IsPlaylist(rawURL)
}

// Search returns up to limit tracks. A URL query extracts that single video.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]entities.Track, error) {
	if limit <= 0 {
		limit = 5
	}

	target := fmt.Sprintf("%s%d:%s", s.catalog.SearchPrefix, limit, query)
	args := []string{"--dump-json", "--no-check-certificate", "--geo-bypass"}
	if isURL(query) {
		target = query
		args = append(args, "--no-playlist", "--format", "bestaudio/best")
	} else {
		args = append(args, "--flat-playlist")
	}

	s.logger.WithFields(map[string]interface{}{
		"platform": s.catalog.Platform,
		"query":    query,
		"limit":    limit,
	}).Info("Searching...")

	output, err := s.runner.Run(ctx, append(args, target)...)
	if err != nil {
		return nil, apperrors.NewProviderFailure(s.catalog.Platform.String(), query, err)
	}

	tracks := s.toTracks(s.parseLines(output))
	if len(tracks) == 0 {
		return nil, apperrors.NewNoResults(s.catalog.Platform.String(), query)
	}
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}

	s.logger.WithField("results", len(tracks)).Info("✅ Search completed")
	return tracks, nil
}

// Playlist expands a playlist URL in source order
func (s *Service) Playlist(ctx context.Context, rawURL string) ([]entities.Track, error) {
	s.logger.WithField("url", rawURL).Info("Extracting playlist...")

	output, err := s.runner.Run(ctx,
		"--dump-json",
		"--flat-playlist",
		"--no-check-certificate",
		"--geo-bypass",
		rawURL,
	)
	if err != nil {
		return nil, apperrors.NewProviderFailure(s.catalog.Platform.String(), rawURL, err)
	}

	tracks := s.toTracks(s.parseLines(output))
	s.logger.WithField("count", len(tracks)).Info("✅ Successfully extracted playlist")
	return tracks, nil
}

// parseLines decodes one JSON object per line, skipping bad entries
func (s *Service) parseLines(output []byte) []Info {
	var infos []Info
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var info Info
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			s.logger.WithError(err).Warn("Failed to parse yt-dlp entry")
			continue
		}
		if info.Type == "playlist" {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

func (s *Service) toTracks(infos []Info) []entities.Track {
	tracks := make([]entities.Track, 0, len(infos))
	for _, info := range infos {
		if info.ID == "" {
			continue
		}
		tracks = append(tracks, info.ToTrack(s.catalog))
	}
	return tracks
}

// ToTrack converts yt-dlp output into a track for the catalog's platform
func (info Info) ToTrack(catalog Catalog) entities.Track {
	link := info.WebpageURL
	if link == "" && isURL(info.URL) {
		link = info.URL
	}
	if link == "" && catalog.WatchURL != "" {
		link = fmt.Sprintf(catalog.WatchURL, info.ID)
	}

	artist := info.Uploader
	if artist == "" {
		artist = info.Channel
	}

	return entities.Track{
		ID:              info.ID,
		Platform:        catalog.Platform,
		URL:             link,
		Title:           info.Title,
		Artist:          artist,
		DurationSeconds: int(info.Duration),
		ThumbnailURL:    info.Thumbnail,
	}
}

// IsPlaylistURL reports whether the URL is a real playlist page. Watch URLs
// carrying a list parameter play the single video.
func IsPlaylistURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || !IsYouTubeURL(rawURL) {
		return false
	}
	return strings.HasSuffix(u.Path, "/playlist") && u.Query().Get("list") != ""
}

// IsYouTubeURL checks if URL is a valid YouTube URL
func IsYouTubeURL(rawURL string) bool {
	return strings.Contains(rawURL, "youtube.com") || strings.Contains(rawURL, "youtu.be")
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
