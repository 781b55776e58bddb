package resolver

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/internal/services/cache"
	"github.com/z3i0/MusicBot/internal/services/spotify"
	"github.com/z3i0/MusicBot/internal/utils"
	"github.com/z3i0/MusicBot/pkg/logger"
)

// Provider is one platform's catalog
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]entities.Track, error)
	Playlist(ctx context.Context, url string) ([]entities.Track, error)
	IsPlaylist(url string) bool
}

// Playlist is an expanded collection URL
type Playlist struct {
	Tracks     []entities.Track
	IsPlaylist bool
}

// Resolution is what a play request turned into
type Resolution struct {
	Platform   valueobjects.Platform
	Tracks     []entities.Track
	IsPlaylist bool
}

var directExtensions = []string{".mp3", ".wav", ".ogg", ".opus", ".flac"}

// DetectPlatform classifies a query by URL pattern
func DetectPlatform(query string) valueobjects.Platform {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)

	switch {
	case strings.Contains(lower, "youtube.com") || strings.Contains(lower, "youtu.be"):
		return valueobjects.PlatformYouTube
	case strings.Contains(lower, "spotify.com"):
		return valueobjects.PlatformSpotify
	case strings.Contains(lower, "soundcloud.com"):
		return valueobjects.PlatformSoundCloud
	case strings.HasPrefix(lower, "http") && hasDirectExtension(lower):
		return valueobjects.PlatformDirect
	}
	return valueobjects.PlatformUnknown
}

func hasDirectExtension(rawURL string) bool {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	ext := path.Ext(rawURL)
	for _, e := range directExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Options tunes the resolver
type Options struct {
	// Fallback serves unknown queries, normally YouTube search
	Fallback valueobjects.Platform
	CacheTTL time.Duration
	Clock    clock.Clock
}

// Resolver dispatches queries to platform providers and locates streams
type Resolver struct {
	layout   cache.Layout
	fallback valueobjects.Platform
	results  *utils.SmartCache[[]entities.Track]
	matches  *utils.SmartCache[string]
	logger   *logger.Logger

	mu        sync.RWMutex
	providers map[valueobjects.Platform]Provider
}

// New creates a resolver with the direct-link provider registered
func New(layout cache.Layout, opts Options, log *logger.Logger) *Resolver {
	if opts.Fallback == "" {
		opts.Fallback = valueobjects.PlatformYouTube
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}

	r := &Resolver{
		layout:    layout,
		fallback:  opts.Fallback,
		results:   utils.NewSmartCache[[]entities.Track](500, opts.CacheTTL, opts.Clock),
		matches:   utils.NewSmartCache[string](1000, 6*time.Hour, opts.Clock),
		logger:    log,
		providers: make(map[valueobjects.Platform]Provider),
	}
	r.Register(valueobjects.PlatformDirect, directProvider{})
	return r
}

// RunCleanup evicts expired lookups every interval until stop closes
func (r *Resolver) RunCleanup(interval time.Duration, stop <-chan struct{}) {
	go r.matches.StartCleanupWorker(interval, stop)
	r.results.StartCleanupWorker(interval, stop)
}

// Register installs or replaces the provider for a platform
func (r *Resolver) Register(platform valueobjects.Platform, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[platform] = provider
}

// provider returns the provider that serves platform; unknown goes to the fallback
func (r *Resolver) provider(platform valueobjects.Platform, query string) (Provider, valueobjects.Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if platform == valueobjects.PlatformUnknown {
		platform = r.fallback
	}
	p, ok := r.providers[platform]
	if !ok {
		return nil, platform, apperrors.NewProviderFailure(platform.String(), query, fmt.Errorf("%s is not configured", platform))
	}
	return p, platform, nil
}

// Search returns up to limit tracks for a query or single-item URL
func (r *Resolver) Search(ctx context.Context, query string, limit int, guildID string) ([]entities.Track, error) {
	p, platform, err := r.provider(DetectPlatform(query), query)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("search|%s|%d|%s", platform, limit, query)
	if cached, ok := r.results.Get(key); ok {
		return append([]entities.Track(nil), cached...), nil
	}

	tracks, err := p.Search(ctx, query, limit)
	if err != nil {
		r.logger.ForGuild(guildID).WithError(err).WithField("platform", platform).Warn("Search failed")
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, apperrors.NewNoResults(platform.String(), query)
	}

	r.results.Set(key, tracks)
	return append([]entities.Track(nil), tracks...), nil
}

// GetPlaylist expands a collection URL. It returns nil when the URL is not a
// collection on its platform.
func (r *Resolver) GetPlaylist(ctx context.Context, url, guildID string) (*Playlist, error) {
	p, platform, err := r.provider(DetectPlatform(url), url)
	if err != nil {
		return nil, err
	}
	if !p.IsPlaylist(url) {
		return nil, nil
	}

	key := fmt.Sprintf("playlist|%s|%s", platform, url)
	if cached, ok := r.results.Get(key); ok {
		return &Playlist{Tracks: append([]entities.Track(nil), cached...), IsPlaylist: true}, nil
	}

	tracks, err := p.Playlist(ctx, url)
	if err != nil {
		r.logger.ForGuild(guildID).WithError(err).WithField("platform", platform).Warn("Playlist expansion failed")
		return nil, err
	}
	if len(tracks) > 0 {
		r.results.Set(key, tracks)
	}
	return &Playlist{Tracks: append([]entities.Track(nil), tracks...), IsPlaylist: true}, nil
}

// Resolve turns a play request into tracks. A collection URL that expands to
// nothing falls back to a single search with the same text.
func (r *Resolver) Resolve(ctx context.Context, query, guildID string) (Resolution, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Resolution{}, apperrors.ErrInvalidInput
	}
	platform := DetectPlatform(query)

	playlist, err := r.GetPlaylist(ctx, query, guildID)
	if err != nil {
		return Resolution{}, err
	}
	if playlist != nil && len(playlist.Tracks) > 0 {
		r.logger.ForGuild(guildID).WithFields(map[string]interface{}{
			"platform": platform,
			"tracks":   len(playlist.Tracks),
		}).Info("📃 Playlist resolved")
		return Resolution{Platform: platform, Tracks: playlist.Tracks, IsPlaylist: true}, nil
	}

	tracks, err := r.Search(ctx, query, 1, guildID)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Platform: platform, Tracks: tracks}, nil
}

// Locate finds something the transport can play: a cached file first, then
// the track's own locator, then a platform lookup
func (r *Resolver) Locate(ctx context.Context, track entities.Track) (string, error) {
	if p, ok := r.layout.Cached(track); ok {
		return p, nil
	}

	if loc := track.StreamLocator; loc != "" {
		if !filepath.IsAbs(loc) {
			return loc, nil
		}
		if info, err := os.Stat(loc); err == nil && info.Size() > 0 {
			return loc, nil
		}
	}

	if track.Platform == valueobjects.PlatformSpotify {
		return r.locateSpotify(ctx, track)
	}

	if track.URL == "" {
		return "", apperrors.NewNoResults(track.Platform.String(), track.Title)
	}
	return track.URL, nil
}

// locateSpotify maps a spotify track to a YouTube video, memoized by key
func (r *Resolver) locateSpotify(ctx context.Context, track entities.Track) (string, error) {
	if url, ok := r.matches.Get(track.Key()); ok {
		return url, nil
	}

	p, _, err := r.provider(valueobjects.PlatformYouTube, track.Title)
	if err != nil {
		return "", err
	}

	query := spotify.SearchQuery(track)
	results, err := p.Search(ctx, query, 1)
	if err != nil {
		return "", err
	}
	if len(results) == 0 || results[0].URL == "" {
		return "", apperrors.NewNoResults(valueobjects.PlatformYouTube.String(), query)
	}

	r.logger.WithFields(map[string]interface{}{
		"track": track.Key(),
		"match": results[0].Key(),
	}).Debug("Spotify track matched on YouTube")
	r.matches.Set(track.Key(), results[0].URL)
	return results[0].URL, nil
}

// directProvider turns a plain audio URL into a single track
type directProvider struct{}

func (directProvider) Search(_ context.Context, query string, _ int) ([]entities.Track, error) {
	raw := strings.TrimSpace(query)
	if !hasDirectExtension(strings.ToLower(raw)) {
		return nil, apperrors.NewNoResults(valueobjects.PlatformDirect.String(), query)
	}

	name := path.Base(strings.SplitN(strings.SplitN(raw, "?", 2)[0], "#", 2)[0])
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	title := strings.TrimSuffix(name, path.Ext(name))

	return []entities.Track{{
		ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte(raw)).String(),
		Platform: valueobjects.PlatformDirect,
		URL:      raw,
		Title:    title,
	}}, nil
}

func (directProvider) Playlist(context.Context, string) ([]entities.Track, error) { return nil, nil }

func (directProvider) IsPlaylist(string) bool { return false }
