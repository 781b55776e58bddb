package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/pkg/logger"
)

var (
	// Regex patterns for Spotify URLs
	trackRegex    = regexp.MustCompile(`spotify\.com/(?:intl-[a-z]+/)?track/([a-zA-Z0-9]+)`)
	playlistRegex = regexp.MustCompile(`spotify\.com/(?:intl-[a-z]+/)?playlist/([a-zA-Z0-9]+)`)
	albumRegex    = regexp.MustCompile(`spotify\.com/(?:intl-[a-z]+/)?album/([a-zA-Z0-9]+)`)

	// ErrInvalidURL is returned for spotify links we cannot parse
	ErrInvalidURL = errors.New("invalid Spotify URL")
)

const platform = "spotify"

// Config holds credentials and endpoints
type Config struct {
	ClientID     string
	ClientSecret string

	// Overridable for tests
	AccountsURL string
	APIURL      string
	HTTPClient  *http.Client
	Clock       clock.Clock
}

// Service handles Spotify API operations
type Service struct {
	cfg        Config
	httpClient *http.Client
	clock      clock.Clock
	logger     *logger.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Track represents a Spotify track
type Track struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Artists     []Artist    `json:"artists"`
	Album       Album       `json:"album"`
	DurationMs  int         `json:"duration_ms"`
	ExternalIDs ExternalIDs `json:"external_ids"`
}

// ExternalIDs represents external identifiers for a track
type ExternalIDs struct {
	ISRC string `json:"isrc"`
}

// Artist represents a Spotify artist
type Artist struct {
	Name string `json:"name"`
}

// Album represents a Spotify album
type Album struct {
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

// Image is album artwork
type Image struct {
	URL string `json:"url"`
}

type playlistTracksResponse struct {
	Items []struct {
		Track *Track `json:"track"`
	} `json:"items"`
	Next string `json:"next"`
}

type albumTracksResponse struct {
	Items []Track `json:"items"`
	Next  string  `json:"next"`
}

type searchResponse struct {
	Tracks struct {
		Items []Track `json:"items"`
	} `json:"tracks"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// NewService creates a new Spotify service. The token is fetched on first use.
func NewService(cfg Config, log *logger.Logger) (*Service, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("spotify credentials not provided")
	}
	if cfg.AccountsURL == "" {
		cfg.AccountsURL = "https://accounts.spotify.com"
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.spotify.com"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	log.Info("Spotify service initialized")
	return &Service{cfg: cfg, httpClient: client, clock: clk, logger: log}, nil
}

// token returns a valid access token, refreshing it five minutes early
func (s *Service) token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && s.clock.Now().Before(s.tokenExpiry.Add(-5*time.Minute)) {
		return s.accessToken, nil
	}

	data := url.Values{}
	data.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.AccountsURL+"/api/token", strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}

	auth := base64.StdEncoding.EncodeToString([]byte(s.cfg.ClientID + ":" + s.cfg.ClientSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("spotify auth failed: %s - %s", resp.Status, string(body))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", err
	}

	s.accessToken = tr.AccessToken
	s.tokenExpiry = s.clock.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	s.logger.Debug("Spotify access token refreshed")
	return s.accessToken, nil
}

// get makes an authenticated request to the Web API and decodes the body
func (s *Service) get(ctx context.Context, endpoint string, out interface{}) error {
	token, err := s.token(ctx)
	if err != nil {
		return err
	}

	if strings.HasPrefix(endpoint, "/") {
		endpoint = s.cfg.APIURL + endpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("spotify API error: %s - %s", resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetTrack gets track information by ID
func (s *Service) GetTrack(ctx context.Context, trackID string) (*Track, error) {
	var track Track
	if err := s.get(ctx, "/v1/tracks/"+trackID, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// GetPlaylistTracks gets all tracks from a playlist, following pagination
func (s *Service) GetPlaylistTracks(ctx context.Context, playlistID string) ([]Track, error) {
	var all []Track
	endpoint := "/v1/playlists/" + playlistID + "/tracks"

	for endpoint != "" {
		var resp playlistTracksResponse
		if err := s.get(ctx, endpoint, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			// Local files and removed tracks come back as null
			if item.Track != nil && item.Track.ID != "" {
				all = append(all, *item.Track)
			}
		}
		endpoint = resp.Next
	}
	return all, nil
}

// GetAlbumTracks gets all tracks from an album
func (s *Service) GetAlbumTracks(ctx context.Context, albumID string) ([]Track, error) {
	var all []Track
	endpoint := "/v1/albums/" + albumID + "/tracks"

	for endpoint != "" {
		var resp albumTracksResponse
		if err := s.get(ctx, endpoint, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Items...)
		endpoint = resp.Next
	}
	return all, nil
}

// Search finds tracks by text, or returns the single track a track URL names
func (s *Service) Search(ctx context.Context, query string, limit int) ([]entities.Track, error) {
	if limit <= 0 {
		limit = 5
	}

	if IsSpotifyURL(query) {
		kind, id, err := ParseSpotifyURL(query)
		if err != nil {
			return nil, apperrors.NewNoResults(platform, query)
		}
		if kind != "track" {
			return s.Playlist(ctx, query)
		}
		track, err := s.GetTrack(ctx, id)
		if err != nil {
			return nil, apperrors.NewProviderFailure(platform, query, err)
		}
		return []entities.Track{track.ToTrack()}, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", fmt.Sprint(limit))

	var resp searchResponse
	if err := s.get(ctx, "/v1/search?"+params.Encode(), &resp); err != nil {
		return nil, apperrors.NewProviderFailure(platform, query, err)
	}
	if len(resp.Tracks.Items) == 0 {
		return nil, apperrors.NewNoResults(platform, query)
	}
	return toTracks(resp.Tracks.Items, nil), nil
}

// IsPlaylist reports whether the URL names a playlist or album
func (s *Service) IsPlaylist(rawURL string) bool {
	kind, _, err := ParseSpotifyURL(rawURL)
	return err == nil && (kind == "playlist" || kind == "album")
}

// Playlist expands a playlist or album URL in source order
func (s *Service) Playlist(ctx context.Context, rawURL string) ([]entities.Track, error) {
	kind, id, err := ParseSpotifyURL(rawURL)
	if err != nil {
		return nil, apperrors.NewNoResults(platform, rawURL)
	}

	s.logger.WithFields(map[string]interface{}{"type": kind, "id": id}).Info("Fetching Spotify collection...")

	switch kind {
	case "playlist":
		tracks, err := s.GetPlaylistTracks(ctx, id)
		if err != nil {
			return nil, apperrors.NewProviderFailure(platform, rawURL, err)
		}
		return toTracks(tracks, nil), nil
	case "album":
		tracks, err := s.GetAlbumTracks(ctx, id)
		if err != nil {
			return nil, apperrors.NewProviderFailure(platform, rawURL, err)
		}
		// Album track objects are simplified and carry no album field
		var album Album
		if err := s.get(ctx, "/v1/albums/"+id, &album); err != nil {
			s.logger.WithError(err).WithField("album", id).Warn("Album metadata unavailable, tracks will have no artwork")
			return toTracks(tracks, nil), nil
		}
		return toTracks(tracks, &album), nil
	}
	return nil, nil
}

func toTracks(tracks []Track, album *Album) []entities.Track {
	out := make([]entities.Track, 0, len(tracks))
	for i := range tracks {
		t := tracks[i]
		if album != nil {
			t.Album = *album
		}
		out = append(out, t.ToTrack())
	}
	return out
}

// ToTrack maps a Spotify track to a playable entity. The stream is found
// later by searching YouTube for SearchQuery.
func (t *Track) ToTrack() entities.Track {
	track := entities.Track{
		ID:              t.ID,
		Platform:        valueobjects.PlatformSpotify,
		URL:             "https://open.spotify.com/track/" + t.ID,
		Title:           t.Name,
		DurationSeconds: t.GetDurationSeconds(),
	}
	if len(t.Artists) > 0 {
		track.Artist = t.Artists[0].Name
	}
	if len(t.Album.Images) > 0 {
		track.ThumbnailURL = t.Album.Images[0].URL
	}
	return track
}

// ToSearchQuery converts a track to a YouTube search query
func (t *Track) ToSearchQuery() string {
	if len(t.Artists) == 0 {
		return t.Name
	}
	return fmt.Sprintf("%s - %s", t.Artists[0].Name, t.Name)
}

// GetISRC returns the ISRC code if available
func (t *Track) GetISRC() string {
	return t.ExternalIDs.ISRC
}

// GetDurationSeconds returns duration in seconds
func (t *Track) GetDurationSeconds() int {
	return t.DurationMs / 1000
}

// SearchQuery builds the YouTube lookup for an already mapped track
func SearchQuery(track entities.Track) string {
	if track.Artist == "" {
		return track.Title
	}
	return track.Artist + " - " + track.Title
}

// IsSpotifyURL checks if URL is a Spotify URL
func IsSpotifyURL(urlStr string) bool {
	return strings.Contains(urlStr, "spotify.com/")
}

// ParseSpotifyURL parses a Spotify URL and returns the type and ID
func ParseSpotifyURL(urlStr string) (urlType, id string, err error) {
	if matches := trackRegex.FindStringSubmatch(urlStr); len(matches) > 1 {
		return "track", matches[1], nil
	}
	if matches := playlistRegex.FindStringSubmatch(urlStr); len(matches) > 1 {
		return "playlist", matches[1], nil
	}
	if matches := albumRegex.FindStringSubmatch(urlStr); len(matches) > 1 {
		return "album", matches[1], nil
	}
	return "", "", ErrInvalidURL
}
