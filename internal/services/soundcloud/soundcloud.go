package soundcloud

import (
	"strings"

	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	"github.com/z3i0/MusicBot/internal/services/youtube"
	"github.com/z3i0/MusicBot/pkg/logger"
)

// Catalog searches SoundCloud through yt-dlp's scsearch extractor
var Catalog = youtube.Catalog{
	Platform:     valueobjects.PlatformSoundCloud,
	SearchPrefix: "scsearch",
	IsPlaylist:   IsPlaylistURL,
}

// NewService creates a SoundCloud resolver sharing the yt-dlp runner
func NewService(runner youtube.Runner, log *logger.Logger) *youtube.Service {
	return youtube.NewCatalogService(runner, Catalog, log)
}

// IsSoundCloudURL checks if the given URL is a SoundCloud URL
func IsSoundCloudURL(url string) bool {
	return strings.Contains(url, "soundcloud.com/")
}

// IsPlaylistURL checks if the URL is a SoundCloud playlist/set
func IsPlaylistURL(url string) bool {
	return IsSoundCloudURL(url) && strings.Contains(url, "/sets/")
}

// IsTrackURL checks if the URL is a single SoundCloud track
func IsTrackURL(url string) bool {
	return IsSoundCloudURL(url) && !IsPlaylistURL(url)
}
