package valueobjects

// Platform identifies the catalog a track was resolved from
type Platform string

const (
	PlatformYouTube    Platform = "youtube"
	PlatformSpotify    Platform = "spotify"
	PlatformSoundCloud Platform = "soundcloud"
	PlatformDirect     Platform = "direct"
	PlatformUnknown    Platform = "unknown"
)

// String returns the string representation
func (p Platform) String() string {
	return string(p)
}

// IsValid checks if the platform is known
func (p Platform) IsValid() bool {
	switch p {
	case PlatformYouTube, PlatformSpotify, PlatformSoundCloud, PlatformDirect, PlatformUnknown:
		return true
	}
	return false
}
