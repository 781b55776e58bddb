package cache

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/z3i0/MusicBot/internal/domain/entities"
)

// FileExt is the container every cached payload is stored in
const FileExt = ".ogg"

// Layout derives stable file names inside one bot's cache directory
type Layout struct {
	dir string
}

// NewLayout resolves dir to an absolute, cleaned path
func NewLayout(dir string) Layout {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return Layout{dir: filepath.Clean(dir)}
}

// Dir returns the cache directory
func (l Layout) Dir() string {
	return l.dir
}

// FileName returns <platform>-<sanitized id>.ogg
func FileName(track entities.Track) string {
	platform := string(track.Platform)
	if platform == "" {
		platform = "unknown"
	}
	return platform + "-" + sanitize(track.ID) + FileExt
}

// PathFor returns where the track's payload lives when cached
func (l Layout) PathFor(track entities.Track) string {
	return filepath.Join(l.dir, FileName(track))
}

// Cached returns the payload path if it exists
func (l Layout) Cached(track entities.Track) (string, bool) {
	if track.ID == "" {
		return "", false
	}
	path := l.PathFor(track)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return "", false
	}
	return path, true
}

// Contains reports whether path is a file directly inside the directory
func (l Layout) Contains(path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	return filepath.Dir(filepath.Clean(path)) == l.dir
}

// ReferencedPaths lists the cache files a record points at: the derived path
// of every track plus any stream locator that already names a local file
func (l Layout) ReferencedPaths(rec *entities.SessionRecord) []string {
	if rec == nil {
		return nil
	}

	var paths []string
	for _, track := range rec.Tracks() {
		if track.ID != "" {
			paths = append(paths, l.PathFor(track))
		}
		if l.Contains(track.StreamLocator) {
			paths = append(paths, filepath.Clean(track.StreamLocator))
		}
	}
	return paths
}

func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
