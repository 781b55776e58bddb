package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/z3i0/MusicBot/pkg/logger"
)

// ProtectedSource reports the cache files live or restoring sessions still need
type ProtectedSource interface {
	ProtectedCacheFiles() map[string]struct{}
}

// Union protects every file any of its sources protects
type Union []ProtectedSource

// ProtectedCacheFiles merges the sources
func (u Union) ProtectedCacheFiles() map[string]struct{} {
	out := make(map[string]struct{})
	for _, src := range u {
		for path := range src.ProtectedCacheFiles() {
			out[path] = struct{}{}
		}
	}
	return out
}

// SweepResult summarizes one janitor run
type SweepResult struct {
	Deleted int
	Kept    int
	Failed  int
}

// Janitor deletes cache files no session references. It must only run
// after startup restore has registered every session it intends to keep.
type Janitor struct {
	layout    Layout
	protected ProtectedSource
	logger    *logger.Logger
}

// NewJanitor creates a janitor for one bot's cache directory
func NewJanitor(layout Layout, protected ProtectedSource, log *logger.Logger) *Janitor {
	return &Janitor{
		layout:    layout,
		protected: protected,
		logger:    log,
	}
}

// Sweep runs once; per-file failures are logged and counted
func (j *Janitor) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	dir := j.layout.Dir()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return result, fmt.Errorf("failed to create cache directory: %w", err)
		}
		j.logger.WithField("dir", dir).Info("Created cache directory")
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("failed to read cache directory: %w", err)
	}

	protected := j.protected.ProtectedCacheFiles()

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if _, ok := protected[path]; ok {
			result.Kept++
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			j.logger.WithError(err).WithField("file", path).Warn("Failed to delete cache file")
			result.Failed++
			continue
		}
		result.Deleted++
	}

	j.logger.WithFields(map[string]interface{}{
		"deleted": result.Deleted,
		"kept":    result.Kept,
		"failed":  result.Failed,
	}).Info("🧹 Cache sweep completed")

	return result, nil
}
