package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/z3i0/MusicBot/internal/domain/repositories"
)

const recordExt = ".json"

// FileSessionRepository stores one JSON file per guild
type FileSessionRepository struct {
	basePath string
}

var _ repositories.SessionRepository = (*FileSessionRepository)(nil)

// NewFileSessionRepository creates the directory if needed
func NewFileSessionRepository(basePath string) (*FileSessionRepository, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &FileSessionRepository{
		basePath: basePath,
	}, nil
}

// Put writes the record with an atomic temp file and rename
func (r *FileSessionRepository) Put(_ context.Context, guildID string, data []byte) error {
	filePath, err := r.getFilePath(guildID)
	if err != nil {
		return err
	}

	file, err := os.CreateTemp(r.basePath, guildID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write record: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Rename for atomicity
	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Delete removes the guild's file
func (r *FileSessionRepository) Delete(_ context.Context, guildID string) error {
	filePath, err := r.getFilePath(guildID)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// LoadAll reads every record file; unreadable files are skipped
func (r *FileSessionRepository) LoadAll(_ context.Context) (map[string][]byte, error) {
	files, err := os.ReadDir(r.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]byte{}, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	records := make(map[string][]byte)
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.basePath, name))
		if err != nil {
			continue
		}
		records[strings.TrimSuffix(name, recordExt)] = data
	}

	return records, nil
}

// Close is a no-op for files
func (r *FileSessionRepository) Close() error {
	return nil
}

func (r *FileSessionRepository) getFilePath(guildID string) (string, error) {
	if guildID == "" || strings.ContainsAny(guildID, `/\.`) {
		return "", fmt.Errorf("invalid guild id %q", guildID)
	}
	return filepath.Join(r.basePath, guildID+recordExt), nil
}
