package persistence_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/z3i0/MusicBot/internal/database"
	"github.com/z3i0/MusicBot/internal/domain/repositories"
	"github.com/z3i0/MusicBot/internal/infrastructure/persistence"
	"github.com/z3i0/MusicBot/pkg/logger"
)

func exerciseRepository(t *testing.T, repo repositories.SessionRepository) {
	t.Helper()
	ctx := context.Background()

	if err := repo.Put(ctx, "111", []byte(`{"voiceChannelId":"v1"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := repo.Put(ctx, "111", []byte(`{"voiceChannelId":"v2"}`)); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	if err := repo.Put(ctx, "222", []byte(`{"voiceChannelId":"v3"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	records, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if string(records["111"]) != `{"voiceChannelId": "v2"}` && string(records["111"]) != `{"voiceChannelId":"v2"}` {
		t.Errorf("Expected latest record, got %s", records["111"])
	}

	if err := repo.Delete(ctx, "111"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := repo.Delete(ctx, "111"); err != nil {
		t.Errorf("Delete of missing record should succeed, got %v", err)
	}

	records, err = repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if _, ok := records["111"]; ok || len(records) != 1 {
		t.Errorf("Unexpected records after delete: %v", records)
	}
}

func TestFileSessionRepository(t *testing.T) {
	repo, err := persistence.NewFileSessionRepository(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	exerciseRepository(t, repo)
}

func TestFileSessionRepositoryIgnoresTempFiles(t *testing.T) {
	dir := t.TempDir()
	repo, err := persistence.NewFileSessionRepository(dir)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	// A crash mid-write leaves only a temp file behind
	if err := os.WriteFile(filepath.Join(dir, "333.123.tmp"), []byte("{half"), 0644); err != nil {
		t.Fatal(err)
	}

	records, err := repo.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected temp file to be ignored, got %v", records)
	}
}

func TestFileSessionRepositoryRejectsPathGuildID(t *testing.T) {
	repo, err := persistence.NewFileSessionRepository(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	if err := repo.Put(context.Background(), "../escape", []byte("{}")); err == nil {
		t.Error("Expected error for path-like guild id")
	}
}

func TestPostgresSessionRepository(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skipf("TEST_DATABASE_URL not set, skipping postgres test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Open(ctx, database.Options{URL: url, MaxConns: 2}, logger.Discard())
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	defer db.Close()

	// a second open finds nothing to migrate
	again, err := database.Open(ctx, database.Options{URL: url}, logger.Discard())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	again.Close()

	bot := "test-" + time.Now().Format("150405.000")
	repo := persistence.NewPostgresSessionRepository(db, bot)
	exerciseRepository(t, repo)
	_ = repo.Delete(ctx, "222")
}

func TestRedisSessionRepository(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skipf("TEST_REDIS_ADDR not set, skipping redis test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := persistence.NewRedisClient(ctx, persistence.RedisConfig{Addr: addr})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer client.Close()

	bot := "test-" + time.Now().Format("150405.000")
	repo := persistence.NewRedisSessionRepository(client, bot)
	exerciseRepository(t, repo)
	_ = repo.Delete(ctx, "222")
}
