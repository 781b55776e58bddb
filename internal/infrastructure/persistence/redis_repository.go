package persistence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/z3i0/MusicBot/internal/domain/repositories"
)

const sessionsKey = "musicbot:%s:sessions" // Hash: guildID -> record JSON

// RedisSessionRepository keeps every record of a bot in one hash
type RedisSessionRepository struct {
	client *redis.Client
	key    string
}

var _ repositories.SessionRepository = (*RedisSessionRepository)(nil)

// RedisConfig holds connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisSessionRepository wraps a shared client
func NewRedisSessionRepository(client *redis.Client, bot string) *RedisSessionRepository {
	return &RedisSessionRepository{
		client: client,
		key:    fmt.Sprintf(sessionsKey, bot),
	}
}

func (r *RedisSessionRepository) Put(ctx context.Context, guildID string, data []byte) error {
	if err := r.client.HSet(ctx, r.key, guildID, data).Err(); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, guildID string) error {
	if err := r.client.HDel(ctx, r.key, guildID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) LoadAll(ctx context.Context) (map[string][]byte, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	records := make(map[string][]byte, len(values))
	for guildID, value := range values {
		records[guildID] = []byte(value)
	}
	return records, nil
}

// Close leaves the shared client open; its owner closes it
func (r *RedisSessionRepository) Close() error {
	return nil
}
