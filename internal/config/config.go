package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// State backends
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	// Bots served by this process
	Bots []BotConfig

	// State persistence
	StateBackend string
	StateDir     string
	DatabaseURL  string
	DBMaxConns   int
	DBTimeout    time.Duration
	RedisAddr    string
	RedisPass    string
	RedisDB      int

	// Spotify
	SpotifyClientID     string
	SpotifyClientSecret string

	// Directories
	CacheDir string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Timing
	PersistDebounce      time.Duration
	RejoinDelay          time.Duration
	RestoreAttempts      int
	RestoreBackoff       time.Duration
	RestoreConcurrency   int
	ResolveAttempts      int
	ResolveRetryDelay    time.Duration
	ShutdownFlushTimeout time.Duration

	// Performance
	PrefetchEnabled      bool
	PrefetchWorkers      int
	MaxQueueSize         int
	CacheSizeMB          int
	CacheDurationMinutes int
}

// BotConfig is one bot identity and its private namespace
type BotConfig struct {
	Name            string
	Token           string
	AutoJoinGuild   string
	AutoJoinChannel string
}

// CacheDir returns the bot's private cache subdirectory
func (b BotConfig) CacheDir(root string) string {
	return filepath.Join(root, b.Name)
}

// GetSafeToken returns a masked version of the token for logging
func (b BotConfig) GetSafeToken() string {
	if len(b.Token) < 15 {
		return "***"
	}
	return b.Token[:10] + "..." + b.Token[len(b.Token)-4:]
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not exists)
	_ = godotenv.Load()

	bots, err := loadBots()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Bots: bots,

		// State persistence
		StateBackend: strings.ToLower(getEnvOrDefault("STATE_BACKEND", BackendFile)),
		StateDir:     getEnvOrDefault("STATE_DIR", "./state"),
		DatabaseURL:  databaseURL(),
		DBMaxConns:   getEnvInt("POSTGRES_MAX_CONNS", 4),
		DBTimeout:    getEnvDuration("POSTGRES_TIMEOUT", 5*time.Second),
		RedisAddr:    getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPass:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:      getEnvInt("REDIS_DB", 0),

		// Spotify
		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),

		// Directories
		CacheDir: getEnvOrDefault("CACHE_DIR", "./audio_cache"),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
		LogFile:   getEnvOrDefault("LOG_FILE", ""),

		// Timing
		PersistDebounce:      getEnvDuration("PERSIST_DEBOUNCE", 2*time.Second),
		RejoinDelay:          getEnvDuration("REJOIN_DELAY", 3*time.Second),
		RestoreAttempts:      getEnvInt("RESTORE_ATTEMPTS", 5),
		RestoreBackoff:       getEnvDuration("RESTORE_BACKOFF", 2*time.Second),
		RestoreConcurrency:   getEnvInt("RESTORE_CONCURRENCY", 4),
		ResolveAttempts:      getEnvInt("RESOLVE_ATTEMPTS", 3),
		ResolveRetryDelay:    getEnvDuration("RESOLVE_RETRY_DELAY", time.Second),
		ShutdownFlushTimeout: getEnvDuration("SHUTDOWN_FLUSH_TIMEOUT", 5*time.Second),

		// Performance
		PrefetchEnabled:      getEnvBool("PREFETCH", true),
		PrefetchWorkers:      getEnvInt("PREFETCH_WORKERS", 2),
		MaxQueueSize:         getEnvInt("MAX_QUEUE_SIZE", 100),
		CacheSizeMB:          getEnvInt("CACHE_SIZE_MB", 100),
		CacheDurationMinutes: getEnvInt("CACHE_DURATION_MINUTES", 360),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field settings
func (c *Config) Validate() error {
	switch c.StateBackend {
	case BackendFile:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STATE_BACKEND=postgres requires POSTGRES_HOST and POSTGRES_DB")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("STATE_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend)
	}

	if c.RestoreAttempts < 1 {
		return fmt.Errorf("RESTORE_ATTEMPTS must be at least 1")
	}
	if c.ResolveAttempts < 1 {
		return fmt.Errorf("RESOLVE_ATTEMPTS must be at least 1")
	}
	return nil
}

// Bot looks up a configured bot by name
func (c *Config) Bot(name string) (BotConfig, bool) {
	for _, b := range c.Bots {
		if b.Name == name {
			return b, true
		}
	}
	return BotConfig{}, false
}

func loadBots() ([]BotConfig, error) {
	names := splitList(os.Getenv("BOTS"))
	if len(names) == 0 {
		token := os.Getenv("BOT_TOKEN")
		if token == "" {
			return nil, fmt.Errorf("BOT_TOKEN environment variable is required")
		}
		if len(token) < 50 {
			return nil, fmt.Errorf("invalid BOT_TOKEN format (too short)")
		}
		return []BotConfig{{
			Name:            getEnvOrDefault("BOT_NAME", "default"),
			Token:           token,
			AutoJoinGuild:   os.Getenv("AUTO_JOIN_GUILD"),
			AutoJoinChannel: os.Getenv("AUTO_JOIN_CHANNEL"),
		}}, nil
	}

	bots := make([]BotConfig, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("bot %q is listed twice in BOTS", name)
		}
		seen[name] = true

		prefix := envPrefix(name)
		token := os.Getenv(prefix + "_TOKEN")
		if token == "" {
			return nil, fmt.Errorf("%s_TOKEN environment variable is required", prefix)
		}
		if len(token) < 50 {
			return nil, fmt.Errorf("invalid %s_TOKEN format (too short)", prefix)
		}

		bots = append(bots, BotConfig{
			Name:            name,
			Token:           token,
			AutoJoinGuild:   os.Getenv(prefix + "_AUTO_JOIN_GUILD"),
			AutoJoinChannel: os.Getenv(prefix + "_AUTO_JOIN_CHANNEL"),
		})
	}
	return bots, nil
}

func databaseURL() string {
	host := os.Getenv("POSTGRES_HOST")
	name := os.Getenv("POSTGRES_DB")
	if host == "" || name == "" {
		return os.Getenv("DATABASE_URL")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		getEnvOrDefault("POSTGRES_PORT", "5432"),
		name)
}

// Helper functions

func envPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare numbers are milliseconds
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "NO":
			return false
		}
	}
	return defaultValue
}
