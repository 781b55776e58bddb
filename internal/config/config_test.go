package config

import (
	"strings"
	"testing"
	"time"
)

const testToken = "MTAxMjM0NTY3ODkwMTIzNDU2Nw.GaBcDe.abcdefghijklmnopqrstuvwxyz012345"

func TestLoadSingleBot(t *testing.T) {
	t.Setenv("BOTS", "")
	t.Setenv("BOT_TOKEN", testToken)
	t.Setenv("AUTO_JOIN_GUILD", "g1")
	t.Setenv("AUTO_JOIN_CHANNEL", "v1")
	t.Setenv("STATE_BACKEND", "")
	t.Setenv("POSTGRES_MAX_CONNS", "8")
	t.Setenv("POSTGRES_TIMEOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBMaxConns != 8 || cfg.DBTimeout != 5*time.Second {
		t.Errorf("Unexpected database pool settings %d %s", cfg.DBMaxConns, cfg.DBTimeout)
	}

	if len(cfg.Bots) != 1 {
		t.Fatalf("Expected 1 bot, got %d", len(cfg.Bots))
	}
	bot := cfg.Bots[0]
	if bot.Token != testToken || bot.AutoJoinGuild != "g1" || bot.AutoJoinChannel != "v1" {
		t.Errorf("Unexpected bot config %+v", bot)
	}
	if cfg.StateBackend != BackendFile {
		t.Errorf("Expected file backend by default, got %s", cfg.StateBackend)
	}
}

func TestLoadMultipleBots(t *testing.T) {
	t.Setenv("BOTS", "alpha, Beta-Two")
	t.Setenv("ALPHA_TOKEN", testToken)
	t.Setenv("BETA_TWO_TOKEN", testToken)
	t.Setenv("BETA_TWO_AUTO_JOIN_GUILD", "g2")
	t.Setenv("STATE_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Bots) != 2 {
		t.Fatalf("Expected 2 bots, got %d", len(cfg.Bots))
	}
	beta, ok := cfg.Bot("beta-two")
	if !ok {
		t.Fatal("Expected beta-two bot")
	}
	if beta.AutoJoinGuild != "g2" {
		t.Errorf("Expected auto join guild g2, got %q", beta.AutoJoinGuild)
	}
	if !strings.HasSuffix(beta.CacheDir("/cache"), "beta-two") {
		t.Errorf("Expected namespaced cache dir, got %s", beta.CacheDir("/cache"))
	}
}

func TestLoadMissingToken(t *testing.T) {
	t.Setenv("BOTS", "alpha")
	t.Setenv("ALPHA_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Error("Expected error for missing token")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"file", Config{StateBackend: BackendFile, RestoreAttempts: 1, ResolveAttempts: 1}, false},
		{"postgres without url", Config{StateBackend: BackendPostgres, RestoreAttempts: 1, ResolveAttempts: 1}, true},
		{"unknown backend", Config{StateBackend: "etcd", RestoreAttempts: 1, ResolveAttempts: 1}, true},
		{"zero attempts", Config{StateBackend: BackendFile, ResolveAttempts: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "1500")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s, got %v", got)
	}

	t.Setenv("TEST_DURATION", "2m")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 2*time.Minute {
		t.Errorf("Expected 2m, got %v", got)
	}

	t.Setenv("TEST_DURATION", "soon")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("Expected default, got %v", got)
	}
}
