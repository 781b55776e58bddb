package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/z3i0/MusicBot/internal/bot"
	"github.com/z3i0/MusicBot/internal/config"
	"github.com/z3i0/MusicBot/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "musicbot",
	Short:         "Multi-tenant Discord music bot with persistent sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and builds the process logger from it
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	return cfg, log, nil
}

// botsFor returns the named bot, or every bot when name is empty
func botsFor(cfg *config.Config, name string) ([]config.BotConfig, error) {
	if name == "" {
		return cfg.Bots, nil
	}
	b, ok := cfg.Bot(name)
	if !ok {
		return nil, fmt.Errorf("no bot named %q is configured", name)
	}
	return []config.BotConfig{b}, nil
}

func run(_ *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info("Starting Discord Music Bot")
	log.WithFields(map[string]interface{}{
		"bots":    len(cfg.Bots),
		"backend": cfg.StateBackend,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fleet, err := bot.NewFleet(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create bots: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(map[string]interface{}{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("💥 Fatal panic, flushing sessions")
			fleet.EmergencyFlush()
			panic(r)
		}
	}()

	if err := fleet.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bots: %w", err)
	}

	log.Info("✅ Bot is now running. Press CTRL-C to exit.")
	<-ctx.Done()

	log.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownFlushTimeout+10*time.Second)
	defer cancel()
	fleet.Stop(shutdownCtx)

	log.Info("Bot stopped successfully")
	return nil
}
