package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/z3i0/MusicBot/internal/bot"
	"github.com/z3i0/MusicBot/internal/services/cache"
	"github.com/z3i0/MusicBot/internal/services/statestore"
)

var sweepBot string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete cached audio no saved session references",
	Long: `Loads each bot's saved sessions and removes every file in that bot's cache
directory the sessions do not point at. Run it while the bots are stopped;
a running bot sweeps its own cache after startup restore.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		bots, err := botsFor(cfg, sweepBot)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		backends, err := bot.OpenBackends(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer backends.Close()

		for _, botCfg := range bots {
			repo, err := backends.Repository(botCfg.Name)
			if err != nil {
				return err
			}

			layout := cache.NewLayout(botCfg.CacheDir(cfg.CacheDir))
			store := statestore.New(repo, statestore.Config{Layout: layout}, log)

			// Loading registers every record with the store, which is what
			// protects their files from the sweep.
			if _, err := store.LoadAll(ctx); err != nil {
				return fmt.Errorf("bot %s: refusing to sweep without session records: %w", botCfg.Name, err)
			}

			result, err := cache.NewJanitor(layout, store, log.Named(botCfg.Name)).Sweep(ctx)
			if err != nil {
				return fmt.Errorf("bot %s: %w", botCfg.Name, err)
			}
			fmt.Printf("%s: deleted %d, kept %d, failed %d\n", botCfg.Name, result.Deleted, result.Kept, result.Failed)
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().StringVar(&sweepBot, "bot", "", "only sweep this bot's cache")
	rootCmd.AddCommand(sweepCmd)
}
