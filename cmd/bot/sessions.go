package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/z3i0/MusicBot/internal/bot"
	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/internal/services/cache"
	"github.com/z3i0/MusicBot/internal/services/statestore"
)

var sessionsBot string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted sessions",
	Long:  `Reads every bot's saved session records from the configured state backend and prints them.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		bots, err := botsFor(cfg, sessionsBot)
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

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BOT\tGUILD\tSTATUS\tVOICE\tCURRENT\tQUEUED\tUPDATED")

		for _, botCfg := range bots {
			repo, err := backends.Repository(botCfg.Name)
			if err != nil {
				return err
			}
			store := statestore.New(repo, statestore.Config{
				Layout: cache.NewLayout(botCfg.CacheDir(cfg.CacheDir)),
			}, log)

			records, err := store.LoadAll(ctx)
			if err != nil {
				return fmt.Errorf("bot %s: %w", botCfg.Name, err)
			}

			guilds := make([]string, 0, len(records))
			for guildID := range records {
				guilds = append(guilds, guildID)
			}
			sort.Strings(guilds)

			for _, guildID := range guilds {
				rec := records[guildID]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					botCfg.Name, guildID, rec.Status, rec.VoiceChannelID,
					currentTitle(rec), len(rec.Queue),
					rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			}
		}

		return w.Flush()
	},
}

func currentTitle(rec *entities.SessionRecord) string {
	if rec.CurrentTrack == nil {
		return "-"
	}
	name := []rune(rec.CurrentTrack.DisplayName())
	if len(name) > 40 {
		return string(name[:37]) + "..."
	}
	return string(name)
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsBot, "bot", "", "only list sessions of this bot")
	rootCmd.AddCommand(sessionsCmd)
}
