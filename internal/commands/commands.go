package commands

import "github.com/bwmarrin/discordgo"

// GetCommands returns all slash command definitions
func GetCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		// Playback commands
		{
			Name:        "play",
			Description: "Play music from YouTube, Spotify, SoundCloud, a direct link, or a search query",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "URL (YouTube/Spotify/SoundCloud/direct) or search query",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "now",
					Description: "Play immediately instead of adding to the end of the queue",
					Required:    false,
				},
			},
		},
		{
			Name:        "pause",
			Description: "Pause the current playback",
		},
		{
			Name:        "resume",
			Description: "Resume paused playback",
		},
		{
			Name:        "skip",
			Description: "Skip to the next song",
		},
		{
			Name:        "stop",
			Description: "Stop playback and clear the queue",
		},

		// Queue commands
		{
			Name:        "queue",
			Description: "Display the current song queue",
		},
		{
			Name:        "nowplaying",
			Description: "Show information about the currently playing song",
		},

		// Utility commands
		{
			Name:        "join",
			Description: "Join your current voice channel",
		},
		{
			Name:        "leave",
			Description: "Leave voice channel and clear all state",
		},
		{
			Name:        "stats",
			Description: "Display bot statistics and status",
		},
		{
			Name:        "help",
			Description: "Show all available commands and usage",
		},
	}
}
