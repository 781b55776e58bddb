package commands

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	apperrors "github.com/z3i0/MusicBot/internal/errors"
)

// handleJoin handles the join command
func (h *Handler) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	r := newReply(s, i)
	channelID, err := h.getUserVoiceChannel(s, i.GuildID, i.Member.User.ID)
	if err != nil {
		return r.fail(apperrors.ErrNotInVoiceChannel)
	}
	if err := r.hold(); err != nil {
		return err
	}

	ctx, cancel := h.context()
	defer cancel()

	if engine, ok := h.backend.Session(i.GuildID); ok {
		err = engine.Rejoin(ctx, channelID)
	} else {
		err = h.backend.Join(ctx, i.GuildID, channelID)
	}
	if err != nil {
		return r.fail(err)
	}

	embed := card("🔊 Connected", "Successfully joined your voice channel", toneOK)
	embed.Footer = footer("Use /play to start playing music")
	return r.send(embed)
}

// handleLeave stops the session, disconnects and forgets the saved state
func (h *Handler) handleLeave(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	ctx, cancel := h.context()
	defer cancel()

	r := newReply(s, i)
	if err := h.backend.Leave(ctx, i.GuildID); err != nil {
		return r.fail(err)
	}
	return r.send(card("👋 Disconnected", "Left the voice channel and cleared all playback state", toneInfo))
}

// handleStats handles the stats command
func (h *Handler) handleStats(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	guildCount := len(s.State.Guilds)
	latency := s.HeartbeatLatency().Milliseconds()

	latencyStatus := "🟢 Excellent"
	if latency > 200 {
		latencyStatus = "🔴 Poor"
	} else if latency > 100 {
		latencyStatus = "🟡 Moderate"
	}

	embed := card("Bot Statistics", "", toneNeutral,
		field("Servers", fmt.Sprintf("%d", guildCount)),
		field("Active Sessions", fmt.Sprintf("%d", h.backend.SessionCount())),
		field("Latency", fmt.Sprintf("%dms %s", latency, latencyStatus)),
	)
	embed.Footer = footer(h.name)
	embed.Timestamp = time.Now().Format(time.RFC3339)
	return newReply(s, i).send(embed)
}

// handleHelp handles the help command
func (h *Handler) handleHelp(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	embed := card(h.name, "", toneNeutral,
		section("Basic",
			"> **`/join` - Join voice channel**\n"+
				"> **`/leave` - Leave and clear state**"),
		section("Playback",
			"> **`/play <query> [now]` - Play a song or playlist**\n"+
				"> **`/pause` - Pause playback**\n"+
				"> **`/resume` - Resume playback**\n"+
				"> **`/skip` - Skip current song**\n"+
				"> **`/stop` - Stop and clear queue**"),
		section("Queue",
			"> **`/queue` - View current queue**\n"+
				"> **`/nowplaying` - Current song info**"),
		section("Utility",
			"> **`/stats` - Bot statistics**\n"+
				"> **`/help` - Show this help**"),
	)
	embed.Footer = footer("Sessions survive restarts • Built with Go")
	return newReply(s, i).send(embed)
}
