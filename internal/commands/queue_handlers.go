package commands

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	apperrors "github.com/z3i0/MusicBot/internal/errors"
)

// handleQueue handles the queue command
func (h *Handler) handleQueue(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	var state entities.PlaybackState
	if engine, ok := h.backend.Session(i.GuildID); ok {
		state = engine.State()
	}

	embed, components := buildQueuePage(state, 0)
	return newReply(s, i).send(embed, components...)
}

// handleNowPlaying handles the nowplaying command
func (h *Handler) handleNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	r := newReply(s, i)
	engine, ok := h.backend.Session(i.GuildID)
	if !ok {
		return r.fail(apperrors.ErrNotPlaying)
	}
	embed := nowPlayingEmbed(engine.State())
	if embed == nil {
		return r.fail(apperrors.ErrNotPlaying)
	}
	return r.send(embed)
}

func nowPlayingEmbed(state entities.PlaybackState) *discordgo.MessageEmbed {
	track := state.CurrentTrack
	if track == nil {
		return nil
	}

	embed := card("Now Playing", fmt.Sprintf("**%s**", track.Title), toneNeutral,
		field("Position", progress(state.PositionMs, track.DurationSeconds)),
		field("Artist", track.Artist),
		field("Status", fmt.Sprintf("%s %s", statusIcon(state.Status), state.Status)),
	)
	embed.Thumbnail = thumbnail(track.ThumbnailURL)
	embed.Footer = footer(fmt.Sprintf("%s • %d more in queue", track.Platform, len(state.Queue)))
	return embed
}

// progress renders "m:ss / m:ss"
func progress(positionMs int64, durationSeconds int) string {
	pos := clockFormat(time.Duration(positionMs) * time.Millisecond)
	if durationSeconds <= 0 {
		return pos
	}
	return pos + " / " + clockFormat(time.Duration(durationSeconds)*time.Second)
}

func clockFormat(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
