package commands

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/internal/services/playback"
	"github.com/z3i0/MusicBot/internal/services/resolver"
	"github.com/z3i0/MusicBot/internal/validation"
)

// handlePlay resolves the query and enqueues the result
func (h *Handler) handlePlay(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	r := newReply(s, i)
	if err := r.hold(); err != nil {
		return err
	}

	query, now := playOptions(i.ApplicationCommandData().Options)
	query, err := validation.ValidateQuery(query)
	if err != nil {
		return r.fail(err)
	}

	channelID, err := h.getUserVoiceChannel(s, i.GuildID, i.Member.User.ID)
	if err != nil {
		return r.fail(apperrors.ErrNotInVoiceChannel)
	}

	ctx, cancel := h.context()
	defer cancel()

	res, err := h.backend.Resolve(ctx, query, i.GuildID)
	if err != nil {
		h.logger.ForGuild(i.GuildID).WithError(err).WithField("query", query).Warn("Resolution failed")
		return r.fail(err)
	}

	engine := h.backend.OpenSession(i.GuildID, channelID, i.ChannelID)
	if current := engine.VoiceChannelID(); current != "" && current != channelID {
		if active(engine.State().Status) {
			return r.fail(apperrors.ErrDifferentChannel)
		}
		if err := engine.Rejoin(ctx, channelID); err != nil {
			return r.fail(err)
		}
	}

	out, err := engine.Enqueue(ctx, res.Tracks, playback.EnqueueOptions{PlayNow: now})
	if err != nil {
		return r.fail(err)
	}

	embed := card(enqueueTitle(out), enqueueMessage(res, out), toneOK)
	embed.Footer = footer("Use /queue to view the queue")
	if len(res.Tracks) == 1 {
		embed.Thumbnail = thumbnail(res.Tracks[0].ThumbnailURL)
	}
	return r.send(embed)
}

func playOptions(options []*discordgo.ApplicationCommandInteractionDataOption) (query string, now bool) {
	for _, opt := range options {
		switch opt.Name {
		case "query":
			query = opt.StringValue()
		case "now":
			now = opt.BoolValue()
		}
	}
	return query, now
}

func active(status valueobjects.PlaybackStatus) bool {
	return status == valueobjects.StatusPlaying ||
		status == valueobjects.StatusPaused ||
		status == valueobjects.StatusResolving
}

func enqueueTitle(out playback.EnqueueResult) string {
	if out.Started {
		return "🎵 Now Playing"
	}
	return "🎵 Added to Queue"
}

// enqueueMessage describes what an enqueue did
func enqueueMessage(res resolver.Resolution, out playback.EnqueueResult) string {
	var msg string
	switch {
	case out.Added == 0:
		return "Everything is already in the queue"
	case res.IsPlaylist:
		msg = fmt.Sprintf("Added **%d** tracks from the playlist", out.Added)
	default:
		t := res.Tracks[0]
		msg = fmt.Sprintf("**%s**", truncate(t.DisplayName(), 80))
		if t.DurationSeconds > 0 {
			msg += fmt.Sprintf(" `[%s]`", t.DurationFormatted())
		}
	}
	if out.Dropped > 0 {
		msg += fmt.Sprintf("\n%d skipped (duplicate or queue full)", out.Dropped)
	}
	return msg
}

// handlePause handles the pause command
func (h *Handler) handlePause(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return h.simple(s, i, "⏸️ Paused", "Nothing is playing", func(e *playback.Engine) (playback.Result, error) {
		ctx, cancel := h.context()
		defer cancel()
		return e.Pause(ctx)
	})
}

// handleResume handles the resume command
func (h *Handler) handleResume(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return h.simple(s, i, "▶️ Resumed", "Playback is not paused", func(e *playback.Engine) (playback.Result, error) {
		ctx, cancel := h.context()
		defer cancel()
		return e.Resume(ctx)
	})
}

// handleSkip handles the skip command
func (h *Handler) handleSkip(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return h.simple(s, i, "⏭️ Skipped", "Nothing to skip", func(e *playback.Engine) (playback.Result, error) {
		ctx, cancel := h.context()
		defer cancel()
		return e.Skip(ctx)
	})
}

// handleStop handles the stop command
func (h *Handler) handleStop(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return h.simple(s, i, "⏹️ Stopped and cleared the queue", "Already stopped", func(e *playback.Engine) (playback.Result, error) {
		ctx, cancel := h.context()
		defer cancel()
		return e.Stop(ctx)
	})
}

// simple runs a no-argument engine operation and reports its result
func (h *Handler) simple(s *discordgo.Session, i *discordgo.InteractionCreate, applied, noEffect string, op func(*playback.Engine) (playback.Result, error)) error {
	r := newReply(s, i)
	engine, ok := h.backend.Session(i.GuildID)
	if !ok {
		return r.fail(apperrors.ErrSessionNotFound)
	}

	res, err := op(engine)
	if err != nil {
		return r.fail(err)
	}
	if res == playback.NoEffect {
		return r.status(toneInfo, noEffect)
	}
	return r.status(toneOK, applied)
}

func truncate(s string, n int) string {
	return validation.TruncateString(s, n)
}
