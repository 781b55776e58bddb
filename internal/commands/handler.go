package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bwmarrin/discordgo"

	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/internal/services/playback"
	"github.com/z3i0/MusicBot/internal/services/resolver"
	"github.com/z3i0/MusicBot/pkg/logger"
)

// Backend is what the commands drive. The bot implements it.
type Backend interface {
	Resolve(ctx context.Context, query, guildID string) (resolver.Resolution, error)
	Session(guildID string) (*playback.Engine, bool)
	OpenSession(guildID, voiceChannelID, textChannelID string) *playback.Engine
	Join(ctx context.Context, guildID, channelID string) error
	Leave(ctx context.Context, guildID string) error
	SessionCount() int
	// EmergencyFlush persists every session after a crash
	EmergencyFlush()
}

// Handler routes slash commands to sessions
type Handler struct {
	session *discordgo.Session
	backend Backend
	name    string
	timeout time.Duration
	logger  *logger.Logger
}

// NewHandler creates a command handler for one bot
func NewHandler(session *discordgo.Session, backend Backend, botName string, log *logger.Logger) *Handler {
	return &Handler{
		session: session,
		backend: backend,
		name:    botName,
		timeout: 45 * time.Second,
		logger:  log,
	}
}

// RegisterCommands registers all slash commands with Discord
func (h *Handler) RegisterCommands() error {
	commands := GetCommands()

	_, err := h.session.ApplicationCommandBulkOverwrite(h.session.State.User.ID, "", commands)
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	h.logger.WithField("count", len(commands)).Info("✅ All commands registered")
	return nil
}

// HandleInteraction routes incoming interactions to appropriate handlers
func (h *Handler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithFields(map[string]interface{}{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("💥 Recovered from panic in command handler")
			h.backend.EmergencyFlush()
			_ = newReply(s, i).status(toneError, "An internal error occurred")
		}
	}()

	if i.GuildID == "" || i.Member == nil {
		return
	}

	if i.Type == discordgo.InteractionMessageComponent {
		h.handleButtonInteraction(s, i)
		return
	}

	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()

	h.logger.WithFields(map[string]interface{}{
		"command": data.Name,
		"guild":   i.GuildID,
		"user":    i.Member.User.Username,
	}).Info("Command received")

	var err error
	switch data.Name {
	case "play":
		err = h.handlePlay(s, i)
	case "pause":
		err = h.handlePause(s, i)
	case "resume":
		err = h.handleResume(s, i)
	case "skip":
		err = h.handleSkip(s, i)
	case "stop":
		err = h.handleStop(s, i)

	case "queue":
		err = h.handleQueue(s, i)
	case "nowplaying":
		err = h.handleNowPlaying(s, i)

	case "join":
		err = h.handleJoin(s, i)
	case "leave":
		err = h.handleLeave(s, i)
	case "stats":
		err = h.handleStats(s, i)
	case "help":
		err = h.handleHelp(s, i)

	default:
		err = newReply(s, i).status(toneError, "Unknown command")
	}

	if err != nil {
		h.logger.WithError(err).WithField("command", data.Name).Error("Command handler failed")
	}
}

// getUserVoiceChannel gets the user's current voice channel
func (h *Handler) getUserVoiceChannel(s *discordgo.Session, guildID, userID string) (string, error) {
	guild, err := s.State.Guild(guildID)
	if err != nil {
		return "", err
	}
	return voiceChannelOf(guild, userID)
}

func voiceChannelOf(guild *discordgo.Guild, userID string) (string, error) {
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, nil
		}
	}
	return "", apperrors.ErrNotInVoiceChannel
}

func (h *Handler) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}
