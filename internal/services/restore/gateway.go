package restore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	apperrors "github.com/z3i0/MusicBot/internal/errors"
)

// DiscordGateway answers lookups from the session state cache and falls
// back to the REST API
type DiscordGateway struct {
	session *discordgo.Session
}

// NewDiscordGateway wraps a connected session
func NewDiscordGateway(session *discordgo.Session) *DiscordGateway {
	return &DiscordGateway{session: session}
}

// Guild reports whether the bot can see the guild
func (g *DiscordGateway) Guild(ctx context.Context, guildID string) error {
	if g.session.State != nil {
		if _, err := g.session.State.Guild(guildID); err == nil {
			return nil
		}
	}
	if _, err := g.session.Guild(guildID, discordgo.WithContext(ctx)); err != nil {
		return classify(err, apperrors.ErrGuildNotFound)
	}
	return nil
}

// Channel returns the channel's guild and kind
func (g *DiscordGateway) Channel(ctx context.Context, channelID string) (ChannelInfo, error) {
	var ch *discordgo.Channel
	if g.session.State != nil {
		ch, _ = g.session.State.Channel(channelID)
	}
	if ch == nil {
		var err error
		ch, err = g.session.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			return ChannelInfo{}, classify(err, apperrors.ErrChannelNotFound)
		}
	}
	return ChannelInfo{ID: ch.ID, GuildID: ch.GuildID, Kind: KindOf(ch.Type)}, nil
}

// KindOf maps discord channel types
func KindOf(t discordgo.ChannelType) ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
		return KindVoice
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return KindText
	}
	return KindOther
}

// classify turns 403/404 responses into notFound
func classify(err error, notFound error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusForbidden:
			return fmt.Errorf("%w: %v", notFound, err)
		}
	}
	return err
}
